// Package journal persists the master->slave position mapping so a
// restarted copier does not mirror the same master position twice.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"trade-copier-go/copier"
)

const schema = `
CREATE TABLE IF NOT EXISTS mirrored (
	master_ticket INTEGER PRIMARY KEY,
	slave_ticket  INTEGER NOT NULL,
	stop_loss     TEXT NOT NULL,
	take_profit   TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);`

// SQLiteJournal implements copier.Journal on a local sqlite file.
type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) Load() (map[int64]copier.LedgerEntry, error) {
	rows, err := j.db.Query(`SELECT master_ticket, slave_ticket, stop_loss, take_profit FROM mirrored`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]copier.LedgerEntry)
	for rows.Next() {
		var masterTicket int64
		var entry copier.LedgerEntry
		var sl, tp string
		if err := rows.Scan(&masterTicket, &entry.SlaveTicket, &sl, &tp); err != nil {
			return nil, err
		}
		if entry.StopLoss, err = decimal.NewFromString(sl); err != nil {
			return nil, fmt.Errorf("ticket %d stop_loss: %w", masterTicket, err)
		}
		if entry.TakeProfit, err = decimal.NewFromString(tp); err != nil {
			return nil, fmt.Errorf("ticket %d take_profit: %w", masterTicket, err)
		}
		out[masterTicket] = entry
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Upsert(masterTicket int64, entry copier.LedgerEntry) error {
	_, err := j.db.Exec(`
		INSERT INTO mirrored (master_ticket, slave_ticket, stop_loss, take_profit, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(master_ticket) DO UPDATE SET
			slave_ticket = excluded.slave_ticket,
			stop_loss    = excluded.stop_loss,
			take_profit  = excluded.take_profit,
			updated_at   = excluded.updated_at`,
		masterTicket, entry.SlaveTicket, entry.StopLoss.String(), entry.TakeProfit.String(),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (j *SQLiteJournal) Remove(masterTicket int64) error {
	_, err := j.db.Exec(`DELETE FROM mirrored WHERE master_ticket = ?`, masterTicket)
	return err
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
