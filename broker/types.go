package broker

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position.
type Side int

const (
	Long Side = iota
	Short
)

func (s Side) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

// Opposite returns the closing direction for a position on this side.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// Position is an immutable snapshot of one open position as reported
// by the terminal. StopLoss/TakeProfit of zero mean "not set", which
// matches the terminal wire convention.
type Position struct {
	Ticket     int64
	Symbol     string
	Side       Side
	Volume     decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	OpenTime   time.Time
}

// SymbolConstraints holds the per-symbol volume limits and margin rate.
// Looked up on the slave session before every replayed open; the
// terminal may change them between cycles, so they are never cached.
type SymbolConstraints struct {
	MinVolume  decimal.Decimal
	MaxVolume  decimal.Decimal
	VolumeStep decimal.Decimal
	MarginRate decimal.Decimal
}

// ValidateVolume checks alignment to VolumeStep and the min/max bounds.
func (c SymbolConstraints) ValidateVolume(volume decimal.Decimal) error {
	if volume.Sign() <= 0 {
		return fmt.Errorf("volume %s must be > 0", volume)
	}
	if c.VolumeStep.Sign() > 0 && !volume.Mod(c.VolumeStep).IsZero() {
		return fmt.Errorf("volume %s not aligned to step %s", volume, c.VolumeStep)
	}
	if c.MinVolume.Sign() > 0 && volume.LessThan(c.MinVolume) {
		return fmt.Errorf("volume %s < min %s", volume, c.MinVolume)
	}
	if c.MaxVolume.Sign() > 0 && volume.GreaterThan(c.MaxVolume) {
		return fmt.Errorf("volume %s > max %s", volume, c.MaxVolume)
	}
	return nil
}

// AccountState is the balance/margin view of one account, read at
// replay time.
type AccountState struct {
	Balance    decimal.Decimal
	FreeMargin decimal.Decimal
}

// Credentials identify one terminal account profile.
type Credentials struct {
	Login    int64  `yaml:"login"`
	Password string `yaml:"password"`
	Server   string `yaml:"server"`
}
