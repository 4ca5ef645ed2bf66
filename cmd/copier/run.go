package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trade-copier-go/broker/mtbridge"
	"trade-copier-go/config"
	"trade-copier-go/copier"
	"trade-copier-go/infrastructure/logger"
	"trade-copier-go/journal"
	"trade-copier-go/metrics"
)

func newRunCmd(cfgPath *string) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the reconciliation loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(*cfgPath, yes)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the algo-trading confirmation prompt")
	return cmd
}

func run(cfgPath string, yes bool) error {
	cfg, err := config.LoadWithEnvOverrides(cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if werr := config.WriteDefault(cfgPath); werr != nil {
				return fmt.Errorf("write default config: %w", werr)
			}
			return fmt.Errorf("%s created, fill in the account credentials and rerun", cfgPath)
		}
		return err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Close()

	if cfg.MetricsAddr != "" {
		metrics.StartMetricsServer(cfg.MetricsAddr)
	}

	fixedVolume, err := cfg.Copier.FixedVolumeDecimal()
	if err != nil {
		return err
	}
	strategy := copier.SizingProportional
	if cfg.Copier.Sizing == "fixed" {
		strategy = copier.SizingFixed
	}
	sizer, err := copier.NewSizer(strategy, fixedVolume)
	if err != nil {
		return err
	}

	var ledgerJournal copier.Journal
	if cfg.Copier.JournalPath != "" {
		j, err := journal.NewSQLite(cfg.Copier.JournalPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		ledgerJournal = j
	}

	session := mtbridge.New(cfg.Bridge.Endpoint, cfg.Bridge.Timeout())
	defer session.Close()

	if !yes {
		if err := confirmAlgoTrading(); err != nil {
			return err
		}
	}

	loop := copier.NewLoop(copier.LoopConfig{
		Session: session,
		Master:  cfg.Accounts.Master,
		Slave:   cfg.Accounts.Slave,
		Sizer:   sizer,
		Journal: ledgerJournal,
		Logger:  log,
		Settings: copier.Settings{
			PollInterval: cfg.Copier.PollInterval(),
			Deviation:    cfg.Copier.Deviation,
			Comment:      cfg.Copier.Comment,
		},
		Symbols: cfg.Copier.Symbols,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		w := config.Watcher{Path: cfgPath}
		_ = w.Start(ctx, func(updated config.AppConfig) {
			loop.UpdateSettings(copier.Settings{
				PollInterval: updated.Copier.PollInterval(),
				Deviation:    updated.Copier.Deviation,
				Comment:      updated.Copier.Comment,
			})
			log.Info("runtime settings reloaded")
		})
	}()

	log.Info("reconciliation loop starting",
		zap.Int64("master", cfg.Accounts.Master.Login),
		zap.Int64("slave", cfg.Accounts.Slave.Login),
		zap.String("sizing", string(strategy)),
	)
	if err := loop.Run(ctx); err != nil {
		log.LogError(err, map[string]interface{}{"state": string(loop.State())})
		return err
	}
	log.Info("stopped by operator")
	return nil
}

// confirmAlgoTrading is the one-time operator handshake: the terminal
// needs algo trading enabled before any order can be replayed.
func confirmAlgoTrading() error {
	fmt.Print("Press Enter once algo trading is enabled in both terminals... ")
	_, err := bufio.NewReader(os.Stdin).ReadString('\n')
	return err
}
