package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"trade-copier-go/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "copier",
		Short:         "Mirror trading activity from a master account onto a slave account",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "configs/copier.yaml", "config file path")

	root.AddCommand(
		newRunCmd(&cfgPath),
		newCheckCmd(&cfgPath),
	)
	return root
}

func newCheckCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithEnvOverrides(*cfgPath)
			if err != nil {
				return err
			}
			fmt.Printf("config ok: master %d@%s -> slave %d@%s, sizing %s\n",
				cfg.Accounts.Master.Login, cfg.Accounts.Master.Server,
				cfg.Accounts.Slave.Login, cfg.Accounts.Slave.Server,
				sizingName(cfg.Copier.Sizing))
			return nil
		},
	}
}

func sizingName(s string) string {
	if s == "" {
		return "proportional"
	}
	return s
}
