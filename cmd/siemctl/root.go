package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mini-siem/pkg/config"
	"mini-siem/pkg/logger"
	"mini-siem/pkg/store"
)

var version = "0.1.0"

type app struct {
	configPath string
	dbDriver   string
	dsn        string
	asJSON     bool
	stdout     io.Writer
	stderr     io.Writer
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{stdout: out, stderr: errOut}
	cmd := &cobra.Command{
		Use:           "siemctl",
		Short:         "Operate the mini SIEM: block list, stats, alerts and offline analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.SetLevel("warn")
		},
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to the daemon config YAML")
	cmd.PersistentFlags().StringVar(&a.dbDriver, "db-driver", "", "override store.driver (sqlite or postgres)")
	cmd.PersistentFlags().StringVar(&a.dsn, "db", "", "override store.dsn")
	cmd.PersistentFlags().BoolVar(&a.asJSON, "json", false, "print JSON instead of tables")

	cmd.AddCommand(
		newBlockCmd(a),
		newUnblockCmd(a),
		newBlocksCmd(a),
		newStatsCmd(a),
		newPurgeCmd(a),
		newAlertsCmd(a),
		newDetectionsCmd(a),
		newAnalyzeCmd(a),
		newParseCmd(a),
	)
	return cmd
}

func (a *app) config() (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	if a.dbDriver != "" {
		cfg.Store.Driver = a.dbDriver
	}
	if a.dsn != "" {
		cfg.Store.DSN = a.dsn
	}
	return cfg, nil
}

// openStore opens the configured store. An empty DSN would give a throwaway
// in-memory store, which is never what an operator command wants.
func (a *app) openStore(ctx context.Context) (store.Store, *config.Config, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store.DSN == "" {
		return nil, nil, fmt.Errorf("no store configured: set store.dsn or pass --db")
	}
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, nil, err
	}
	return st, cfg, nil
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
