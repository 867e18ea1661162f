package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"assetlibrary/internal/app"
	"assetlibrary/internal/config"
	"assetlibrary/internal/logger"
)

var (
	flagConfig = &cli.StringFlag{
		Name:    "config",
		Usage:   "path to a yaml config file",
		EnvVars: []string{"ASSETLIBRARY_CONFIG"},
	}
	flagActor = &cli.StringFlag{
		Name:    "actor",
		Usage:   "name recorded in the audit log",
		EnvVars: []string{"ASSETCTL_ACTOR", "USER"},
		Value:   "cli",
	}
	flagVerbose = &cli.BoolFlag{
		Name:  "verbose",
		Usage: "log at debug level",
	}
	flagVariant = &cli.StringFlag{
		Name:  "variant",
		Usage: "limit the operation to one variant",
	}
)

func newCLI() *cli.App {
	return &cli.App{
		Name:                 "assetctl",
		Usage:                "Manage an asset library from the command line",
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			flagConfig,
			flagActor,
			flagVerbose,
		},
		Commands: []*cli.Command{
			publishCmd,
			versionsCmd,
			archiveCmd,
			promoteCmd,
			restoreAsCurrentCmd,
			retireCmd,
			restoreCmd,
			purgeCmd,
			syncCmd,
			reconcileCmd,
			backupCmd,
			migrateCmd,
			usageCmd,
			modeCmd,
			auditCmd,
		},
	}
}

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}

// withApp opens the library for the duration of one command.
func withApp(fn func(cctx *cli.Context, a *app.App) error) cli.ActionFunc {
	return func(cctx *cli.Context) error {
		cfg, err := config.NewConfig(cctx.String(flagConfig.Name))
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		level := cfg.Log.Level
		if cctx.Bool(flagVerbose.Name) {
			level = "debug"
		}
		log, err := logger.NewCLI(level)
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx := cctx.Context
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := app.New(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cctx, a)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireArgs(cctx *cli.Context, n int, usage string) error {
	if cctx.NArg() != n {
		return fmt.Errorf("usage: %s %s", cctx.Command.FullName(), usage)
	}
	return nil
}
