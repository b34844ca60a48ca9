// Command chequectl runs maintenance tasks against the cheques store: schema
// migration, the daily due sweep and an exposure snapshot.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-tr-cheques/internal/app"
	"github.com/pesio-ai/be-tr-cheques/internal/platform/config"
	"github.com/pesio-ai/be-tr-cheques/internal/platform/logger"
	"github.com/pesio-ai/be-tr-cheques/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:          "chequectl",
		Short:        "Maintenance commands for the cheques service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				return os.Setenv("ENV_FILE", envFile)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env)")

	root.AddCommand(newMigrateCmd(), newSweepDueCmd(), newExposureCmd())
	return root
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, app.NewLogger(cfg), nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != "postgres" {
				return fmt.Errorf("migrate needs STORAGE_DRIVER=postgres, got %s", cfg.Storage.Driver)
			}
			db, err := app.OpenDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			return app.Migrate(cmd.Context(), db, log)
		},
	}
}

func newSweepDueCmd() *cobra.Command {
	var (
		asOf  string
		actor string
	)
	cmd := &cobra.Command{
		Use:   "sweep-due",
		Short: "Mark every instrument whose cheque date has arrived as DUE",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeStore, err := app.OpenStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			svc := service.New(service.Dependencies{Store: store, Log: log})
			result, err := svc.Sweeper.SweepDue(cmd.Context(), actor, asOf)
			if result != nil {
				if perr := printJSON(cmd, result); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", time.Now().UTC().Format(time.DateOnly), "business date, YYYY-MM-DD")
	cmd.Flags().StringVar(&actor, "actor", "system:due-sweep", "identity recorded in the audit log")
	return cmd
}

func newExposureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exposure",
		Short: "Print the current exposure summary as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeStore, err := app.OpenStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			svc := service.New(service.Dependencies{Store: store, Log: log})
			summary, err := svc.Exposure.Summary(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, summary)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
