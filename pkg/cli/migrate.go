package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/schoolbilling/pkg/storage/postgres"
)

func newMigrateCommand() *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply pending database migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
	}
	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}

		cm, err := postgres.NewConnectionManager(cfg.ConnectionConfig(), logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer cm.Close()

		applied, err := postgres.Migrate(ctx, cm.Primary())
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.output(), "database is up to date")
			return nil
		}
		for _, name := range applied {
			fmt.Fprintf(cmd.output(), "applied %s\n", name)
		}
		return nil
	}
	return cmd
}
