package cli

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/platinummonkey/schoolbilling/pkg/auth"
)

func newTokenCommand() *Command {
	cmd := &Command{
		Name:        "token",
		Description: "Manage API tokens",
		Subcommands: make(map[string]*Command),
	}
	cmd.add(newTokenCreateCommand())
	return cmd
}

func newTokenCreateCommand() *Command {
	cmd := &Command{
		Name:        "create",
		Description: "Issue a bearer token for a user",
		Flags:       flag.NewFlagSet("token create", flag.ContinueOnError),
	}
	userID := cmd.Flags.Int64("user-id", 0, "User the token authenticates as (required)")
	name := cmd.Flags.String("name", "", "Token name (required)")
	expiresIn := cmd.Flags.Duration("expires-in", 0, "Token lifetime, zero for no expiry")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *userID <= 0 {
			return fmt.Errorf("--user-id is required")
		}
		if *name == "" {
			return fmt.Errorf("--name is required")
		}
		if *expiresIn < 0 {
			return fmt.Errorf("--expires-in must not be negative")
		}

		_, _, cm, err := setup(ctx)
		if err != nil {
			return err
		}
		defer cm.Close()

		var expiresAt *time.Time
		if *expiresIn > 0 {
			t := time.Now().Add(*expiresIn).UTC()
			expiresAt = &t
		}

		tm := auth.NewTokenManager(auth.NewPostgresTokenStore(cm.Primary()), 0, 0)
		apiToken, token, err := tm.CreateToken(ctx, *userID, *name, expiresAt)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.output(), "token %d (%s) created for user %d\n", apiToken.ID, apiToken.TokenPrefix, apiToken.UserID)
		fmt.Fprintln(cmd.output(), token)
		return nil
	}
	return cmd
}
