package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/schoolbilling/pkg/billing"
)

func newReconcileCommand() *Command {
	cmd := &Command{
		Name:        "reconcile",
		Description: "Re-sync every linked subscription from the processor once",
		Flags:       flag.NewFlagSet("reconcile", flag.ContinueOnError),
	}
	concurrency := cmd.Flags.Int("concurrency", 0, "Parallel processor calls (default from config)")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		cfg, logger, cm, err := setup(ctx)
		if err != nil {
			return err
		}
		defer cm.Close()

		stack, err := newBillingStack(ctx, cfg, logger, cm, nil)
		if err != nil {
			return err
		}
		defer stack.Close()

		rcfg := cfg.BillingReconcilerConfig()
		if *concurrency > 0 {
			rcfg.Concurrency = *concurrency
		}
		reconciler := billing.NewReconciler(stack.schools, stack.mirror, stack.processor, stack.audit, logger, nil, rcfg)

		runCtx := ctx
		if rcfg.Timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, rcfg.Timeout)
			defer cancel()
		}

		synced, err := reconciler.RunOnce(runCtx)
		fmt.Fprintf(cmd.output(), "reconciled %d subscriptions\n", synced)
		return err
	}
	return cmd
}
