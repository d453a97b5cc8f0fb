package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/platinummonkey/schoolbilling/pkg/audit"
)

func newAuditCommand() *Command {
	cmd := &Command{
		Name:        "audit",
		Description: "Print recorded subscription audit events as JSON lines",
		Flags:       flag.NewFlagSet("audit", flag.ContinueOnError),
	}
	school := cmd.Flags.String("school", "", "Only events for this school slug")
	eventType := cmd.Flags.String("type", "", "Only events of this type, e.g. subscription.cancel")
	failures := cmd.Flags.Bool("failures", false, "Only failed operations")
	since := cmd.Flags.Duration("since", 0, "Only events newer than this")
	limit := cmd.Flags.Int("limit", 50, "Maximum events to print")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		filter, err := auditFilter(*school, *eventType, *failures, *since, *limit, time.Now())
		if err != nil {
			return err
		}

		_, _, cm, err := setup(ctx)
		if err != nil {
			return err
		}
		defer cm.Close()

		store, err := audit.NewDBLogger(cm.Replica())
		if err != nil {
			return err
		}
		events, err := store.Search(ctx, filter)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.output())
		for _, event := range events {
			if err := enc.Encode(event); err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}
		}
		return nil
	}
	return cmd
}

func auditFilter(school, eventType string, failures bool, since time.Duration, limit int, now time.Time) (audit.SearchFilter, error) {
	if limit <= 0 {
		return audit.SearchFilter{}, fmt.Errorf("--limit must be positive")
	}

	filter := audit.SearchFilter{Limit: limit}
	if school != "" {
		filter.ResourceType = audit.ResourceTypeSchool
		filter.ResourceID = school
	}
	if eventType != "" {
		filter.EventTypes = []audit.EventType{audit.EventType(eventType)}
	}
	if failures {
		status := audit.EventStatusFailure
		filter.Status = &status
	}
	if since > 0 {
		start := now.Add(-since)
		filter.StartTime = &start
	}
	return filter, nil
}
