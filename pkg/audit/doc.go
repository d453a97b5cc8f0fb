// Package audit records subscription mutations for billing support and compliance.
//
// Events are written to the audit_logs table by DBLogger and mirrored to the
// application log by LogrusLogger; MultiLogger fans out to both.
//
//	event := audit.NewEvent(ctx, audit.EventTypeSubscriptionCancel, audit.EventStatusSuccess)
//	event.ResourceType = audit.ResourceTypeSchool
//	event.ResourceID = school.Slug
//	_ = logger.Log(ctx, event)
//
// Callers treat audit failures as non-fatal.
package audit
