// Package billing manages school subscriptions against Stripe and a local mirror database.
//
// # Overview
//
// The Gateway implements Service. Each operation resolves the school, makes at most one
// kind of processor call through Processor, and then writes the result to the Mirror in a
// single transaction that also relinks the school.
//
// Subscriptions created through CreateSchoolSubscription never reach the processor. They are
// synthesized locally with ids of the form dummy_sub_<schoolID>_<unixSeconds>, status active
// and a 30 day period.
//
// # Errors
//
// Failures carry a Kind (see KindOf). The HTTP layer maps kinds to status codes:
//
//	KindAuthorizationDenied -> 403
//	KindNotFound            -> 404
//	KindValidationFailed    -> 400
//	KindUpstreamFailure     -> 400
//	KindInternal            -> 500
//
// # Usage Example
//
//	processor, err := billing.NewStripeProcessor(billing.StripeConfig{SecretKey: key}, logger, metrics)
//	mirror := billing.NewCachedMirror(billing.NewPostgresMirror(db, metrics), redisClient, 0, logger, metrics)
//	gateway := billing.NewGateway(schoolService, mirror, processor, auditLogger, logger, metrics,
//		billing.GatewayConfig{WebhookSecret: secret})
//
//	sub, err := gateway.CancelSubscription(ctx, user, "riverside-high")
//
// # Webhooks
//
// HandleWebhook verifies the Stripe-Signature header and keeps subscriptions, customers,
// payment methods and plans in the mirror current. Plan events invalidate the cached plan list.
// Subscription created and updated events are treated as a signal only: the subscription is
// re-read from the processor before it is applied, so a late delivery cannot roll it back.
//
// # Reconciliation
//
// Reconciler runs on a cron schedule and re-applies every processor-backed subscription that
// is linked to a school.
package billing
