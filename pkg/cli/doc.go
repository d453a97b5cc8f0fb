// Package cli implements the schoolbilling command line: the API server and its
// operational subcommands.
//
//	schoolbilling serve
//	schoolbilling migrate
//	schoolbilling reconcile [--concurrency N]
//	schoolbilling token create --user-id 7 --name ci [--expires-in 720h]
//	schoolbilling audit [--school riverside] [--type subscription.cancel] [--failures] [--since 24h]
//
// Every command reads its configuration through pkg/config.
package cli
