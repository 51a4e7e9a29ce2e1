// Package migrations embeds the SQL schema applied by the gateway's
// migrate subcommand.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Files lists the migrations in apply order.
var Files = []string{
	"001_create_generation_jobs.sql",
	"002_create_daily_usage.sql",
}
