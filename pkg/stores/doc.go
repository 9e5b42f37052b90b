// Package stores keeps an optional history of put runs in SQLite: one row
// per invocation with its exit and status codes, plus the recap counters of
// every processed host. Schema changes ship as embedded migrations.
package stores
