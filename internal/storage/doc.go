// Package storage provides the persistence backends for the scheduler
// core and its collaborators: scheduled items, giveaway entry rosters and
// ticket transcripts. SQLite is the default driver; Postgres and a
// mutex-guarded in-memory store are also available.
package storage
