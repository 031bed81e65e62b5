// Package storage provides the optional audit journal: one append-only
// record per poll cycle, in JSON Lines or SQLite.
package storage
