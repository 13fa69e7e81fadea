// Package storage persists the runner's run history.
//
// Drivers:
//   - "file": append-only JSON Lines, compacted to the newest Retain records
//   - "sqlite": a SQLite database (modernc.org/sqlite, pure Go)
//   - "none" or empty: disabled
package storage
