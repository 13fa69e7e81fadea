// Package logx is harvestbot's structured logger, a thin layer over zerolog.
//
// Human-readable output goes to stderr so commands like `history --json`
// keep stdout clean. The optional file sink is JSON. A Service owns the
// sinks and can swap level and outputs while loggers derived from it keep
// working.
package logx
