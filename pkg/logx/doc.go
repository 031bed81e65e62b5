// Package logx is a thin structured-logging layer over zerolog.
//
// A Service owns the sinks (console, JSON file, Telegram mirror) and can be
// reconfigured at runtime; Loggers derived from it pick up the change on
// their next write. The zero Logger discards everything.
package logx
