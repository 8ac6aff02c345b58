// Package monitoring carries the pipeline's diagnostic logging hook.
package monitoring

import "log"

// Logf emits pipeline diagnostics (skipped tracks, failed fits, batch
// summaries). It defaults to log.Printf; SetLogger can redirect or mute it,
// which tests use to keep noisy-input cases quiet.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. A nil f installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
