// Package monitoring holds the process-wide diagnostic logger the pipeline,
// store, and sweep worker report through.
package monitoring

import "log"

// Logf is the diagnostic log sink. It defaults to log.Printf; tests replace
// it via SetLogger to capture or mute pipeline and store diagnostics.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the log sink. A nil f installs a no-op sink, which is
// the usual choice in tests that exercise degraded paths (missing routes,
// rejected timestamps) without flooding the test log.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
