// Package monitoring is the converter's diagnostic logging hook. Every
// stage logs through Logf, so one SetLogger call redirects or silences
// the whole pipeline; artifacts and provenance, not log lines, remain
// the output of record.
package monitoring

import "log"

// Logf emits one diagnostic line. Defaults to log.Printf.
var Logf func(format string, v ...any) = log.Printf

// SetLogger replaces the sink behind Logf. A nil f installs a no-op
// sink, muting the converter.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}
