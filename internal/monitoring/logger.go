// Package monitoring holds the diagnostic logger shared by the pipeline
// stages.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// StageLogger prefixes every message with a stage tag such as "[normals]".
type StageLogger struct {
	prefix string
}

// Stage returns a logger for the named pipeline stage.
func Stage(name string) StageLogger {
	return StageLogger{prefix: "[" + name + "] "}
}

// Printf logs through the current package logger.
func (s StageLogger) Printf(format string, v ...interface{}) {
	Logf(s.prefix+format, v...)
}

// Warnf logs a degraded-step warning.
func (s StageLogger) Warnf(format string, v ...interface{}) {
	Logf(s.prefix+"warning: "+format, v...)
}
