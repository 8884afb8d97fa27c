// Package monitoring emits the engine's structured events through countlog.
//
// countlog compiles a formatter per event from the first values it sees and
// reuses it by type afterwards, so every property value is passed on as a
// string. Keys are kept in the order the caller gives them.
package monitoring

import (
	"fmt"

	"github.com/v2pro/plz/countlog"
)

// Logger names the events of one component, "event!<component>.<message>".
type Logger struct {
	component string
}

func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) Debug(message string, details ...any) {
	countlog.Debug(l.event(message), Details(details)...)
}

func (l *Logger) Info(message string, details ...any) {
	countlog.Info(l.event(message), Details(details)...)
}

func (l *Logger) Warn(message string, details ...any) {
	countlog.Warn(l.event(message), Details(details)...)
}

func (l *Logger) Error(message string, details ...any) {
	countlog.Error(l.event(message), Details(details)...)
}

func (l *Logger) event(message string) string {
	return "event!" + l.component + "." + message
}

// Details turns alternating keys and values into keys and string values.
// A key without a value gets an empty one.
func Details(details []any) []any {
	if len(details)%2 == 1 {
		details = append(details, "")
	}
	out := make([]any, len(details))
	for i, d := range details {
		if i%2 == 0 {
			out[i] = fmt.Sprint(d)
			continue
		}
		out[i] = stringify(d)
	}
	return out
}

func stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
