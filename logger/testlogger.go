package logger

import (
	"sort"
	"strings"
	"testing"
)

type testingLoggerOutlet struct {
	t testing.TB
}

func (o testingLoggerOutlet) WriteEntry(entry Entry) error {
	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var fields strings.Builder
	for _, k := range keys {
		fields.WriteString(" ")
		fields.WriteString(k)
		fields.WriteString("=")
		fields.WriteString(strings.TrimSpace(toString(entry.Fields[k])))
	}
	o.t.Logf("[%s] %s%s", entry.Level.Short(), entry.Message, fields.String())
	return nil
}

// NewTestLogger returns a Logger that writes all entries to t.Logf.
func NewTestLogger(t testing.TB) Logger {
	outlets := NewOutlets()
	outlets.Add(testingLoggerOutlet{t}, Debug)
	return NewLogger(outlets)
}
