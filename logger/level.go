package logger

import (
	"fmt"

	"github.com/pkg/errors"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

// AllLevels is ordered by severity, least severe first.
var AllLevels = []Level{Debug, Info, Warn, Error}

var levelNames = [...]struct{ long, short string }{
	Debug: {"debug", "DEBG"},
	Info:  {"info", "INFO"},
	Warn:  {"warn", "WARN"},
	Error: {"error", "ERRO"},
}

func (l Level) valid() bool { return l >= Debug && l <= Error }

// Short is the fixed-width form used by human-readable outlets.
func (l Level) Short() string {
	if !l.valid() {
		return fmt.Sprintf("L%d", int(l))
	}
	return levelNames[l].short
}

func (l Level) String() string {
	if !l.valid() {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l].long
}

func (l Level) MarshalText() ([]byte, error) {
	if !l.valid() {
		return nil, errors.Errorf("invalid level %d", int(l))
	}
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) (err error) {
	*l, err = ParseLevel(string(text))
	return err
}

func ParseLevel(s string) (Level, error) {
	for _, l := range AllLevels {
		if s == l.String() {
			return l, nil
		}
	}
	return -1, errors.Errorf("unknown level '%s'", s)
}
