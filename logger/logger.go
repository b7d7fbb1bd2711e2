package logger

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"
)

const (
	// The field set by WithError function
	FieldError = "err"
	// Set through ReplaceField by components that log on behalf of a subsystem
	FieldSubsystem = "subsystem"
)

const DefaultUserFieldCapacity = 5
const InternalErrorPrefix = "github.com/asyncrmi/asyncrmi/logger: "

type Logger interface {
	WithOutlet(outlet Outlet, level Level) Logger
	ReplaceField(field string, val interface{}) Logger
	WithField(field string, val interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	Log(level Level, msg string)
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Printf(format string, args ...interface{})
}

type loggerImpl struct {
	fields  Fields
	outlets *Outlets
	// shared between a logger and all of its children
	mtx *sync.Mutex
}

var _ Logger = &loggerImpl{}

func NewLogger(outlets *Outlets) Logger {
	return &loggerImpl{
		fields:  make(Fields, DefaultUserFieldCapacity),
		outlets: outlets,
		mtx:     &sync.Mutex{},
	}
}

// NewNullLogger returns a Logger without outlets.
func NewNullLogger() Logger {
	return NewLogger(NewOutlets())
}

func (l *loggerImpl) logInternalError(outlet Outlet, err string) {
	fmt.Fprintf(os.Stderr, "%s outlet %T error: %s\n", InternalErrorPrefix, outlet, err)
}

func (l *loggerImpl) log(level Level, msg string) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	entry := Entry{level, msg, time.Now(), l.fields}
	for _, outlet := range l.outlets.Get(level) {
		if err := outlet.WriteEntry(entry); err != nil {
			l.logInternalError(outlet, err.Error())
		}
	}
}

func (l *loggerImpl) forkLogger(field string, val interface{}) *loggerImpl {
	child := &loggerImpl{
		fields:  make(Fields, len(l.fields)+1),
		outlets: l.outlets,
		mtx:     l.mtx,
	}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	child.fields[field] = val
	return child
}

// WithOutlet returns a logger that also writes to outlet. The receiver
// and its other children are unaffected.
func (l *loggerImpl) WithOutlet(outlet Outlet, level Level) Logger {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return &loggerImpl{
		fields:  l.fields,
		outlets: l.outlets.with(outlet, level),
		mtx:     l.mtx,
	}
}

func (l *loggerImpl) ReplaceField(field string, val interface{}) Logger {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.forkLogger(field, val)
}

func (l *loggerImpl) WithField(field string, val interface{}) Logger {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if val, ok := l.fields[field]; ok && val != nil {
		fmt.Fprintf(os.Stderr,
			"%s caller overwrites field '%s'. Stack: %s\n", InternalErrorPrefix, field, string(debug.Stack()))
	}
	return l.forkLogger(field, val)
}

func (l *loggerImpl) WithFields(fields Fields) Logger {
	var ret Logger = l
	for field, value := range fields {
		ret = ret.WithField(field, value)
	}
	return ret
}

func (l *loggerImpl) WithError(err error) Logger {
	val := interface{}(nil)
	if err != nil {
		val = err.Error()
	}
	return l.WithField(FieldError, val)
}

func (l *loggerImpl) Log(level Level, msg string) { l.log(level, msg) }

func (l *loggerImpl) Debug(msg string) { l.log(Debug, msg) }

func (l *loggerImpl) Info(msg string) { l.log(Info, msg) }

func (l *loggerImpl) Warn(msg string) { l.log(Warn, msg) }

func (l *loggerImpl) Error(msg string) { l.log(Error, msg) }

func (l *loggerImpl) Printf(format string, args ...interface{}) {
	l.log(Error, fmt.Sprintf(format, args...))
}
