package logger

import (
	"sync"
	"time"
)

type Fields map[string]interface{}

type Entry struct {
	Level   Level
	Message string
	Time    time.Time
	Fields  Fields
}

// An Outlet writes entries to some destination.
//
// The Logger calls WriteEntry synchronously and holds a lock meanwhile,
// so implementations must not block. Errors are reported on os.Stderr.
type Outlet interface {
	WriteEntry(entry Entry) error
}

type registration struct {
	outlet   Outlet
	minLevel Level
}

// Outlets routes entries to the outlets registered for their level.
type Outlets struct {
	mtx  sync.RWMutex
	regs []registration
}

func NewOutlets() *Outlets {
	return &Outlets{}
}

// Add registers outlet for minLevel and all more severe levels.
func (os *Outlets) Add(outlet Outlet, minLevel Level) {
	os.mtx.Lock()
	defer os.mtx.Unlock()
	os.regs = append(os.regs, registration{outlet, minLevel})
}

// Get returns the outlets receiving entries of level, in registration order.
func (os *Outlets) Get(level Level) []Outlet {
	os.mtx.RLock()
	defer os.mtx.RUnlock()
	var outs []Outlet
	for _, r := range os.regs {
		if r.minLevel <= level {
			outs = append(outs, r.outlet)
		}
	}
	return outs
}

// Len returns the number of registered outlets.
func (os *Outlets) Len() int {
	os.mtx.RLock()
	defer os.mtx.RUnlock()
	return len(os.regs)
}

func (os *Outlets) with(outlet Outlet, minLevel Level) *Outlets {
	os.mtx.RLock()
	defer os.mtx.RUnlock()
	regs := make([]registration, len(os.regs), len(os.regs)+1)
	copy(regs, os.regs)
	return &Outlets{regs: append(regs, registration{outlet, minLevel})}
}
