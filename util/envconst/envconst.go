// Package envconst reads tuning constants from environment variables.
// The first lookup of a variable is cached for the lifetime of the
// process; malformed values panic.
package envconst

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

var cache sync.Map

func lookup[T any](varname string, def T, parse func(string) (T, error)) T {
	if v, ok := cache.Load(varname); ok {
		return v.(T)
	}
	e := os.Getenv(varname)
	if e == "" {
		return def
	}
	v, err := parse(e)
	if err != nil {
		panic(fmt.Sprintf("cannot parse environment variable %s=%q: %s", varname, e, err))
	}
	cache.Store(varname, v)
	return v
}

func Duration(varname string, def time.Duration) time.Duration {
	return lookup(varname, def, time.ParseDuration)
}

func Int(varname string, def int) int {
	return lookup(varname, def, strconv.Atoi)
}

func Int64(varname string, def int64) int64 {
	return lookup(varname, def, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
}

func Uint32(varname string, def uint32) uint32 {
	return lookup(varname, def, func(s string) (uint32, error) {
		v, err := strconv.ParseUint(s, 10, 32)
		return uint32(v), err
	})
}

func Bool(varname string, def bool) bool {
	return lookup(varname, def, strconv.ParseBool)
}

func String(varname string, def string) string {
	return lookup(varname, def, func(s string) (string, error) { return s, nil })
}
