//go:build tools

// Package build pins the code generators run by go generate.
package build

import (
	_ "github.com/alvaroloes/enumer"
)
