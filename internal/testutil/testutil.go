// Package testutil supplies fixture builders shared by this module's tests,
// mirroring the teacher's pkg/internal/testutil conventions so test files
// don't re-derive the same session/config scaffolding per package.
package testutil

import (
	"github.com/coreemu/coreemu/internal/config"
	"github.com/coreemu/coreemu/pkg/servicesched"
)

// Settings returns a config.Settings safe for tests: a throwaway base
// directory and no peers, so nothing in a test run touches the operator's
// real $COREEMU_CONFIG or /tmp/coreemu.* state.
func Settings(baseDir string) *config.Settings {
	s := config.Default()
	s.BaseDir = baseDir
	s.SessionPrefix = "test"
	return s
}

// Catalog returns a minimal service catalog with one no-op service, useful
// for tests that need a non-empty catalog without depending on real
// startup/shutdown commands.
func Catalog() servicesched.Catalog {
	return servicesched.Catalog{
		"noop": {Name: "noop"},
	}
}
