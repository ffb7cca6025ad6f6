// Package debug carries the best-effort invariant checks the rest of the
// module sprinkles through its hot paths. Assert calls are no-ops unless
// the EDGE_DEBUG environment variable is truthy (the same variable
// internal/config reads into Config.IsDebug), so production runs pay one
// branch per check and test runs can opt in to the full panic-on-violation
// behavior.
package debug

import (
	"fmt"
	"os"
	"strconv"
)

// Enabled is read once at process start. Tests that need assertions
// active set EDGE_DEBUG=1 before the package loads, or flip Enabled
// directly.
var Enabled = truthy(os.Getenv("EDGE_DEBUG"))

func truthy(v string) bool {
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// Assert panics with a formatted diagnostic when cond is false and
// debugging is enabled. Callers use it for invariants that are
// best-effort rather than reachable error conditions; a violation means a
// programming bug, not a runtime condition to handle.
func Assert(cond bool, format string, args ...any) {
	if !Enabled || cond {
		return
	}
	panic(fmt.Sprintf("assertion failed: "+format, args...))
}
