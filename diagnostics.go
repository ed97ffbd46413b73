package corowork

import (
	"os"
	"sync"
)

var (
	debugOnce    sync.Once
	debugEnabled_ bool
)

// debugEnabled reports whether the COROWORK_DEBUG runtime diagnostic
// toggle (spec.md §6) is set. Checked lazily and cached: the environment
// variable is not expected to change during a process's lifetime.
func debugEnabled() bool {
	debugOnce.Do(func() {
		v := os.Getenv("COROWORK_DEBUG")
		debugEnabled_ = v != "" && v != "0"
	})
	return debugEnabled_
}
