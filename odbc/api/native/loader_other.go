//go:build !(darwin || freebsd || linux || windows)

package native

import (
	"fmt"
	"runtime"
)

const defaultLibrary = ""

func openLibrary(name string) (uintptr, error) {
	return 0, fmt.Errorf("loading %q is not supported on %s", name, runtime.GOOS)
}
