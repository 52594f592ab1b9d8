//go:build darwin || freebsd || linux

package native

import (
	"runtime"

	"github.com/ebitengine/purego"
)

var defaultLibrary = func() string {
	if runtime.GOOS == "darwin" {
		return "libodbc.2.dylib"
	}
	return "libodbc.so.2"
}()

func openLibrary(name string) (uintptr, error) {
	handle, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil && name == "libodbc.so.2" {
		// Some distributions only ship the unversioned development link.
		return purego.Dlopen("libodbc.so", purego.RTLD_NOW|purego.RTLD_GLOBAL)
	}
	return handle, err
}
