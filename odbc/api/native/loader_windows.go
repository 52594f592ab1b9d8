//go:build windows

package native

import "syscall"

const defaultLibrary = "odbc32.dll"

func openLibrary(name string) (uintptr, error) {
	handle, err := syscall.LoadLibrary(name)
	return uintptr(handle), err
}
