package odbc

import (
	"fmt"

	"github.com/tomyedwab/odbcbridge/odbc/api"
)

// noCopy may be embedded to make go vet's copylocks check flag copies.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Handle exclusively owns one native handle of a fixed kind. The zero
// value of a kind is unallocated; Free is safe in any state. Handles must
// not be copied: use Take to move ownership.
type Handle struct {
	_ noCopy

	kind api.HandleType
	cli  api.API
	h    api.Handle
}

func newHandle(kind api.HandleType) Handle {
	return Handle{kind: kind}
}

// Kind returns the handle kind.
func (h *Handle) Kind() api.HandleType {
	return h.kind
}

// Allocated reports whether a native handle is held.
func (h *Handle) Allocated() bool {
	return h.h != api.NullHandle
}

// Native returns the held native handle value.
func (h *Handle) Native() api.Handle {
	return h.h
}

// Alloc allocates a handle under parent (nil for an environment). A held
// handle is freed first.
func (h *Handle) Alloc(cli api.API, parent *Handle) error {
	h.Free()
	parentHandle := api.NullHandle
	if parent != nil {
		parentHandle = parent.h
	}
	native, ret := cli.AllocHandle(h.kind, parentHandle)
	if !ret.Succeeded() || native == api.NullHandle {
		// The parent may carry a diagnostic; the new handle never does.
		if parent != nil && parent.Allocated() && ret == api.Error {
			if rec, dret := cli.GetDiagRec(parent.kind, parent.h, 1); dret.Succeeded() {
				err := NewHandleAllocationError(fmt.Sprintf("unable to allocate %s handle", h.kind))
				err.Cause = NewNativeError(rec.State, rec.NativeCode, rec.Message)
				return err
			}
		}
		return NewHandleAllocationError(fmt.Sprintf("unable to allocate %s handle", h.kind))
	}
	h.cli, h.h = cli, native
	return nil
}

// Free releases the native handle if one is held.
func (h *Handle) Free() {
	if h.h == api.NullHandle {
		return
	}
	h.cli.FreeHandle(h.kind, h.h)
	h.h = api.NullHandle
}

// Take moves ownership out of h, leaving it unallocated.
func (h *Handle) Take() Handle {
	native := h.h
	h.h = api.NullHandle
	return Handle{kind: h.kind, cli: h.cli, h: native}
}

// Diagnose returns the first diagnostic record of the handle as a native
// error.
func (h *Handle) Diagnose() error {
	if h.h == api.NullHandle {
		return NewInvalidStateError(fmt.Sprintf("no %s handle to diagnose", h.kind))
	}
	rec, ret := h.cli.GetDiagRec(h.kind, h.h, 1)
	if !ret.Succeeded() {
		return NewNativeError("HY000", 0, fmt.Sprintf("%s call failed without diagnostic (%s)", h.kind, ret))
	}
	return NewNativeError(rec.State, rec.NativeCode, rec.Message)
}

// diagState returns the state of the first diagnostic record, or "".
func (h *Handle) diagState() (string, error) {
	rec, ret := h.cli.GetDiagRec(h.kind, h.h, 1)
	if ret == api.NoData {
		return "", nil
	}
	if !ret.Succeeded() {
		return "", h.Diagnose()
	}
	return rec.State, nil
}
