//go:build linux && cgo

package xkb

// #cgo LDFLAGS: -lX11
// #include <stdlib.h>
// #include <X11/Xlib.h>
// #include <X11/XKBlib.h>
import "C"

import (
	"fmt"
	"unsafe"
)

type xlibBackend struct{}

// NewBackend returns the XKBlib backend.
func NewBackend() Backend {
	return xlibBackend{}
}

func (xlibBackend) Open(address string) (Keyboard, error) {
	cAddress := C.CString(address)
	defer C.free(unsafe.Pointer(cAddress))

	var reason C.int
	display := C.XkbOpenDisplay(cAddress, nil, nil, nil, nil, &reason)
	if display == nil {
		return nil, openError(address, reason)
	}

	desc := C.XkbAllocKeyboard()
	if desc == nil {
		C.XCloseDisplay(display)
		return nil, ErrAllocKeyboard
	}

	if C.XkbGetNames(display, C.XkbGroupNamesMask, desc) != C.Success {
		C.XkbFreeKeyboard(desc, 0, C.True)
		C.XCloseDisplay(display)
		return nil, ErrNoNames
	}

	return &xlibKeyboard{display: display, desc: desc}, nil
}

func openError(address string, reason C.int) error {
	switch reason {
	case C.XkbOD_BadLibraryVersion, C.XkbOD_BadServerVersion:
		return fmt.Errorf("open display %q: incompatible versions of client and server XKB libraries", address)
	case C.XkbOD_ConnectionRefused:
		return fmt.Errorf("open display %q: connection refused", address)
	case C.XkbOD_NonXkbServer:
		return fmt.Errorf("open display %q: XKB extension is not present", address)
	default:
		return fmt.Errorf("open display %q: unknown error %d", address, int(reason))
	}
}

type xlibKeyboard struct {
	display *C.Display
	desc    C.XkbDescPtr
}

func (k *xlibKeyboard) groupAtoms() []C.Atom {
	if k.desc == nil || k.desc.names == nil {
		return nil
	}
	return k.desc.names.groups[:]
}

func (k *xlibKeyboard) Groups() ([]Group, error) {
	atoms := k.groupAtoms()
	if atoms == nil {
		return nil, ErrNoNames
	}

	groups := make([]Group, 0, MaxGroups)
	for i := 0; i < MaxGroups && i < len(atoms); i++ {
		atom := atoms[i]
		if atom == 0 {
			continue
		}

		cName := C.XGetAtomName(k.display, atom)
		if cName == nil {
			continue
		}
		name := C.GoString(cName)
		C.XFree(unsafe.Pointer(cName))

		if name == "" {
			continue
		}
		groups = append(groups, Group{Atom: uint64(atom), Name: name})
	}

	return groups, nil
}

func (k *xlibKeyboard) ActiveGroup() (uint64, error) {
	atoms := k.groupAtoms()
	if atoms == nil {
		return 0, ErrNoNames
	}

	var state C.XkbStateRec
	if C.XkbGetState(k.display, C.XkbUseCoreKbd, &state) != C.Success {
		return 0, ErrNoState
	}

	idx := int(state.group)
	if idx >= len(atoms) {
		return 0, ErrNoState
	}
	return uint64(atoms[idx]), nil
}

func (k *xlibKeyboard) Close() error {
	if k.desc != nil {
		C.XkbFreeKeyboard(k.desc, 0, C.True)
		k.desc = nil
	}
	if k.display != nil {
		C.XCloseDisplay(k.display)
		k.display = nil
	}
	return nil
}
