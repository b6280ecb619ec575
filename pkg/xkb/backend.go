package xkb

import "errors"

// MaxGroups is the number of layout groups the keyboard extension supports.
const MaxGroups = 4

var (
	ErrUnsupported   = errors.New("xkb: not supported in this build")
	ErrAllocKeyboard = errors.New("xkb: can't allocate keyboard description")
	ErrNoNames       = errors.New("xkb: can't get keyboard group names")
	ErrNoState       = errors.New("xkb: can't get keyboard state")
)

// Group is one configured layout slot: the native group atom and its name.
type Group struct {
	Atom uint64
	Name string
}

// Keyboard is an open keyboard description bound to one display connection.
type Keyboard interface {
	// Groups returns the group name table, at most MaxGroups entries. Slots
	// without an atom or with an empty name are omitted.
	Groups() ([]Group, error)
	// ActiveGroup returns the atom of the group currently in effect.
	ActiveGroup() (uint64, error)
	Close() error
}

type Backend interface {
	Open(address string) (Keyboard, error)
}
