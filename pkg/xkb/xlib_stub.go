//go:build !(linux && cgo)

package xkb

type stubBackend struct{}

// NewBackend returns a backend that can't open any display. Building with cgo
// on linux links the XKBlib backend instead.
func NewBackend() Backend {
	return stubBackend{}
}

func (stubBackend) Open(string) (Keyboard, error) {
	return nil, ErrUnsupported
}
