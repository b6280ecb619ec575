package layoutwatch

import "context"

// Handler receives normalized events from a Source. Calls arrive on the
// source's own goroutine, one at a time.
type Handler interface {
	LayoutChanged(id uint32)
	LayoutListChanged(layouts LayoutList)
}

type Source interface {
	Layouts() (LayoutList, error)
	ActiveLayout() (uint32, error)
	// Start begins event delivery. It is called at most once.
	Start(h Handler) error
	// Close stops event delivery and waits for the source's goroutine to exit.
	Close() error
}

type SourceFactory struct {
	Name string
	Open func(ctx context.Context) (Source, error)
}
