package layoutwatch

import (
	"context"
	"errors"
	"fmt"
	"go.uber.org/zap"
	"sync"
)

var ErrLayoutOutOfRange = errors.New("layout id out of range")

type Watcher struct {
	log *zap.SugaredLogger

	source     Source
	sourceName string

	lock     sync.RWMutex
	layoutID uint32
	layouts  LayoutList
	// last layout subscribers were told about; layoutID points at it
	announced    LayoutNames
	hasAnnounced bool

	layoutChanged     subscribers[string]
	layoutListChanged subscribers[LayoutList]
}

// New tries every candidate in order and keeps the first one that connects and
// answers the initial queries. If none does, the fallback is opened instead. A
// Watcher is always returned; with no usable source it reports an empty list.
func New(ctx context.Context, log *zap.SugaredLogger, candidates []SourceFactory, fallback SourceFactory) *Watcher {
	w := &Watcher{log: log}

	for _, candidate := range candidates {
		err := w.tryCandidate(ctx, candidate)
		if err == nil {
			return w
		}
		log.Debugw("layout source unavailable", "source", candidate.Name, "error", err)
	}

	if fallback.Open == nil {
		log.Warn("no layout source available")
		return w
	}

	log.Infow("falling back to polling", "source", fallback.Name)
	src, err := fallback.Open(ctx)
	if err != nil {
		log.Warnw("open fallback layout source", "source", fallback.Name, "error", err)
		return w
	}

	w.source, w.sourceName = src, fallback.Name
	if err := src.Start(handler{w}); err != nil {
		log.Warnw("start fallback layout source", "source", fallback.Name, "error", err)
	}
	w.updateLayouts()

	return w
}

func (w *Watcher) tryCandidate(ctx context.Context, candidate SourceFactory) error {
	src, err := candidate.Open(ctx)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}

	layouts, err := src.Layouts()
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("get layouts: %w", err)
	}

	id, err := src.ActiveLayout()
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("get active layout: %w", err)
	}

	w.setLayouts(layouts)
	if _, _, err := w.setLayoutID(id); err != nil {
		w.log.Warnw("initial layout id", "source", candidate.Name, "error", err)
	}

	if err := src.Start(handler{w}); err != nil {
		_ = src.Close()
		return fmt.Errorf("start: %w", err)
	}

	w.source, w.sourceName = src, candidate.Name
	w.log.Infow("using layout source", "source", candidate.Name)
	return nil
}

// SourceName reports which source is active, or "" when none could be opened.
func (w *Watcher) SourceName() string {
	return w.sourceName
}

// ActiveLayout returns the short name of the active layout, or "" before the
// first layout list has been received.
func (w *Watcher) ActiveLayout() string {
	w.lock.RLock()
	defer w.lock.RUnlock()

	if int(w.layoutID) >= len(w.layouts) {
		return ""
	}
	return w.layouts[w.layoutID].ShortName
}

func (w *Watcher) ActiveLayoutID() uint32 {
	w.lock.RLock()
	defer w.lock.RUnlock()
	return w.layoutID
}

func (w *Watcher) Layouts() LayoutList {
	w.lock.RLock()
	defer w.lock.RUnlock()
	return w.layouts.Clone()
}

// OnLayoutChanged registers fn to receive the short name of each newly active
// layout. Handlers run on the source's goroutine and must not block.
func (w *Watcher) OnLayoutChanged(fn func(shortName string)) {
	w.layoutChanged.add(fn)
}

func (w *Watcher) OnLayoutListChanged(fn func(layouts LayoutList)) {
	w.layoutListChanged.add(fn)
}

func (w *Watcher) Close() error {
	if w.source == nil {
		return nil
	}
	if err := w.source.Close(); err != nil {
		return fmt.Errorf("close %s source: %w", w.sourceName, err)
	}
	return nil
}

// updateLayouts replaces the snapshot with whatever the active source reports.
func (w *Watcher) updateLayouts() {
	if w.source == nil {
		return
	}

	layouts, err := w.source.Layouts()
	if err != nil {
		w.log.Warnw("update layouts", "source", w.sourceName, "error", err)
		return
	}
	w.setLayouts(layouts)

	id, err := w.source.ActiveLayout()
	if err != nil {
		w.log.Debugw("update active layout", "source", w.sourceName, "error", err)
		return
	}
	_, _, _ = w.setLayoutID(id)
}

// setLayouts replaces the list. The id follows the announced layout to its new
// position; if that layout is gone the id falls back to 0 and the layout now
// active is reported as changed.
func (w *Watcher) setLayouts(layouts LayoutList) (shortName string, changed bool) {
	w.lock.Lock()
	defer w.lock.Unlock()

	w.layouts = layouts.Clone()

	if !w.hasAnnounced {
		if int(w.layoutID) >= len(w.layouts) {
			w.layoutID = 0
		}
		return "", false
	}

	if int(w.layoutID) < len(w.layouts) && w.layouts[w.layoutID] == w.announced {
		return "", false
	}
	if idx := w.layouts.Index(func(l LayoutNames) bool { return l == w.announced }); idx >= 0 {
		w.layoutID = uint32(idx)
		return "", false
	}

	w.layoutID = 0
	if len(w.layouts) == 0 {
		w.hasAnnounced = false
		return "", false
	}
	w.announced = w.layouts[0]
	return w.announced.ShortName, true
}

// setLayoutID records id as active if it is valid for the current list and
// reports whether that differs from the layout last announced.
func (w *Watcher) setLayoutID(id uint32) (shortName string, changed bool, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if int(id) >= len(w.layouts) {
		return "", false, fmt.Errorf("%w: %d of %d", ErrLayoutOutOfRange, id, len(w.layouts))
	}

	entry := w.layouts[id]
	changed = !w.hasAnnounced || id != w.layoutID || entry != w.announced

	w.layoutID = id
	w.announced = entry
	w.hasAnnounced = true
	return entry.ShortName, changed, nil
}

type handler struct {
	w *Watcher
}

func (h handler) LayoutChanged(id uint32) {
	shortName, changed, err := h.w.setLayoutID(id)
	if err != nil {
		h.w.log.Warnw("ignoring layout change", "error", err)
		return
	}
	if !changed {
		return
	}

	h.w.log.Debugw("layout changed", "id", id, "layout", shortName)
	h.w.layoutChanged.notify(shortName)
}

func (h handler) LayoutListChanged(layouts LayoutList) {
	shortName, changed := h.w.setLayouts(layouts)
	h.w.log.Debugw("layout list changed", "layouts", len(layouts))
	h.w.layoutListChanged.notify(layouts.Clone())

	if changed {
		h.w.log.Debugw("active layout removed from list", "layout", shortName)
		h.w.layoutChanged.notify(shortName)
	}
}
