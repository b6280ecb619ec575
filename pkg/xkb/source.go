// Package xkb polls the X keyboard extension for the active layout group and
// the configured group names.
package xkb

import (
	"codeberg.org/miketth/layoutwatch/pkg/layoutwatch"
	"context"
	"errors"
	"fmt"
	"go.uber.org/zap"
	"os"
	"slices"
	"sync"
	"time"
)

const (
	DefaultInterval   = 50 * time.Millisecond
	DefaultDisplayEnv = "DISPLAY"
)

var ErrNoActiveGroup = errors.New("xkb: no active group")

type language struct {
	group uint64
	name  string
}

type Source struct {
	log      *zap.SugaredLogger
	backend  Backend
	interval time.Duration
	address  func() string

	// owned by the poll goroutine
	displayAddr string
	keyboard    Keyboard
	activeGroup uint64
	lastErr     string
	handler     layoutwatch.Handler

	lock      sync.RWMutex
	languages []language
	activeIdx int

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	once    sync.Once
}

type Option func(*Source)

func WithInterval(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithAddress overrides how the display address is looked up each tick.
func WithAddress(fn func() string) Option {
	return func(s *Source) { s.address = fn }
}

func WithDisplayEnv(name string) Option {
	return func(s *Source) {
		if name != "" {
			s.address = func() string { return os.Getenv(name) }
		}
	}
}

func NewSource(log *zap.SugaredLogger, backend Backend, opts ...Option) *Source {
	s := &Source{
		log:       log,
		backend:   backend,
		interval:  DefaultInterval,
		address:   func() string { return os.Getenv(DefaultDisplayEnv) },
		activeIdx: -1,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) Layouts() (layoutwatch.LayoutList, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return languagesToLayouts(s.languages), nil
}

func (s *Source) ActiveLayout() (uint32, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if s.activeIdx < 0 {
		return 0, ErrNoActiveGroup
	}
	return uint32(s.activeIdx), nil
}

// Start runs the first poll synchronously, so the snapshot is populated when
// it returns, and then keeps polling in the background until Close.
func (s *Source) Start(h layoutwatch.Handler) error {
	if s.started {
		return errors.New("xkb: source already started")
	}
	s.started = true
	s.handler = h

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	firstTick := make(chan struct{})
	go func() {
		defer close(s.done)
		s.run(ctx, firstTick)
	}()
	<-firstTick

	return nil
}

func (s *Source) run(ctx context.Context, firstTick chan<- struct{}) {
	s.tick()
	close(firstTick)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// Close stops the poll goroutine, waits for it and then frees the keyboard
// handle.
func (s *Source) Close() error {
	var err error
	s.once.Do(func() {
		if s.started {
			s.cancel()
			<-s.done
		}
		err = s.closeKeyboard()
	})
	return err
}

func (s *Source) tick() {
	s.updateDisplayAddr()

	group := s.fetchActiveGroup()
	if s.updateLayoutID(group) {
		s.lastErr = ""
		return
	}

	s.openKeyboard()
	s.updateLayouts()
	s.updateLayoutID(group)
}

func (s *Source) updateDisplayAddr() {
	addr := s.address()
	if addr == "" || addr == s.displayAddr {
		return
	}

	s.log.Infow("display address changed", "display", addr)
	s.displayAddr = addr
	s.openKeyboard()
	s.updateLayouts()
}

func (s *Source) fetchActiveGroup() uint64 {
	if s.keyboard == nil {
		return 0
	}

	group, err := s.keyboard.ActiveGroup()
	if err != nil {
		s.logFailure("get active layout group", err)
		return 0
	}
	return group
}

// updateLayoutID reports whether group is resolved against the known
// languages. A newly active known group emits a layout change.
func (s *Source) updateLayoutID(group uint64) bool {
	if group == 0 {
		return false
	}
	if group == s.activeGroup {
		return true
	}

	s.lock.Lock()
	idx := slices.IndexFunc(s.languages, func(l language) bool { return l.group == group })
	if idx < 0 {
		s.lock.Unlock()
		return false
	}
	s.activeGroup = group
	s.activeIdx = idx
	s.lock.Unlock()

	s.handler.LayoutChanged(uint32(idx))
	return true
}

func (s *Source) updateLayouts() {
	if s.keyboard == nil {
		return
	}

	groups, err := s.keyboard.Groups()
	if err != nil {
		s.logFailure("get keyboard groups", err)
		return
	}

	languages := make([]language, 0, len(groups))
	for _, g := range groups {
		if g.Atom == 0 || g.Name == "" {
			continue
		}
		languages = append(languages, language{group: g.Atom, name: g.Name})
	}

	s.lock.Lock()
	if len(languages) == 0 || slices.Equal(languages, s.languages) {
		s.lock.Unlock()
		return
	}
	s.languages = languages
	s.activeIdx = slices.IndexFunc(languages, func(l language) bool { return l.group == s.activeGroup })
	if s.activeIdx < 0 {
		s.activeGroup = 0
	}
	activeIdx := s.activeIdx
	s.lock.Unlock()

	s.handler.LayoutListChanged(languagesToLayouts(languages))
	if activeIdx >= 0 {
		s.handler.LayoutChanged(uint32(activeIdx))
	}
}

func (s *Source) openKeyboard() {
	if s.displayAddr == "" {
		return
	}

	if err := s.closeKeyboard(); err != nil {
		s.log.Warnw("free keyboard", "error", err)
	}

	keyboard, err := s.backend.Open(s.displayAddr)
	if err != nil {
		s.logFailure("open keyboard", err)
		return
	}
	s.keyboard = keyboard
}

func (s *Source) closeKeyboard() error {
	if s.keyboard == nil {
		return nil
	}

	err := s.keyboard.Close()
	s.keyboard = nil
	if err != nil {
		return fmt.Errorf("close keyboard: %w", err)
	}
	return nil
}

// logFailure logs each distinct failure once; the loop would otherwise repeat
// it every tick.
func (s *Source) logFailure(action string, err error) {
	msg := action + ": " + err.Error()
	if msg == s.lastErr {
		return
	}
	s.lastErr = msg
	s.log.Warnw(action, "display", s.displayAddr, "error", err)
}

func languagesToLayouts(languages []language) layoutwatch.LayoutList {
	layouts := make(layoutwatch.LayoutList, 0, len(languages))
	for _, l := range languages {
		layouts = append(layouts, layoutwatch.NewLayoutNames(l.name))
	}
	return layouts
}
