package hyprland

import (
	"codeberg.org/miketth/layoutwatch/pkg/layoutwatch"
	"codeberg.org/miketth/layoutwatch/pkg/xkblayouts"
	"errors"
	"fmt"
	"go.uber.org/zap"
	"strings"
	"sync"
)

var (
	ErrNoKeyboard    = errors.New("no keyboard found")
	ErrUnknownKeymap = errors.New("active keymap is not in the layout list")
)

type EventReader interface {
	ReadLine() (string, error)
	Close() error
}

type KeyboardLister interface {
	GetKeyboards() ([]Keyboard, error)
}

// Source follows the layouts of the main keyboard of a Hyprland session.
type Source struct {
	log      *zap.SugaredLogger
	events   EventReader
	ctl      KeyboardLister
	registry *xkblayouts.Registry

	lock     sync.Mutex
	keyboard string
	layouts  layoutwatch.LayoutList

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewSource(log *zap.SugaredLogger, events EventReader, ctl KeyboardLister, registry *xkblayouts.Registry) *Source {
	return &Source{
		log:      log,
		events:   events,
		ctl:      ctl,
		registry: registry,
		done:     make(chan struct{}),
	}
}

func (s *Source) mainKeyboard() (Keyboard, error) {
	keyboards, err := s.ctl.GetKeyboards()
	if err != nil {
		return Keyboard{}, fmt.Errorf("get keyboards: %w", err)
	}

	for _, k := range keyboards {
		if k.Main {
			return k, nil
		}
	}
	for _, k := range keyboards {
		if len(k.Layouts) > 0 {
			return k, nil
		}
	}

	return Keyboard{}, ErrNoKeyboard
}

func (s *Source) layoutsOf(k Keyboard) layoutwatch.LayoutList {
	layouts := make(layoutwatch.LayoutList, 0, len(k.Layouts))
	for i, code := range k.Layouts {
		if code == "" {
			continue
		}
		layouts = append(layouts, layoutwatch.NewLayoutNames(s.registry.LongName(code, k.Variant(i))))
	}
	return layouts
}

// refresh re-reads the main keyboard and reports whether its layout list
// differs from the last one seen.
func (s *Source) refresh() (Keyboard, layoutwatch.LayoutList, bool, error) {
	k, err := s.mainKeyboard()
	if err != nil {
		return Keyboard{}, nil, false, err
	}
	layouts := s.layoutsOf(k)

	s.lock.Lock()
	defer s.lock.Unlock()

	changed := !layouts.Equal(s.layouts)
	s.keyboard = k.Name
	s.layouts = layouts
	return k, layouts.Clone(), changed, nil
}

func (s *Source) Layouts() (layoutwatch.LayoutList, error) {
	_, layouts, _, err := s.refresh()
	return layouts, err
}

func (s *Source) ActiveLayout() (uint32, error) {
	k, layouts, _, err := s.refresh()
	if err != nil {
		return 0, err
	}
	return indexOf(layouts, k.ActiveKeymap)
}

func indexOf(layouts layoutwatch.LayoutList, longName string) (uint32, error) {
	idx := layouts.Index(func(l layoutwatch.LayoutNames) bool { return l.LongName == longName })
	if idx < 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKeymap, longName)
	}
	return uint32(idx), nil
}

func (s *Source) Start(h layoutwatch.Handler) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.processLines(h)
	}()
	return nil
}

func (s *Source) processLines(h layoutwatch.Handler) {
	for {
		line, err := s.events.ReadLine()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.Warnw("hyprland event stream ended", "error", err)
			}
			return
		}

		if err := s.processLine(h, line); err != nil {
			s.log.Debugw("process line", "line", line, "error", err)
		}
	}
}

func (s *Source) processLine(h layoutwatch.Handler, line string) error {
	evType, evData, found := strings.Cut(line, ">>")
	if !found {
		return fmt.Errorf("invalid line: %q", line)
	}

	switch evType {
	case "activelayout":
		return s.processLayoutChange(h, evData)
	case "configreloaded":
		return s.processConfigReload(h)
	}

	return nil
}

func (s *Source) processLayoutChange(h layoutwatch.Handler, data string) error {
	keyboardName, layout, found := strings.Cut(data, ",")
	if !found {
		return fmt.Errorf("invalid layout change data: %q", data)
	}

	s.lock.Lock()
	mainKeyboard := s.keyboard
	layouts := s.layouts.Clone()
	s.lock.Unlock()

	if mainKeyboard != "" && keyboardName != mainKeyboard {
		return nil
	}

	idx, err := indexOf(layouts, layout)
	if err != nil {
		// the list may have changed without a config reload
		_, layouts, changed, err := s.refresh()
		if err != nil {
			return fmt.Errorf("refresh layouts: %w", err)
		}
		if changed {
			h.LayoutListChanged(layouts)
		}

		idx, err = indexOf(layouts, layout)
		if err != nil {
			return err
		}
	}

	h.LayoutChanged(idx)
	return nil
}

func (s *Source) processConfigReload(h layoutwatch.Handler) error {
	k, layouts, changed, err := s.refresh()
	if err != nil {
		return fmt.Errorf("refresh layouts: %w", err)
	}
	if changed {
		h.LayoutListChanged(layouts)
	}

	idx, err := indexOf(layouts, k.ActiveKeymap)
	if err != nil {
		return err
	}
	h.LayoutChanged(idx)
	return nil
}

func (s *Source) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.events.Close()
		s.wg.Wait()
	})
	return err
}
