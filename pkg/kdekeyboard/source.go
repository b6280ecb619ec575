// Package kdekeyboard reads keyboard layouts from the KDE keyboard layouts
// service on the D-Bus session bus.
package kdekeyboard

import (
	"codeberg.org/miketth/layoutwatch/pkg/layoutwatch"
	"context"
	"errors"
	"fmt"
	"github.com/godbus/dbus/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"sync"
	"time"
)

const (
	KeyboardService = "org.kde.keyboard"
	ShellService    = "org.kde.KWin"

	objectPath = dbus.ObjectPath("/Layouts")
	iface      = "org.kde.KeyboardLayouts"

	memberLayoutChanged     = "layoutChanged"
	memberLayoutListChanged = "layoutListChanged"

	methodGetLayout      = iface + ".getLayout"
	methodGetLayoutsList = iface + ".getLayoutsList"

	busDaemon          = "org.freedesktop.DBus"
	busDaemonPath      = dbus.ObjectPath("/org/freedesktop/DBus")
	methodGetNameOwner = busDaemon + ".GetNameOwner"

	DefaultCallTimeout = 5 * time.Second
	signalBufferSize   = 16
)

var DefaultServices = []string{KeyboardService, ShellService}

var ErrNoService = errors.New("no keyboard layouts service")

// Bus is the subset of *dbus.Conn used by Source.
type Bus interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Close() error
}

type Source struct {
	log         *zap.SugaredLogger
	bus         Bus
	ownsBus     bool
	obj         dbus.BusObject
	service     string
	owner       string // unique bus name signals are accepted from
	callTimeout time.Duration

	signals chan *dbus.Signal
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// Connect opens a private session bus connection and subscribes to the first
// service in services that answers.
func Connect(ctx context.Context, log *zap.SugaredLogger, services []string, callTimeout time.Duration) (*Source, error) {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	src, err := Open(ctx, log, conn, services, callTimeout)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	src.ownsBus = true

	return src, nil
}

// Open subscribes to the first service in services that accepts both signal
// subscriptions and answers a getLayout call. The bus is not closed by Source.
func Open(ctx context.Context, log *zap.SugaredLogger, bus Bus, services []string, callTimeout time.Duration) (*Source, error) {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}

	var errs error
	for _, service := range services {
		src, err := subscribe(ctx, log, bus, service, callTimeout)
		if err == nil {
			return src, nil
		}
		log.Debugw("keyboard layouts service unavailable", "service", service, "error", err)
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", service, err))
	}

	if errs == nil {
		return nil, ErrNoService
	}
	return nil, fmt.Errorf("%w: %w", ErrNoService, errs)
}

func subscribe(ctx context.Context, log *zap.SugaredLogger, bus Bus, service string, callTimeout time.Duration) (*Source, error) {
	src := &Source{
		log:         log.With("service", service),
		bus:         bus,
		obj:         bus.Object(service, objectPath),
		service:     service,
		callTimeout: callTimeout,
		signals:     make(chan *dbus.Signal, signalBufferSize),
		done:        make(chan struct{}),
	}

	if err := bus.AddMatchSignal(matchOptions(service, memberLayoutChanged)...); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", memberLayoutChanged, err)
	}

	if err := bus.AddMatchSignal(matchOptions(service, memberLayoutListChanged)...); err != nil {
		_ = bus.RemoveMatchSignal(matchOptions(service, memberLayoutChanged)...)
		return nil, fmt.Errorf("subscribe %s: %w", memberLayoutListChanged, err)
	}

	// the match rules succeed whether or not anyone owns the name
	var id uint32
	if err := src.call(ctx, methodGetLayout, &id); err != nil {
		_ = src.removeMatches()
		return nil, fmt.Errorf("get active layout: %w", err)
	}

	owner, err := nameOwner(ctx, bus, service, callTimeout)
	if err != nil {
		_ = src.removeMatches()
		return nil, err
	}
	src.owner = owner

	bus.Signal(src.signals)

	return src, nil
}

// nameOwner resolves the unique name currently owning service. Signals carry
// the unique name of their sender, never the well-known one.
func nameOwner(ctx context.Context, bus Bus, service string, callTimeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var owner string
	err := bus.Object(busDaemon, busDaemonPath).CallWithContext(ctx, methodGetNameOwner, 0, service).Store(&owner)
	if err != nil {
		return "", fmt.Errorf("get owner of %s: %w", service, err)
	}
	return owner, nil
}

func matchOptions(service, member string) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchSender(service),
		dbus.WithMatchObjectPath(objectPath),
		dbus.WithMatchInterface(iface),
		dbus.WithMatchMember(member),
	}
}

func (s *Source) Service() string {
	return s.service
}

type layoutEntry struct {
	ShortName   string
	DisplayName string
	LongName    string
}

func (e layoutEntry) toLayoutNames() layoutwatch.LayoutNames {
	displayName := e.DisplayName
	if displayName == "" {
		displayName = e.ShortName
	}

	return layoutwatch.LayoutNames{
		ShortName:   e.ShortName,
		DisplayName: displayName,
		LongName:    e.LongName,
	}
}

func (s *Source) Layouts() (layoutwatch.LayoutList, error) {
	var entries []layoutEntry
	if err := s.call(context.Background(), methodGetLayoutsList, &entries); err != nil {
		return nil, err
	}

	out := make(layoutwatch.LayoutList, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.toLayoutNames())
	}

	return out, nil
}

func (s *Source) ActiveLayout() (uint32, error) {
	var id uint32
	if err := s.call(context.Background(), methodGetLayout, &id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Source) call(ctx context.Context, method string, ret interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	if err := s.obj.CallWithContext(ctx, method, 0).Store(ret); err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	return nil
}

func (s *Source) Start(h layoutwatch.Handler) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatch(h)
	}()
	return nil
}

func (s *Source) dispatch(h layoutwatch.Handler) {
	for {
		select {
		case <-s.done:
			return
		case sig, ok := <-s.signals:
			if !ok {
				return
			}
			s.handleSignal(h, sig)
		}
	}
}

func (s *Source) handleSignal(h layoutwatch.Handler, sig *dbus.Signal) {
	if sig.Path != objectPath {
		return
	}
	if sig.Sender != s.owner && sig.Sender != s.service {
		s.log.Debugw("ignoring signal from foreign sender", "sender", sig.Sender, "signal", sig.Name)
		return
	}

	switch sig.Name {
	case iface + "." + memberLayoutChanged:
		var id uint32
		if err := dbus.Store(sig.Body, &id); err != nil {
			s.log.Warnw("decode layoutChanged", "error", err)
			return
		}
		h.LayoutChanged(id)

	case iface + "." + memberLayoutListChanged:
		layouts, err := s.Layouts()
		if err != nil {
			s.log.Warnw("refresh layouts", "error", err)
			return
		}
		h.LayoutListChanged(layouts)

		// the active index may have moved with the list
		id, err := s.ActiveLayout()
		if err != nil {
			s.log.Warnw("refresh active layout", "error", err)
			return
		}
		h.LayoutChanged(id)
	}
}

func (s *Source) removeMatches() error {
	return multierr.Combine(
		s.bus.RemoveMatchSignal(matchOptions(s.service, memberLayoutListChanged)...),
		s.bus.RemoveMatchSignal(matchOptions(s.service, memberLayoutChanged)...),
	)
}

func (s *Source) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()

		s.bus.RemoveSignal(s.signals)
		err = s.removeMatches()
		if s.ownsBus {
			err = multierr.Append(err, s.bus.Close())
		}
	})
	return err
}
