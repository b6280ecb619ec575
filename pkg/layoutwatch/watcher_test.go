package layoutwatch

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"testing"
)

type fakeSource struct {
	layouts  LayoutList
	id       uint32
	idErr    error
	handler  Handler
	started  int
	closed   int
	startErr error
}

func (s *fakeSource) Layouts() (LayoutList, error) { return s.layouts, nil }
func (s *fakeSource) ActiveLayout() (uint32, error) { return s.id, s.idErr }

func (s *fakeSource) Start(h Handler) error {
	s.started++
	s.handler = h
	return s.startErr
}

func (s *fakeSource) Close() error {
	s.closed++
	return nil
}

func factory(name string, src *fakeSource, err error, calls *int) SourceFactory {
	return SourceFactory{
		Name: name,
		Open: func(context.Context) (Source, error) {
			if calls != nil {
				*calls++
			}
			if err != nil {
				return nil, err
			}
			return src, nil
		},
	}
}

var testLayouts = LayoutList{
	NewLayoutNames("English (US)"),
	NewLayoutNames("German"),
	NewLayoutNames("Russian"),
}

func TestWatcherUsesFirstWorkingCandidate(t *testing.T) {
	first := &fakeSource{idErr: errors.New("no reply")}
	second := &fakeSource{layouts: testLayouts, id: 1}
	fallback := &fakeSource{}

	w := New(context.Background(), zaptest.NewLogger(t).Sugar(),
		[]SourceFactory{factory("first", first, nil, nil), factory("second", second, nil, nil)},
		factory("poll", fallback, nil, nil),
	)

	assert.Equal(t, "second", w.SourceName())
	assert.Equal(t, 1, first.closed, "failed candidate must be closed")
	assert.Equal(t, 0, first.started)
	assert.Equal(t, 1, second.started)
	assert.Equal(t, 0, fallback.started)
	assert.Equal(t, "ge", w.ActiveLayout())
	assert.Equal(t, testLayouts, w.Layouts())
}

func TestWatcherFallsBackWhenAllCandidatesFail(t *testing.T) {
	var serviceCalls int
	fallback := &fakeSource{layouts: testLayouts, id: 2}

	w := New(context.Background(), zaptest.NewLogger(t).Sugar(),
		[]SourceFactory{factory("dbus", nil, errors.New("connection refused"), &serviceCalls)},
		factory("poll", fallback, nil, nil),
	)

	assert.Equal(t, "poll", w.SourceName())
	assert.Equal(t, 1, serviceCalls)
	assert.Equal(t, 1, fallback.started)
	assert.Equal(t, "ru", w.ActiveLayout())

	fallback.handler.LayoutChanged(0)
	assert.Equal(t, 1, serviceCalls, "no service calls after the first failure")

	require.NoError(t, w.Close())
	assert.Equal(t, 1, fallback.closed)
}

func TestWatcherWithoutAnySource(t *testing.T) {
	w := New(context.Background(), zaptest.NewLogger(t).Sugar(),
		[]SourceFactory{factory("dbus", nil, errors.New("refused"), nil)},
		factory("poll", nil, errors.New("no display"), nil),
	)

	assert.Equal(t, "", w.SourceName())
	assert.Equal(t, "", w.ActiveLayout())
	assert.Empty(t, w.Layouts())
	assert.Equal(t, uint32(0), w.ActiveLayoutID())
	assert.NoError(t, w.Close())
}

func TestWatcherNotifications(t *testing.T) {
	src := &fakeSource{layouts: testLayouts, id: 0}
	w := New(context.Background(), zaptest.NewLogger(t).Sugar(),
		[]SourceFactory{factory("dbus", src, nil, nil)}, SourceFactory{})

	var changes []string
	var lists []LayoutList
	w.OnLayoutChanged(func(shortName string) { changes = append(changes, shortName) })
	w.OnLayoutListChanged(func(l LayoutList) { lists = append(lists, l) })

	src.handler.LayoutChanged(1)
	src.handler.LayoutChanged(1)
	src.handler.LayoutChanged(2)
	assert.Equal(t, []string{"ge", "ru"}, changes)

	newList := LayoutList{NewLayoutNames("French"), NewLayoutNames("Polish")}
	src.handler.LayoutListChanged(newList)
	require.Len(t, lists, 1)
	assert.Equal(t, newList, lists[0])
	assert.Equal(t, newList, w.Layouts())

	// Russian is gone, so the first layout of the new list becomes active
	assert.Equal(t, uint32(0), w.ActiveLayoutID())
	assert.Equal(t, "fr", w.ActiveLayout())
	assert.Equal(t, []string{"ge", "ru", "fr"}, changes)
}

func TestWatcherSwitchBetweenLayoutsSharingShortName(t *testing.T) {
	src := &fakeSource{layouts: LayoutList{
		NewLayoutNames("English (US)"),
		NewLayoutNames("English (UK)"),
		NewLayoutNames("German"),
	}}
	w := New(context.Background(), zaptest.NewLogger(t).Sugar(),
		[]SourceFactory{factory("dbus", src, nil, nil)}, SourceFactory{})

	var changes []string
	w.OnLayoutChanged(func(shortName string) { changes = append(changes, shortName) })

	src.handler.LayoutChanged(1)
	assert.Equal(t, []string{"en"}, changes)
	assert.Equal(t, uint32(1), w.ActiveLayoutID())

	src.handler.LayoutChanged(0)
	assert.Equal(t, []string{"en", "en"}, changes)
}

func TestWatcherListChangeDropsActiveLayout(t *testing.T) {
	src := &fakeSource{layouts: testLayouts, id: 1}
	w := New(context.Background(), zaptest.NewLogger(t).Sugar(),
		[]SourceFactory{factory("dbus", src, nil, nil)}, SourceFactory{})

	var events []string
	w.OnLayoutListChanged(func(LayoutList) { events = append(events, "list") })
	w.OnLayoutChanged(func(shortName string) { events = append(events, shortName) })

	src.handler.LayoutListChanged(LayoutList{NewLayoutNames("French")})
	assert.Equal(t, []string{"list", "fr"}, events)
	assert.Equal(t, "fr", w.ActiveLayout())

	// the source confirming the clamped id is not a second change
	src.handler.LayoutChanged(0)
	assert.Equal(t, []string{"list", "fr"}, events)
}

func TestWatcherListChangeFollowsActiveLayout(t *testing.T) {
	src := &fakeSource{layouts: testLayouts, id: 1}
	w := New(context.Background(), zaptest.NewLogger(t).Sugar(),
		[]SourceFactory{factory("dbus", src, nil, nil)}, SourceFactory{})

	var changes []string
	w.OnLayoutChanged(func(shortName string) { changes = append(changes, shortName) })

	src.handler.LayoutListChanged(LayoutList{NewLayoutNames("Russian"), NewLayoutNames("German")})
	assert.Equal(t, uint32(1), w.ActiveLayoutID())
	assert.Equal(t, "ge", w.ActiveLayout())

	src.handler.LayoutChanged(1)
	assert.Empty(t, changes)
}

func TestWatcherIgnoresOutOfRangeIDs(t *testing.T) {
	src := &fakeSource{layouts: testLayouts, id: 1}
	w := New(context.Background(), zaptest.NewLogger(t).Sugar(),
		[]SourceFactory{factory("dbus", src, nil, nil)}, SourceFactory{})

	var changes []string
	w.OnLayoutChanged(func(shortName string) { changes = append(changes, shortName) })

	src.handler.LayoutChanged(7)
	assert.Empty(t, changes)
	assert.Equal(t, uint32(1), w.ActiveLayoutID())
	assert.Equal(t, "ge", w.ActiveLayout())
}

func TestWatcherOutOfRangeInitialID(t *testing.T) {
	src := &fakeSource{layouts: testLayouts, id: 9}
	w := New(context.Background(), zaptest.NewLogger(t).Sugar(),
		[]SourceFactory{factory("dbus", src, nil, nil)}, SourceFactory{})

	assert.Equal(t, "dbus", w.SourceName())
	assert.Equal(t, uint32(0), w.ActiveLayoutID())
	assert.Equal(t, "en", w.ActiveLayout())
}

func TestWatcherLayoutsIsSnapshot(t *testing.T) {
	src := &fakeSource{layouts: testLayouts.Clone(), id: 0}
	w := New(context.Background(), zaptest.NewLogger(t).Sugar(),
		[]SourceFactory{factory("dbus", src, nil, nil)}, SourceFactory{})

	got := w.Layouts()
	got[0].ShortName = "zz"
	assert.Equal(t, "en", w.ActiveLayout())
}
