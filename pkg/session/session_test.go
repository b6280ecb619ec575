package session

import (
	"codeberg.org/miketth/layoutwatch/pkg/config"
	"codeberg.org/miketth/layoutwatch/pkg/layoutwatch"
	"codeberg.org/miketth/layoutwatch/pkg/xkb"
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"sync"
	"testing"
)

type fakeBackend struct {
	lock   sync.Mutex
	opens  int
	closes int
}

func (b *fakeBackend) Open(string) (xkb.Keyboard, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.opens++
	return &fakeKeyboard{backend: b}, nil
}

type fakeKeyboard struct {
	backend *fakeBackend
}

func (k *fakeKeyboard) Groups() ([]xkb.Group, error) {
	return []xkb.Group{{Atom: 7, Name: "English (US)"}, {Atom: 8, Name: "German"}}, nil
}

func (k *fakeKeyboard) ActiveGroup() (uint64, error) {
	return 8, nil
}

func (k *fakeKeyboard) Close() error {
	k.backend.lock.Lock()
	defer k.backend.lock.Unlock()
	k.backend.closes++
	return nil
}

func TestCandidatesFollowConfig(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()

	cfg := config.Default()
	names := func(factories []layoutwatch.SourceFactory) []string {
		var out []string
		for _, f := range factories {
			out = append(out, f.Name)
		}
		return out
	}
	assert.Equal(t, []string{"dbus", "hyprland"}, names(Candidates(log, cfg)))

	disabled := false
	cfg.Hyprland = &disabled
	cfg.Services = nil
	assert.Empty(t, Candidates(log, cfg))
}

func TestFallsBackToPolling(t *testing.T) {
	t.Setenv("DBUS_SESSION_BUS_ADDRESS", "unix:path=/nonexistent/layoutwatch-test-bus")
	t.Setenv("HYPRLAND_INSTANCE_SIGNATURE", "")
	t.Setenv("LAYOUTWATCH_TEST_DISPLAY", ":42")

	log := zaptest.NewLogger(t).Sugar()
	cfg := config.Default()
	cfg.DisplayEnv = "LAYOUTWATCH_TEST_DISPLAY"

	backend := &fakeBackend{}
	w := layoutwatch.New(context.Background(), log, Candidates(log, cfg), Fallback(log, cfg, backend))

	assert.Equal(t, "xkb", w.SourceName())
	assert.Equal(t, layoutwatch.LayoutList{
		layoutwatch.NewLayoutNames("English (US)"),
		layoutwatch.NewLayoutNames("German"),
	}, w.Layouts())
	assert.Equal(t, "ge", w.ActiveLayout())

	require.NoError(t, w.Close())
	backend.lock.Lock()
	defer backend.lock.Unlock()
	assert.Equal(t, backend.opens, backend.closes)
}
