// Package session assembles the layout sources available to a desktop session
// into a Watcher.
package session

import (
	"codeberg.org/miketth/layoutwatch/pkg/config"
	"codeberg.org/miketth/layoutwatch/pkg/hyprland"
	"codeberg.org/miketth/layoutwatch/pkg/kdekeyboard"
	"codeberg.org/miketth/layoutwatch/pkg/layoutwatch"
	"codeberg.org/miketth/layoutwatch/pkg/xkb"
	"codeberg.org/miketth/layoutwatch/pkg/xkblayouts"
	"context"
	"fmt"
	"go.uber.org/zap"
)

// NewWatcher tries the D-Bus keyboard layouts service, then Hyprland, and
// falls back to polling the X keyboard extension.
func NewWatcher(ctx context.Context, log *zap.SugaredLogger, cfg config.Config) *layoutwatch.Watcher {
	return layoutwatch.New(ctx, log, Candidates(log, cfg), Fallback(log, cfg, xkb.NewBackend()))
}

func Candidates(log *zap.SugaredLogger, cfg config.Config) []layoutwatch.SourceFactory {
	var candidates []layoutwatch.SourceFactory

	if len(cfg.Services) > 0 {
		candidates = append(candidates, layoutwatch.SourceFactory{
			Name: "dbus",
			Open: func(ctx context.Context) (layoutwatch.Source, error) {
				src, err := kdekeyboard.Connect(ctx, log.Named("dbus"), cfg.Services, cfg.CallTimeoutDuration())
				if err != nil {
					return nil, err
				}
				return src, nil
			},
		})
	}

	if cfg.HyprlandEnabled() {
		candidates = append(candidates, layoutwatch.SourceFactory{
			Name: "hyprland",
			Open: func(context.Context) (layoutwatch.Source, error) {
				client, err := hyprland.Connect()
				if err != nil {
					return nil, fmt.Errorf("connect: %w", err)
				}
				registry := loadRegistry(log, cfg.EvdevXMLPath)
				return hyprland.NewSource(log.Named("hyprland"), client, hyprland.NewHyprctl(), registry), nil
			},
		})
	}

	return candidates
}

func Fallback(log *zap.SugaredLogger, cfg config.Config, backend xkb.Backend) layoutwatch.SourceFactory {
	return layoutwatch.SourceFactory{
		Name: "xkb",
		Open: func(context.Context) (layoutwatch.Source, error) {
			return xkb.NewSource(log.Named("xkb"), backend,
				xkb.WithInterval(cfg.PollIntervalDuration()),
				xkb.WithDisplayEnv(cfg.DisplayEnv),
			), nil
		},
	}
}

// loadRegistry returns nil when the registry can't be read; layout codes are
// then used as names.
func loadRegistry(log *zap.SugaredLogger, path string) *xkblayouts.Registry {
	registry, err := xkblayouts.ParseLayouts(path)
	if err != nil {
		log.Warnw("parse layouts registry", "path", path, "error", err)
		return nil
	}
	return registry
}
