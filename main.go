package main

import (
	"codeberg.org/miketth/layoutwatch/pkg/config"
	"codeberg.org/miketth/layoutwatch/pkg/layoutwatch"
	"codeberg.org/miketth/layoutwatch/pkg/session"
	"context"
	"fmt"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func main() {
	err := run()
	if err != nil {
		log.Fatalf("error: %+v", err)
	}
}

func run() error {
	configPath := pflag.String("config", "", "path to a .toml or .yaml config file")
	evdevXmlPath := pflag.String("evdev-xml-path", "", "path to evdev.xml")
	pollInterval := pflag.Duration("poll-interval", 0, "X keyboard polling period")
	debug := pflag.Bool("debug", false, "enable debug logging")
	pflag.Parse()

	log, err := newLogger(*debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *evdevXmlPath != "" {
		cfg.EvdevXMLPath = *evdevXmlPath
	}
	if *pollInterval > 0 {
		cfg.PollInterval = pollInterval.String()
	}

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher := session.NewWatcher(ctx, log, cfg)
	defer func() {
		if err := watcher.Close(); err != nil {
			log.Warnw("close watcher", "error", err)
		}
	}()

	watcher.OnLayoutChanged(func(shortName string) {
		log.Infow("layout changed", "layout", shortName)
	})
	watcher.OnLayoutListChanged(func(layouts layoutwatch.LayoutList) {
		log.Infow("layout list changed", "layouts", longNames(layouts))
	})

	log.Infow("started layoutwatch",
		"source", watcher.SourceName(),
		"layout", watcher.ActiveLayout(),
		"layouts", longNames(watcher.Layouts()),
	)

	err = systemdNotifyLoop(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("systemd notify: %w", err)
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.LoadDefault()
	}
	return config.Load(path)
}

func longNames(layouts layoutwatch.LayoutList) string {
	names := make([]string, 0, len(layouts))
	for _, l := range layouts {
		names = append(names, l.LongName)
	}
	return strings.Join(names, ", ")
}

func systemdNotifyLoop(ctx context.Context) error {
	// tell systemd that we're ready
	supported, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		return fmt.Errorf("notify systemd: %w", err)
	}
	if !supported {
		return nil
	}

	_, _ = daemon.SdNotify(false, "STATUS=Watching keyboard layouts")

	t, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return fmt.Errorf("check watchdog: %w", err)
	}
	// if watchdog is not enabled, we don't need to notify it
	if t == 0 {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			return ctx.Err()

		case <-time.After(t / 2):
			_, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			if err != nil {
				return fmt.Errorf("notify watchdog: %w", err)
			}
		}
	}
}

func newLogger(debug bool) (*zap.SugaredLogger, error) {
	loggerConfig := zap.NewDevelopmentConfig()

	loggerConfig.OutputPaths = []string{"stdout"}
	loggerConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		loggerConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		loggerConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	return logger.Sugar(), nil
}
