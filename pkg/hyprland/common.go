package hyprland

import (
	"errors"
	"fmt"
	"github.com/adrg/xdg"
	"net"
	"os"
	"path/filepath"
)

var ErrNotRunning = errors.New("hyprland might not be running")

type socketType int

const (
	requestSocket socketType = iota
	eventSocket
)

func (s socketType) fileName() string {
	switch s {
	case requestSocket:
		return ".socket.sock"
	case eventSocket:
		return ".socket2.sock"
	}
	return ""
}

func connect(sock socketType) (net.Conn, error) {
	socketPath, err := getSocketPath(sock)
	if err != nil {
		return nil, fmt.Errorf("get socket path: %w", err)
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	return conn, nil
}

// getSocketPath prefers $XDG_RUNTIME_DIR/hypr and falls back to the /tmp/hypr
// location used by older Hyprland releases.
func getSocketPath(sock socketType) (string, error) {
	signature := os.Getenv("HYPRLAND_INSTANCE_SIGNATURE")
	if signature == "" {
		return "", fmt.Errorf("HYPRLAND_INSTANCE_SIGNATURE is not set, %w", ErrNotRunning)
	}

	name := sock.fileName()
	if name == "" {
		return "", fmt.Errorf("unknown socket type: %d", sock)
	}

	candidates := []string{
		filepath.Join("/tmp/hypr", signature, name),
	}
	if xdg.RuntimeDir != "" {
		candidates = append([]string{filepath.Join(xdg.RuntimeDir, "hypr", signature, name)}, candidates...)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no %s socket for instance %s, %w", name, signature, ErrNotRunning)
}
