package hyprland

import (
	"encoding/json"
	"fmt"
	"net"
)

// Hyprctl sends requests over the Hyprland request socket.
type Hyprctl struct{}

func NewHyprctl() *Hyprctl {
	return &Hyprctl{}
}

func (c *Hyprctl) GetKeyboards() ([]Keyboard, error) {
	conn, err := c.makeRequest("devices", "j")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return decodeKeyboards(json.NewDecoder(conn))
}

func decodeKeyboards(dec *json.Decoder) ([]Keyboard, error) {
	var devs devices
	if err := dec.Decode(&devs); err != nil {
		return nil, fmt.Errorf("unmarshal devices: %w", err)
	}

	out := make([]Keyboard, 0, len(devs.Keyboards))
	for _, k := range devs.Keyboards {
		out = append(out, k.ToKeyboard())
	}

	return out, nil
}

func (c *Hyprctl) makeRequest(request string, args string) (net.Conn, error) {
	conn, err := connect(requestSocket)
	if err != nil {
		return nil, fmt.Errorf("connect hyprctl socket: %w", err)
	}

	_, err = conn.Write([]byte(fmt.Sprintf("%s/%s", args, request)))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("write to hyprctl socket: %w", err)
	}

	return conn, nil
}
