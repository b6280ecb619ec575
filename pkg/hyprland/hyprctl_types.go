package hyprland

import "strings"

type Keyboard struct {
	Name         string
	Main         bool
	Layouts      []string
	Variants     []string
	ActiveKeymap string
}

// Variant returns the variant configured for the i-th layout, or "".
func (k Keyboard) Variant(i int) string {
	if i < len(k.Variants) {
		return k.Variants[i]
	}
	return ""
}

type keyboard struct {
	Name         string `json:"name"`
	Layout       string `json:"layout"`
	Variant      string `json:"variant"`
	Options      string `json:"options"`
	ActiveKeymap string `json:"active_keymap"`
	Main         bool   `json:"main"`
}

type devices struct {
	Keyboards []keyboard `json:"keyboards"`
}

func (k keyboard) ToKeyboard() Keyboard {
	return Keyboard{
		Name:         k.Name,
		Main:         k.Main,
		Layouts:      splitList(k.Layout),
		Variants:     splitList(k.Variant),
		ActiveKeymap: k.ActiveKeymap,
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
