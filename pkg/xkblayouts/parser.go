package xkblayouts

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
)

const DefaultPath = "/usr/share/X11/xkb/rules/evdev.xml"

func ParseLayouts(path string) (*Registry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	return Decode(file)
}

func Decode(r io.Reader) (*Registry, error) {
	registry := &Registry{}
	if err := xml.NewDecoder(r).Decode(registry); err != nil {
		return nil, fmt.Errorf("decode xml: %w", err)
	}

	return registry, nil
}

// Describe returns the description of a layout, or of one of its variants when
// variant is set. An unknown layout or variant yields "".
func (r *Registry) Describe(layout, variant string) string {
	if r == nil {
		return ""
	}

	for _, l := range r.LayoutList.Layout {
		if l.ConfigItem.Name != layout {
			continue
		}
		if variant == "" {
			return l.ConfigItem.Description
		}

		for _, v := range l.VariantList.Variant {
			if v.ConfigItem.Name == variant {
				return v.ConfigItem.Description
			}
		}
		return ""
	}

	return ""
}

// ShortDescription returns the abbreviated label of a layout, or "" when the
// layout is unknown or has none.
func (r *Registry) ShortDescription(layout string) string {
	if r == nil {
		return ""
	}

	for _, l := range r.LayoutList.Layout {
		if l.ConfigItem.Name == layout {
			return l.ConfigItem.ShortDescription
		}
	}
	return ""
}

// LongName is the native display name for a layout as the keyboard extension
// reports it. Entries without a description fall back to their short
// description, and unknown ones to the layout code.
func (r *Registry) LongName(layout, variant string) string {
	if desc := r.Describe(layout, variant); desc != "" {
		return desc
	}
	if short := r.ShortDescription(layout); short != "" {
		return short
	}
	return layout
}
