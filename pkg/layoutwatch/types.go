package layoutwatch

import (
	"slices"
	"strings"
)

const shortNameLength = 2

type LayoutNames struct {
	ShortName   string
	DisplayName string
	LongName    string
}

// NewLayoutNames derives the canonical names from a native layout name such as
// "English (US)": display name "En", short name "en".
func NewLayoutNames(longName string) LayoutNames {
	displayName := truncate(longName, shortNameLength)
	return LayoutNames{
		ShortName:   strings.ToLower(displayName),
		DisplayName: displayName,
		LongName:    longName,
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

type LayoutList []LayoutNames

func (l LayoutList) Equal(other LayoutList) bool {
	return slices.Equal(l, other)
}

func (l LayoutList) Clone() LayoutList {
	if l == nil {
		return nil
	}
	return slices.Clone(l)
}

// Index returns the position of the first layout matching the predicate, or -1.
func (l LayoutList) Index(match func(LayoutNames) bool) int {
	return slices.IndexFunc(l, match)
}
