package domain

import (
	"strings"

	"golang.org/x/text/cases"
)

// folder performs Unicode case folding so "Röyksopp" and "RÖYKSOPP" share a
// natural key. cases.Caser values are not safe for concurrent use, hence one
// per call.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// EntityKey derives the natural key for a catalog entity: the case-folded
// external identifier when one exists, the case-folded name otherwise.
// Name-derived keys are prefixed so an id can never collide with a name.
func EntityKey(externalID, name string) string {
	if id := strings.TrimSpace(externalID); id != "" {
		return "id:" + fold(id)
	}
	return "name:" + fold(name)
}

// ScopedEntityKey derives a natural key scoped under a parent entity, used
// for albums and tracks keyed by name within their artist.
func ScopedEntityKey(externalID, name, parent string) string {
	if id := strings.TrimSpace(externalID); id != "" {
		return "id:" + fold(id)
	}
	return "name:" + fold(parent) + "/" + fold(name)
}
