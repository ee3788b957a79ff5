// Package content holds the fixed enumeration of message content
// kinds. The kind table is loaded from the database once at startup
// and never changes afterwards.
package content

import (
	"fmt"
	"strings"
)

// Canonical kind names as seeded in the message_content_kinds table.
const (
	Text  = "text"
	Image = "image"
	Sound = "sound"
	Video = "video"
	File  = "file"
)

// Kind is a single row of the kind lookup table.
type Kind struct {
	ID   int16
	Name string
}

// Registry resolves kind table ids to display names and back.
// Immutable after construction, safe for concurrent use.
type Registry struct {
	byID   map[int16]string
	byName map[string]int16
}

// NewRegistry builds a Registry from the rows loaded at startup.
// Every canonical kind must be present.
func NewRegistry(kinds []Kind) (*Registry, error) {
	r := &Registry{
		byID:   make(map[int16]string, len(kinds)),
		byName: make(map[string]int16, len(kinds)),
	}

	for _, k := range kinds {
		r.byID[k.ID] = k.Name
		r.byName[k.Name] = k.ID
	}

	for _, name := range []string{Text, Image, Sound, Video, File} {
		if _, ok := r.byName[name]; !ok {
			return nil, fmt.Errorf("content kind %q is missing from the kind table", name)
		}
	}

	return r, nil
}

// IDFor returns the table id of a canonical kind name.
func (r *Registry) IDFor(name string) (int16, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// NameFor returns the display name of a kind id.
func (r *Registry) NameFor(id int16) (string, bool) {
	name, ok := r.byID[id]
	return name, ok
}

// KindForMIME maps a MIME type to a kind name by its top-level family:
// audio becomes sound, video stays video, image stays image. Anything
// else, including an empty or unguessable MIME type, is a generic file.
func KindForMIME(mimeType string) string {
	family := mimeType
	if i := strings.Index(mimeType, "/"); i >= 0 {
		family = mimeType[:i]
	}

	switch family {
	case "audio":
		return Sound
	case "video":
		return Video
	case "image":
		return Image
	default:
		return File
	}
}
