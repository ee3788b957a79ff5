// Package upload classifies uploaded files into content kinds and
// stores them under a fixed directory. Classification is extension
// based and never fails: anything unrecognized is a generic file.
package upload

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/xid"

	"group-chat-service/internal/content"
)

// Platform MIME tables are inconsistent for common media extensions
// (a minimal container has no /etc/mime.types), so the ones the
// classifier cares about are registered explicitly.
func init() {
	for ext, typ := range map[string]string{
		".mp3":  "audio/mpeg",
		".ogg":  "audio/ogg",
		".wav":  "audio/wav",
		".mp4":  "video/mp4",
		".webm": "video/webm",
		".mov":  "video/quicktime",
	} {
		if err := mime.AddExtensionType(ext, typ); err != nil {
			panic(fmt.Sprintf("registering mime type for %s: %v", ext, err))
		}
	}
}

var invalidChars = regexp.MustCompile(`[^A-Za-z0-9]+`)

// SplitExtension splits a filename at the last dot. A filename without
// a dot yields the whole name and an empty extension.
func SplitExtension(filename string) (name, ext string) {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return filename, ""
	}
	return filename[:i], filename[i+1:]
}

// SanitizeName collapses every run of characters outside [A-Za-z0-9]
// in the name part to a single dash. The extension is kept as is.
func SanitizeName(filename string) string {
	name, ext := SplitExtension(filename)
	name = invalidChars.ReplaceAllString(name, "-")
	if ext == "" {
		return name
	}
	return name + "." + ext
}

// Classify sanitizes the filename and assigns a content kind from the
// MIME type guessed off the sanitized name's extension.
func Classify(filename string) (kind, sanitized string) {
	sanitized = SanitizeName(filename)

	mimeType := ""
	if _, ext := SplitExtension(sanitized); ext != "" {
		mimeType = mime.TypeByExtension("." + ext)
	}

	return content.KindForMIME(mimeType), sanitized
}

// StoredFile describes one persisted upload.
type StoredFile struct {
	Kind string
	Name string
}

// Classifier stores uploaded files under a fixed upload directory.
type Classifier struct {
	dir string
}

// NewClassifier creates the upload directory if needed.
func NewClassifier(dir string) (*Classifier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory %s: %w", dir, err)
	}
	return &Classifier{dir: dir}, nil
}

// Save classifies the upload and streams it into the upload directory.
// When the sanitized name is already taken the stored name gets an xid
// inserted before the extension, so colliding uploads keep both files.
// The returned name is the one actually stored.
func (c *Classifier) Save(filename string, r io.Reader) (StoredFile, error) {
	kind, name := Classify(filename)

	path := filepath.Join(c.dir, name)
	if _, err := os.Stat(path); err == nil {
		base, ext := SplitExtension(name)
		name = base + "-" + xid.New().String()
		if ext != "" {
			name += "." + ext
		}
		path = filepath.Join(c.dir, name)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return StoredFile{}, fmt.Errorf("creating %s: %w", path, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return StoredFile{}, fmt.Errorf("writing %s: %w", path, err)
	}

	if err := f.Close(); err != nil {
		return StoredFile{}, fmt.Errorf("closing %s: %w", path, err)
	}

	return StoredFile{Kind: kind, Name: name}, nil
}
