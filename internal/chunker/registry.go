package chunker

import (
	"path/filepath"
	"strings"
)

// Registry routes file paths to splitting strategies by extension, with an
// optional fallback for unregistered types.
type Registry struct {
	splitters map[string]Splitter
	fallback  Splitter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{splitters: make(map[string]Splitter)}
}

// Register associates a file extension (with or without the leading dot)
// with a splitter. Later registrations for the same extension win.
func (r *Registry) Register(ext string, s Splitter) {
	r.splitters[normalizeExt(ext)] = s
}

// SetFallback sets the splitter used for extensions with no registration.
func (r *Registry) SetFallback(s Splitter) {
	r.fallback = s
}

// Lookup returns the splitter for path's extension, the fallback if none is
// registered, or nil when the file type cannot be processed at all.
func (r *Registry) Lookup(path string) Splitter {
	if s, ok := r.splitters[normalizeExt(filepath.Ext(path))]; ok {
		return s
	}
	return r.fallback
}

// Extensions returns the set of registered extensions (without dots), in the
// form the directory walker filters on.
func (r *Registry) Extensions() map[string]bool {
	exts := make(map[string]bool, len(r.splitters))
	for ext := range r.splitters {
		exts[ext] = true
	}
	return exts
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
