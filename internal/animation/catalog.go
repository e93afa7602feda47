// Package animation holds the clip catalog of a loaded model, the
// command-to-clip resolver and a software cross-fade mixer.
package animation

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyClipName is returned when a clip has no name.
	ErrEmptyClipName = errors.New("animation: empty clip name")
	// ErrDuplicateClip is returned when two clips share a name.
	ErrDuplicateClip = errors.New("animation: duplicate clip name")
)

// Clip is a named animation embedded in a model asset.
type Clip struct {
	Name     string  `json:"name"`
	Index    int     `json:"index"`
	Duration float32 `json:"duration"`
}

// Catalog maps clip names to clips for one loaded model. It is read-only
// once built; a model change replaces it wholesale.
type Catalog struct {
	source string
	clips  []Clip
	byName map[string]int
}

// NewCatalog validates clips and builds a catalog keeping their order.
func NewCatalog(source string, clips []Clip) (*Catalog, error) {
	c := &Catalog{
		source: source,
		clips:  make([]Clip, 0, len(clips)),
		byName: make(map[string]int, len(clips)),
	}
	for i, clip := range clips {
		if clip.Name == "" {
			return nil, fmt.Errorf("clip %d: %w", i, ErrEmptyClipName)
		}
		if _, ok := c.byName[clip.Name]; ok {
			return nil, fmt.Errorf("clip %q: %w", clip.Name, ErrDuplicateClip)
		}
		c.byName[clip.Name] = len(c.clips)
		c.clips = append(c.clips, clip)
	}
	return c, nil
}

// CatalogFromNames builds a catalog of zero-length clips, mostly for tests
// and for renderers that only expose names.
func CatalogFromNames(source string, names ...string) (*Catalog, error) {
	clips := make([]Clip, len(names))
	for i, n := range names {
		clips[i] = Clip{Name: n, Index: i}
	}
	return NewCatalog(source, clips)
}

// EmptyCatalog is the catalog of a model that failed to load.
func EmptyCatalog(source string) *Catalog {
	return &Catalog{source: source, byName: map[string]int{}}
}

// Source is the asset the catalog was built from.
func (c *Catalog) Source() string {
	if c == nil {
		return ""
	}
	return c.source
}

// Len returns the number of clips.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.clips)
}

// Names returns clip names in load order.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.clips))
	for i, clip := range c.clips {
		names[i] = clip.Name
	}
	return names
}

// Clips returns a copy of the clips in load order.
func (c *Catalog) Clips() []Clip {
	if c == nil {
		return nil
	}
	out := make([]Clip, len(c.clips))
	copy(out, c.clips)
	return out
}

// Clip looks a clip up by exact name.
func (c *Catalog) Clip(name string) (Clip, bool) {
	if c == nil {
		return Clip{}, false
	}
	i, ok := c.byName[name]
	if !ok {
		return Clip{}, false
	}
	return c.clips[i], true
}

// Has reports whether the catalog contains name.
func (c *Catalog) Has(name string) bool {
	_, ok := c.Clip(name)
	return ok
}
