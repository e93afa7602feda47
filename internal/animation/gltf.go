package animation

import (
	"fmt"
	"path/filepath"

	"github.com/qmuntal/gltf"
)

// LoadGLTF reads the animation list of a .gltf or .glb asset. Unnamed
// animations get a positional name so the catalog stays addressable.
func LoadGLTF(path string) (*Catalog, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gltf: %w", err)
	}
	return catalogFromDocument(filepath.Base(path), doc)
}

func catalogFromDocument(source string, doc *gltf.Document) (*Catalog, error) {
	clips := make([]Clip, 0, len(doc.Animations))
	for i, anim := range doc.Animations {
		name := anim.Name
		if name == "" {
			name = fmt.Sprintf("Animation_%d", i)
		}
		clips = append(clips, Clip{
			Name:     name,
			Index:    i,
			Duration: animationDuration(doc, anim),
		})
	}

	catalog, err := NewCatalog(source, clips)
	if err != nil {
		return nil, fmt.Errorf("build catalog for %s: %w", source, err)
	}
	return catalog, nil
}

// animationDuration is the latest keyframe time over all samplers. Input
// accessors are required to carry min/max, so no buffer reads are needed.
func animationDuration(doc *gltf.Document, anim *gltf.Animation) float32 {
	var end float64
	for _, s := range anim.Samplers {
		idx := int(s.Input)
		if idx < 0 || idx >= len(doc.Accessors) {
			continue
		}
		acc := doc.Accessors[idx]
		if len(acc.Max) > 0 && acc.Max[0] > end {
			end = acc.Max[0]
		}
	}
	return float32(end)
}
