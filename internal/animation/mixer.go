package animation

import (
	"math"
	"sort"
)

// Mixer plays clips with cross-fades. A renderer provides its own
// implementation; SoftwareMixer tracks weights and times without one.
type Mixer interface {
	// Play makes name the single active clip, fading it in and every other
	// playing clip out over fade seconds.
	Play(name string, fade float32)
	// StopAll fades every clip out.
	StopAll(fade float32)
	// Update advances weights and clip times by dt seconds.
	Update(dt float32)
	// Active returns the active clip or "" when none.
	Active() string
}

type track struct {
	weight float32
	target float32
	rate   float32
	time   float32
}

// SoftwareMixer is a headless Mixer. It is not safe for concurrent use.
type SoftwareMixer struct {
	catalog *Catalog
	tracks  map[string]*track
	active  string
}

// NewSoftwareMixer creates a mixer for clips of catalog, which may be nil.
func NewSoftwareMixer(catalog *Catalog) *SoftwareMixer {
	return &SoftwareMixer{
		catalog: catalog,
		tracks:  make(map[string]*track),
	}
}

// SetCatalog swaps the model and stops everything immediately.
func (m *SoftwareMixer) SetCatalog(catalog *Catalog) {
	m.catalog = catalog
	m.tracks = make(map[string]*track)
	m.active = ""
}

// Play implements Mixer. Replaying the active clip restarts it.
func (m *SoftwareMixer) Play(name string, fade float32) {
	if name == "" {
		return
	}
	rate := fadeRate(fade)

	t, ok := m.tracks[name]
	if !ok {
		t = &track{}
		m.tracks[name] = t
	}
	t.target = 1
	t.rate = rate
	t.time = 0
	if rate == 0 {
		t.weight = 1
	}

	for other, ot := range m.tracks {
		if other == name {
			continue
		}
		ot.target = 0
		ot.rate = rate
		if rate == 0 {
			delete(m.tracks, other)
		}
	}
	m.active = name
}

// StopAll implements Mixer.
func (m *SoftwareMixer) StopAll(fade float32) {
	rate := fadeRate(fade)
	for name, t := range m.tracks {
		t.target = 0
		t.rate = rate
		if rate == 0 {
			delete(m.tracks, name)
		}
	}
	m.active = ""
}

// Update implements Mixer.
func (m *SoftwareMixer) Update(dt float32) {
	if dt <= 0 {
		return
	}
	for name, t := range m.tracks {
		step := t.rate * dt
		switch {
		case t.weight < t.target:
			t.weight = float32(math.Min(float64(t.target), float64(t.weight+step)))
		case t.weight > t.target:
			t.weight = float32(math.Max(float64(t.target), float64(t.weight-step)))
		}
		if t.weight == 0 && t.target == 0 {
			delete(m.tracks, name)
			continue
		}

		t.time += dt
		if clip, ok := m.catalog.Clip(name); ok && clip.Duration > 0 {
			t.time = float32(math.Mod(float64(t.time), float64(clip.Duration)))
		}
	}
}

// Active implements Mixer.
func (m *SoftwareMixer) Active() string { return m.active }

// Weight returns the blend weight of name, 0 when it is not playing.
func (m *SoftwareMixer) Weight(name string) float32 {
	if t, ok := m.tracks[name]; ok {
		return t.weight
	}
	return 0
}

// Time returns the playback position of name.
func (m *SoftwareMixer) Time(name string) float32 {
	if t, ok := m.tracks[name]; ok {
		return t.time
	}
	return 0
}

// playing lists clips with a non-zero weight or pending fade-in, sorted.
func (m *SoftwareMixer) playing() []string {
	names := make([]string, 0, len(m.tracks))
	for name := range m.tracks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func fadeRate(fade float32) float32 {
	if fade <= 0 {
		return 0
	}
	return 1 / fade
}
