// Package scene is the boundary to the rendering engine: named nodes whose
// transforms the avatar controller and the expression mapper write each tick.
package scene

import (
	"sort"

	"github.com/go-gl/mathgl/mgl32"
)

// Well-known node names.
const (
	NodeRoot     = "root"
	NodeHead     = "head"
	NodeEyes     = "eyes"
	NodeMouth    = "mouth"
	NodeEyebrows = "eyebrows"
	NodeNose     = "nose"
)

// Scene looks nodes up by name. A missing node is not an error; callers
// skip the feature that would drive it.
type Scene interface {
	Node(name string) (*Node, bool)
}

// Node is a transform in the scene graph.
type Node struct {
	Name     string     `json:"name"`
	Position mgl32.Vec3 `json:"position"`
	Rotation mgl32.Vec3 `json:"rotation"`
	Scale    mgl32.Vec3 `json:"scale"`
	Tint     mgl32.Vec3 `json:"tint"`
}

// NewNode returns a node with unit scale and white tint.
func NewNode(name string) *Node {
	return &Node{
		Name:  name,
		Scale: mgl32.Vec3{1, 1, 1},
		Tint:  mgl32.Vec3{1, 1, 1},
	}
}

// Graph is an in-memory Scene used headless and in tests. Like the real
// scene it belongs to the tick goroutine.
type Graph struct {
	nodes map[string]*Node
}

// NewGraph creates a graph holding a root node plus the given names.
func NewGraph(names ...string) *Graph {
	g := &Graph{nodes: make(map[string]*Node, len(names)+1)}
	g.Add(NodeRoot)
	for _, n := range names {
		g.Add(n)
	}
	return g
}

// NewAvatarGraph creates a graph with every node the avatar drives.
func NewAvatarGraph() *Graph {
	return NewGraph(NodeHead, NodeEyes, NodeMouth, NodeEyebrows, NodeNose)
}

// Add inserts a node, returning the existing one if name is taken.
func (g *Graph) Add(name string) *Node {
	if n, ok := g.nodes[name]; ok {
		return n
	}
	n := NewNode(name)
	g.nodes[name] = n
	return n
}

// Node implements Scene.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Names returns the node names, sorted.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Snapshot copies every node.
func (g *Graph) Snapshot() map[string]Node {
	out := make(map[string]Node, len(g.nodes))
	for name, n := range g.nodes {
		out[name] = *n
	}
	return out
}
