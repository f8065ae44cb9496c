// Package debug holds developer tools: a Graphviz dump of the script heap
// and a runtime statistics server.
package debug

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/bradleyjkemp/memviz"
	"github.com/zurustar/kagami/pkg/gc"
	"github.com/zurustar/kagami/pkg/value"
)

// DefaultHeapLimit caps the number of objects in a heap graph.
const DefaultHeapLimit = 2000

// Node is one object of a heap snapshot.
type Node struct {
	Ref    string
	Type   string
	Class  string
	Values map[string]string
	Links  map[string]*Node
	Proto  *Node
}

// Snapshot copies the objects reachable from root into a tree of Nodes.
// Shared objects are shared Nodes. At most limit objects are copied; zero
// means DefaultHeapLimit.
func Snapshot(h *value.Heap, root value.Value, limit int) *Node {
	if limit <= 0 {
		limit = DefaultHeapLimit
	}
	seen := make(map[gc.Ref]*Node)
	var visit func(v value.Value) *Node
	visit = func(v value.Value) *Node {
		o, ok := h.Object(v)
		if !ok {
			return nil
		}
		if n, ok := seen[v.Ref()]; ok {
			return n
		}
		if len(seen) >= limit {
			return nil
		}
		n := &Node{Ref: v.Ref().String(), Type: h.TypeOf(v)}
		seen[v.Ref()] = n
		if c := o.Class(); c != nil {
			n.Class = c.Name.String()
		}
		keys := slices.Clone(o.Keys())
		slices.Sort(keys)
		for _, k := range keys {
			p, ok := o.Own(k)
			if !ok {
				continue
			}
			if p.IsAccessor() {
				n.value(k, "[accessor]")
				continue
			}
			if p.Value.IsObject() {
				if child := visit(p.Value); child != nil {
					if n.Links == nil {
						n.Links = make(map[string]*Node)
					}
					n.Links[k] = child
					continue
				}
			}
			n.value(k, p.Value.String())
		}
		for i := range o.NumSlots() {
			s, _ := o.Slot(i)
			n.value(fmt.Sprintf("slot%d", i), s.String())
		}
		if !o.Proto().IsNil() {
			n.Proto = visit(value.FromRef(o.Proto()))
		}
		return n
	}
	return visit(root)
}

func (n *Node) value(k, v string) {
	if n.Values == nil {
		n.Values = make(map[string]string)
	}
	n.Values[k] = v
}

// WriteHeapGraph writes the snapshot of root as a Graphviz graph.
func WriteHeapGraph(w io.Writer, h *value.Heap, root value.Value, limit int) {
	memviz.Map(w, Snapshot(h, root, limit))
}

// DumpHeap writes the graph of everything reachable from the global object
// to path.
func DumpHeap(path string, h *value.Heap) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create heap dump: %w", err)
	}
	bw := bufio.NewWriter(f)
	WriteHeapGraph(bw, h, h.Global(), 0)
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write heap dump: %w", err)
	}
	return f.Close()
}
