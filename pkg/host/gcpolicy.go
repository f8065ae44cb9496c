package host

import (
	"fmt"
	"strings"
)

// GCMode selects when the player runs the collector.
type GCMode uint8

const (
	// GCFull runs a stop-the-world collection between ticks once enough
	// objects were allocated since the last one.
	GCFull GCMode = iota
	// GCIncremental advances the collector by a bounded amount every tick.
	GCIncremental
	// GCManual leaves collection to emergency cycles and explicit calls.
	GCManual
)

func (g GCMode) String() string {
	switch g {
	case GCFull:
		return "full"
	case GCIncremental:
		return "incremental"
	case GCManual:
		return "manual"
	}
	return fmt.Sprintf("GCMode(%d)", uint8(g))
}

// ParseGCMode maps a configuration string to a mode.
func ParseGCMode(s string) (GCMode, error) {
	switch strings.ToLower(s) {
	case "", "full":
		return GCFull, nil
	case "incremental":
		return GCIncremental, nil
	case "manual", "off":
		return GCManual, nil
	}
	return GCFull, fmt.Errorf("unknown gc mode %q", s)
}

// GCPolicy configures collection between ticks.
type GCPolicy struct {
	Mode GCMode
	// Threshold is the number of allocations since the last collection
	// that triggers a full collection. Zero collects every tick.
	Threshold int
	// StepWork is the work done per tick in incremental mode.
	StepWork int
}

// DefaultGCPolicy collects fully after 4096 allocations.
var DefaultGCPolicy = GCPolicy{Mode: GCFull, Threshold: 4096, StepWork: 256}

// collect runs the collector according to the policy. It is called after
// all script work of a tick, when no activation is live.
func (p *Player) collect() {
	h := p.m.Heap()
	h.Safepoint()
	arena := h.Arena()
	switch p.gc.Mode {
	case GCFull:
		allocated := arena.Stats().Allocated
		if allocated-p.lastCollect < p.gc.Threshold {
			return
		}
		p.lastCollect = allocated
		before := arena.Len()
		arena.Collect()
		p.log.Debug("collection finished", "tick", p.tick, "live", arena.Len(), "freed", before-arena.Len())
	case GCIncremental:
		work := p.gc.StepWork
		if work <= 0 {
			work = DefaultGCPolicy.StepWork
		}
		if arena.Step(work) {
			p.log.Debug("incremental cycle finished", "tick", p.tick, "live", arena.Len())
		}
	}
}

// Collect runs a full collection now. It must not be called from inside a
// script.
func (p *Player) Collect() {
	if p.m == nil || p.m.Depth() > 0 {
		return
	}
	h := p.m.Heap()
	h.Safepoint()
	h.Arena().Collect()
	p.lastCollect = h.Arena().Stats().Allocated
}
