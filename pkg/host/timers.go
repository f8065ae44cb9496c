package host

import (
	"cmp"
	"slices"
	"time"

	"github.com/zurustar/kagami/pkg/gc"
	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

// MinInterval is the shortest period a script timer may have.
const MinInterval = 10 * time.Millisecond

// timer is a pending setInterval or setTimeout.
type timer struct {
	id       int
	due      time.Time
	interval time.Duration
	repeat   bool
	// fn is called with this when method is empty; otherwise this[method].
	fn     value.Value
	this   value.Value
	method string
	args   []value.Value
}

// timers is the player's timer table. Ids start at 1 and are never reused.
type timers struct {
	next   int
	active map[int]*timer
}

func newTimers() *timers {
	return &timers{next: 1, active: make(map[int]*timer)}
}

func (ts *timers) add(t *timer) int {
	t.id = ts.next
	ts.next++
	ts.active[t.id] = t
	return t.id
}

func (ts *timers) remove(id int) bool {
	if _, ok := ts.active[id]; !ok {
		return false
	}
	delete(ts.active, id)
	return true
}

// due returns the timers expiring at or before now, earliest first.
func (ts *timers) due(now time.Time) []*timer {
	var out []*timer
	for _, t := range ts.active {
		if !t.due.After(now) {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b *timer) int {
		if c := a.due.Compare(b.due); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	return out
}

func (ts *timers) mark(m gc.Marker) {
	for _, t := range ts.active {
		t.fn.Mark(m)
		t.this.Mark(m)
		for _, a := range t.args {
			a.Mark(m)
		}
	}
}

// setTimer implements setInterval and setTimeout. It accepts both
// (fn, ms, args...) and (object, "method", ms, args...).
func (p *Player) setTimer(repeat bool, args []value.Value) (value.Value, error) {
	h := p.m.Heap()
	t := &timer{repeat: repeat}
	rest := args
	switch {
	case len(args) >= 1 && h.IsCallable(args[0]):
		t.fn = args[0]
		rest = args[1:]
	case len(args) >= 2 && args[0].IsObject():
		name, err := h.ToString(args[1])
		if err != nil {
			return value.Undefined, err
		}
		t.this, t.method = args[0], name
		rest = args[2:]
	default:
		return value.Undefined, nil
	}
	var ms float64
	if len(rest) > 0 {
		f, err := h.ToNumber(rest[0])
		if err != nil {
			return value.Undefined, err
		}
		ms = f
		rest = rest[1:]
	}
	t.interval = max(time.Duration(ms*float64(time.Millisecond)), MinInterval)
	t.args = append([]value.Value(nil), rest...)
	t.due = p.now.Add(t.interval)
	id := p.timers.add(t)
	p.log.Debug("timer set", "id", id, "interval", t.interval, "repeat", repeat)
	return value.Int(id), nil
}

func (p *Player) clearTimer(args []value.Value) (value.Value, error) {
	if len(args) == 0 {
		return value.Undefined, nil
	}
	id, err := p.m.Heap().ToNumber(args[0])
	if err != nil {
		return value.Undefined, err
	}
	p.timers.remove(int(id))
	return value.Undefined, nil
}

// fireTimers runs every timer due at now. An interval that fell behind is
// rescheduled from now instead of firing repeatedly to catch up.
func (p *Player) fireTimers(now time.Time) {
	for _, t := range p.timers.due(now) {
		if _, ok := p.timers.active[t.id]; !ok {
			continue
		}
		if t.repeat {
			t.due = t.due.Add(t.interval)
			if !t.due.After(now) {
				t.due = now.Add(t.interval)
			}
		} else {
			p.timers.remove(t.id)
		}
		fn, this := t.fn, t.this
		if t.method != "" {
			v, err := p.m.Heap().GetProperty(t.this, t.method)
			if err != nil || !p.m.Heap().IsCallable(v) {
				continue
			}
			fn = v
		}
		p.invoke(fn, this, t.args)
	}
}

func (p *Player) timerNatives() {
	p.global("setInterval", 2, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		return p.setTimer(true, args)
	})
	p.global("setTimeout", 2, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		return p.setTimer(false, args)
	})
	cancel := func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		return p.clearTimer(args)
	}
	p.global("clearInterval", 1, cancel)
	p.global("clearTimeout", 1, cancel)
	p.global("getTimer", 0, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		return value.Int(int(p.now.Sub(p.start).Milliseconds())), nil
	})
}
