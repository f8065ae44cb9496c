package vm

import (
	"time"

	"github.com/zurustar/kagami/pkg/value"
)

// BudgetPolicy decides what happens when a script exceeds its budget.
type BudgetPolicy uint8

const (
	// BudgetAbort stops the whole entry point, fail-soft.
	BudgetAbort BudgetPolicy = iota
	// BudgetThrow raises a catchable Error in the running script.
	BudgetThrow
)

func (p BudgetPolicy) String() string {
	if p == BudgetThrow {
		return "throw"
	}
	return "abort"
}

// ParseBudgetPolicy maps a configuration string to a policy.
func ParseBudgetPolicy(s string) (BudgetPolicy, bool) {
	switch s {
	case "", "abort":
		return BudgetAbort, true
	case "throw":
		return BudgetThrow, true
	default:
		return BudgetAbort, false
	}
}

// Budget limits one entry point. Zero fields are unlimited. Ops counts
// budget checkpoints: backward jumps and calls.
type Budget struct {
	MaxOps      int64
	MaxDuration time.Duration
	Policy      BudgetPolicy
}

// DefaultBudget is the budget of a machine built without WithBudget.
var DefaultBudget = Budget{MaxOps: 10_000_000, MaxDuration: 15 * time.Second}

// deadlineStride is how many checkpoints pass between clock reads.
const deadlineStride = 64

// meter tracks consumption of the running entry point.
type meter struct {
	ops      int64
	deadline time.Time
	tripped  bool
}

func (m *Machine) startMeter() {
	m.meter = meter{}
	if m.budget.MaxDuration > 0 {
		m.meter.deadline = m.now().Add(m.budget.MaxDuration)
	}
}

// Poll is the budget checkpoint. Interpreters call it on backward jumps and
// before entering a call. It also gives the collector an incremental step
// and drops young-object protection when no native frame is live.
func (m *Machine) Poll() error {
	m.meter.ops++
	if m.native == 0 {
		m.heap.Safepoint()
	}
	if m.gcStepWork > 0 {
		m.heap.Arena().Step(m.gcStepWork)
	}
	if err := m.checkAllocation(); err != nil {
		return err
	}
	if m.meter.tripped {
		return m.overBudget("already exceeded")
	}
	if m.budget.MaxOps > 0 && m.meter.ops > m.budget.MaxOps {
		return m.overBudget("too many operations")
	}
	if m.meter.ops%deadlineStride == 0 {
		if m.ctx.Err() != nil {
			return m.overBudget("cancelled")
		}
		if !m.meter.deadline.IsZero() && m.now().After(m.meter.deadline) {
			return m.overBudget("time limit reached")
		}
	}
	return nil
}

func (m *Machine) overBudget(reason string) error {
	if m.budget.Policy == BudgetThrow && !m.meter.tripped {
		m.meter.tripped = true
		m.report(Diagnostic{Kind: DiagBudget, Message: "script budget exceeded: " + reason, Method: m.currentName(), PC: m.currentPC()})
		return m.Throwf(value.GenericError, "script execution budget exceeded: %s", reason)
	}
	if !m.meter.tripped {
		m.report(Diagnostic{Kind: DiagBudget, Message: "script aborted: " + reason, Method: m.currentName(), PC: m.currentPC()})
	}
	m.meter.tripped = true
	return ErrBudgetExceeded
}

// checkAllocation enforces the hard object limit. Exhaustion is a catchable
// RangeError.
func (m *Machine) checkAllocation() error {
	if m.maxObjects <= 0 || m.heap.Arena().Len() <= m.maxObjects {
		return nil
	}
	m.heap.Arena().Collect()
	if m.heap.Arena().Len() <= m.maxObjects {
		return nil
	}
	m.report(Diagnostic{Kind: DiagMemory, Message: "object limit exceeded", Method: m.currentName(), PC: m.currentPC()})
	return value.Errorf(value.RangeError, "out of memory: more than %d live objects", m.maxObjects)
}
