package vm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zurustar/kagami/pkg/gc"
)

// DiagnosticKind classifies host-facing diagnostics.
type DiagnosticKind string

const (
	DiagUnsupportedOpcode DiagnosticKind = "UNSUPPORTED_OPCODE"
	DiagMalformed         DiagnosticKind = "MALFORMED_BYTECODE"
	DiagVerify            DiagnosticKind = "VERIFY_REJECTED"
	DiagLink              DiagnosticKind = "LINK_FAILED"
	DiagBudget            DiagnosticKind = "BUDGET_EXCEEDED"
	DiagMemory            DiagnosticKind = "OUT_OF_MEMORY"
	DiagEmergencyGC       DiagnosticKind = "EMERGENCY_GC"
	DiagInternal          DiagnosticKind = "INTERNAL_ERROR"
)

// Diagnostic is a non-script event the host may want to surface.
type Diagnostic struct {
	Kind    DiagnosticKind
	Message string
	Method  string
	PC      int
}

func (d Diagnostic) String() string {
	if d.Method == "" {
		return fmt.Sprintf("[%s] %s", d.Kind, d.Message)
	}
	return fmt.Sprintf("[%s] %s at %s:%d", d.Kind, d.Message, d.Method, d.PC)
}

func (m *Machine) report(d Diagnostic) {
	m.log.Log(context.Background(), levelFor(d), "vm diagnostic",
		"kind", string(d.Kind),
		"message", d.Message,
		"script", d.Method,
		"pc", d.PC,
	)
	if m.onDiagnostic != nil {
		m.onDiagnostic(d)
	}
}

// Report forwards a diagnostic raised by an interpreter or the host.
func (m *Machine) Report(d Diagnostic) {
	if d.Method == "" {
		d.Method, d.PC = m.currentName(), m.currentPC()
	}
	m.report(d)
}

// Abortf reports a malformed-input diagnostic and returns the Abort that
// abandons the running call.
func (m *Machine) Abortf(kind DiagnosticKind, act *Activation, format string, args ...any) *Abort {
	a := &Abort{Method: act.Name(), PC: act.PC, Reason: fmt.Sprintf(format, args...)}
	m.report(Diagnostic{Kind: kind, Message: a.Reason, Method: a.Method, PC: a.PC})
	return a
}

func (m *Machine) onEmergency(s gc.Stats) {
	m.report(Diagnostic{
		Kind:    DiagEmergencyGC,
		Message: fmt.Sprintf("allocation budget exhausted, collected to %d live objects", s.Live),
		Method:  m.currentName(),
		PC:      m.currentPC(),
	})
}

func levelFor(d Diagnostic) slog.Level {
	if d.Kind == DiagInternal {
		return slog.LevelError
	}
	return slog.LevelWarn
}
