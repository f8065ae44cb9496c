// Package opcode defines the instruction sets of the two bytecode dialects
// and the method, exception and class descriptors that describe them.
// This package is the foundation that both the container decoder and the
// interpreters depend on: the decoder produces Methods, the interpreters
// execute them.
package opcode

import "fmt"

// Dialect identifies which interpreter executes a Method.
type Dialect uint8

const (
	// DialectLegacy is the untyped, prototype-based stack machine.
	DialectLegacy Dialect = iota + 1

	// DialectClass is the class-based register machine with a verifier.
	DialectClass
)

func (d Dialect) String() string {
	switch d {
	case DialectLegacy:
		return "legacy"
	case DialectClass:
		return "class"
	default:
		return fmt.Sprintf("Dialect(%d)", uint8(d))
	}
}

// Instruction is a single decoded instruction. Op is interpreted as a
// LegacyOp or a ClassOp depending on the dialect of the owning Method; the
// meaning of the operands is documented on each op.
type Instruction struct {
	Op byte  `cbor:"1,keyasint"`
	A  int32 `cbor:"2,keyasint,omitempty"`
	B  int32 `cbor:"3,keyasint,omitempty"`
	C  int32 `cbor:"4,keyasint,omitempty"`
	D  int32 `cbor:"5,keyasint,omitempty"`
}

// ConstKind is the type of a constant pool entry.
type ConstKind uint8

const (
	ConstUndefined ConstKind = iota
	ConstNull
	ConstBool
	ConstNumber
	ConstString
)

// Constant is a constant pool entry.
type Constant struct {
	Kind ConstKind `cbor:"1,keyasint"`
	Num  float64   `cbor:"2,keyasint,omitempty"`
	Str  string    `cbor:"3,keyasint,omitempty"`
	Bool bool      `cbor:"4,keyasint,omitempty"`
}

// Number returns a numeric constant.
func Number(f float64) Constant {
	return Constant{Kind: ConstNumber, Num: f}
}

// String returns a string constant.
func String(s string) Constant {
	return Constant{Kind: ConstString, Str: s}
}

// Bool returns a boolean constant.
func Bool(b bool) Constant {
	return Constant{Kind: ConstBool, Bool: b}
}

// Null returns the null constant.
func Null() Constant {
	return Constant{Kind: ConstNull}
}

// Undefined returns the undefined constant.
func Undefined() Constant {
	return Constant{Kind: ConstUndefined}
}

// ExceptionRange maps a program-counter interval to a handler.
// Ranges are listed innermost first; the first match wins.
type ExceptionRange struct {
	// From and To delimit the protected instructions [From, To).
	From int `cbor:"1,keyasint"`
	To   int `cbor:"2,keyasint"`

	// Target is the handler's first instruction.
	Target int `cbor:"3,keyasint"`

	// StackDepth is the operand stack depth the handler starts with. A
	// catch handler finds the caught value pushed on top of it.
	StackDepth int `cbor:"4,keyasint,omitempty"`

	// CatchType optionally restricts the handler to instances of the named
	// class. Empty catches everything.
	CatchType string `cbor:"5,keyasint,omitempty"`

	// Finally marks a finally handler: it catches everything, runs with
	// nothing pushed, and re-raises at EndFinally.
	Finally bool `cbor:"6,keyasint,omitempty"`
}

// Contains reports whether pc is protected by r.
func (r ExceptionRange) Contains(pc int) bool {
	return pc >= r.From && pc < r.To
}

// Param describes a declared parameter.
type Param struct {
	Name string `cbor:"1,keyasint"`
	// Type is the declared type name for class dialect parameters.
	Type string `cbor:"2,keyasint,omitempty"`
	// Register binds the legacy parameter to a register instead of a
	// local variable when InRegister is set.
	Register   int  `cbor:"3,keyasint,omitempty"`
	InRegister bool `cbor:"4,keyasint,omitempty"`
}

// MemberRef names a trait of a class, the way a call site or slot access
// refers to it. The class dialect resolves every MemberRef once at link
// time.
type MemberRef struct {
	Class string `cbor:"1,keyasint"`
	Name  string `cbor:"2,keyasint"`
}

// Method is one decoded script or function body.
type Method struct {
	Name    string  `cbor:"1,keyasint"`
	Dialect Dialect `cbor:"2,keyasint"`

	// FrameSize is the number of registers the activation reserves.
	FrameSize int `cbor:"3,keyasint"`

	// MaxStack is the operand stack limit checked by the class dialect
	// verifier. Zero means unbounded for the legacy dialect.
	MaxStack int `cbor:"4,keyasint,omitempty"`

	Params     []Param          `cbor:"5,keyasint,omitempty"`
	Constants  []Constant       `cbor:"6,keyasint,omitempty"`
	Code       []Instruction    `cbor:"7,keyasint"`
	Exceptions []ExceptionRange `cbor:"8,keyasint,omitempty"`

	// Functions are nested function bodies created by DefineFunction /
	// NewFunction instructions.
	Functions []*Method `cbor:"9,keyasint,omitempty"`

	// Members is the member reference table of class dialect methods.
	Members []MemberRef `cbor:"10,keyasint,omitempty"`

	// ReturnType is the declared return type of class dialect methods.
	ReturnType string `cbor:"11,keyasint,omitempty"`

	// Script marks a frame or init script. Scripts run directly against
	// their target's scope without a local activation object.
	Script bool `cbor:"12,keyasint,omitempty"`
}

func (m *Method) String() string {
	name := m.Name
	if name == "" {
		name = "<anonymous>"
	}
	return fmt.Sprintf("%s[%s]", name, m.Dialect)
}

// Limits on the frame a method may declare. Activations allocate their
// registers and operand stack up front.
const (
	MaxFrameSize = 1 << 16
	MaxStackSize = 1 << 16
)

// CheckFrame rejects frame declarations outside [0, MaxFrameSize] and
// [0, MaxStackSize], and handlers that target their own protected range.
// Nested functions are checked too.
func (m *Method) CheckFrame() error {
	switch {
	case m.FrameSize < 0 || m.FrameSize > MaxFrameSize:
		return fmt.Errorf("method %s: frame size %d outside [0, %d]", m, m.FrameSize, MaxFrameSize)
	case m.MaxStack < 0 || m.MaxStack > MaxStackSize:
		return fmt.Errorf("method %s: max stack %d outside [0, %d]", m, m.MaxStack, MaxStackSize)
	}
	for i, r := range m.Exceptions {
		if r.Contains(r.Target) {
			return fmt.Errorf("method %s: exception range %d [%d, %d) targets its own range at %d", m, i, r.From, r.To, r.Target)
		}
	}
	for _, f := range m.Functions {
		if f == nil {
			continue
		}
		if err := f.CheckFrame(); err != nil {
			return err
		}
	}
	return nil
}

// Constant returns the constant at index i.
func (m *Method) Constant(i int32) (Constant, bool) {
	if i < 0 || int(i) >= len(m.Constants) {
		return Constant{}, false
	}
	return m.Constants[i], true
}

// StringConstant returns the string constant at index i.
func (m *Method) StringConstant(i int32) (string, bool) {
	c, ok := m.Constant(i)
	if !ok || c.Kind != ConstString {
		return "", false
	}
	return c.Str, true
}
