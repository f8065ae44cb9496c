package opcode

import "fmt"

// ClassOp is an instruction of the class-based register machine.
// Register 0 holds the receiver and registers 1..len(Params) hold the
// arguments on entry. A, B, C name registers unless documented as a
// constant index (k), member index (m), target or count. Calls take their
// arguments from the operand stack, pushed left to right.
type ClassOp byte

const (
	// CNop does nothing.
	CNop ClassOp = iota

	// LoadConst: A = constant B.
	LoadConst
	// Move: A = B.
	Move

	// CAdd: A = B + C (string concatenation priority).
	CAdd
	// CSub: A = B - C.
	CSub
	// CMul: A = B * C.
	CMul
	// CDiv: A = B / C.
	CDiv
	// CMod: A = B % C.
	CMod
	// CBitAnd: A = B & C.
	CBitAnd
	// CBitOr: A = B | C.
	CBitOr
	// CBitXor: A = B ^ C.
	CBitXor
	// CShl: A = B << C.
	CShl
	// CShr: A = B >> C.
	CShr
	// CUShr: A = B >>> C.
	CUShr

	// CNeg: A = -B.
	CNeg
	// CNot: A = !B.
	CNot
	// CInc: A = B + 1.
	CInc
	// CDec: A = B - 1.
	CDec

	// CEq: A = B == C.
	CEq
	// CStrictEq: A = B === C.
	CStrictEq
	// CLt: A = B < C.
	CLt
	// CLe: A = B <= C.
	CLe
	// CGt: A = B > C.
	CGt
	// CGe: A = B >= C.
	CGe

	// CJump jumps to target A.
	CJump
	// JumpIf jumps to target B when register A is truthy.
	JumpIf
	// JumpIfNot jumps to target B when register A is falsy.
	JumpIfNot

	// Push pushes register A onto the operand stack.
	Push
	// PopTo pops the operand stack into register A.
	PopTo

	// GetLex: A = the identifier named by string constant B, resolved
	// through the scope chain.
	GetLex
	// SetLex assigns register B to the identifier named by string constant
	// A.
	SetLex

	// GetProp: A = B[constant C] (dynamic lookup).
	GetProp
	// SetProp: A[constant B] = C (dynamic store).
	SetProp
	// GetIndex: A = B[C].
	GetIndex
	// SetIndex: A[B] = C.
	SetIndex

	// GetSlot: A = slot of member m=C on the instance in register B.
	GetSlot
	// SetSlot: slot of member m=B on the instance in register A = C.
	SetSlot

	// CCallMethod: A = call member m=C on receiver B with D stack arguments.
	CCallMethod
	// CallSuper: A = call member m=C of the superclass on register 0 with
	// D stack arguments.
	CallSuper
	// CallValue: A = call function B with this=C and D stack arguments.
	CallValue
	// CallProp: A = call B[constant C] with this=B and D stack arguments.
	CallProp
	// Construct: A = new class named by string constant B with D stack
	// arguments.
	Construct

	// CNewObject: A = object built from D (name, value) pairs on the stack.
	CNewObject
	// NewArray: A = array of the top D stack values.
	NewArray
	// NewFunction: A = closure over Functions[B].
	NewFunction

	// Coerce: A = B checked against the type named by constant C; a
	// mismatch raises a TypeError.
	Coerce
	// AsType: A = B when it is of the type named by constant C, else null.
	AsType
	// IsType: A = whether B is of the type named by constant C.
	IsType
	// CTypeOf: A = typeof B.
	CTypeOf
	// CInstanceOf: A = whether B's prototype chain contains C.prototype.
	CInstanceOf

	// PushScope pushes register A onto the scope chain.
	PushScope
	// PopScope pops the innermost pushed scope.
	PopScope

	// CThrow throws register A.
	CThrow
	// CReturn returns register A.
	CReturn
	// ReturnVoid returns undefined.
	ReturnVoid
	// CEndFinally ends the finally block of exception range A and re-raises
	// the error that entered it, if any.
	CEndFinally

	classOpCount
)

var classOpNames = [...]string{
	CNop:        "Nop",
	LoadConst:   "LoadConst",
	Move:        "Move",
	CAdd:        "Add",
	CSub:        "Sub",
	CMul:        "Mul",
	CDiv:        "Div",
	CMod:        "Mod",
	CBitAnd:     "BitAnd",
	CBitOr:      "BitOr",
	CBitXor:     "BitXor",
	CShl:        "Shl",
	CShr:        "Shr",
	CUShr:       "UShr",
	CNeg:        "Neg",
	CNot:        "Not",
	CInc:        "Inc",
	CDec:        "Dec",
	CEq:         "Eq",
	CStrictEq:   "StrictEq",
	CLt:         "Lt",
	CLe:         "Le",
	CGt:         "Gt",
	CGe:         "Ge",
	CJump:       "Jump",
	JumpIf:      "JumpIf",
	JumpIfNot:   "JumpIfNot",
	Push:        "Push",
	PopTo:       "PopTo",
	GetLex:      "GetLex",
	SetLex:      "SetLex",
	GetProp:     "GetProp",
	SetProp:     "SetProp",
	GetIndex:    "GetIndex",
	SetIndex:    "SetIndex",
	GetSlot:     "GetSlot",
	SetSlot:     "SetSlot",
	CCallMethod: "CallMethod",
	CallSuper:   "CallSuper",
	CallValue:   "CallValue",
	CallProp:    "CallProp",
	Construct:   "Construct",
	CNewObject:  "NewObject",
	NewArray:    "NewArray",
	NewFunction: "NewFunction",
	Coerce:      "Coerce",
	AsType:      "AsType",
	IsType:      "IsType",
	CTypeOf:     "TypeOf",
	CInstanceOf: "InstanceOf",
	PushScope:   "PushScope",
	PopScope:    "PopScope",
	CThrow:      "Throw",
	CReturn:     "Return",
	ReturnVoid:  "ReturnVoid",
	CEndFinally: "EndFinally",
}

// Valid reports whether op is a known class dialect instruction.
func (op ClassOp) Valid() bool {
	return op < classOpCount
}

func (op ClassOp) String() string {
	if op.Valid() {
		return classOpNames[op]
	}
	return fmt.Sprintf("ClassOp(0x%02x)", byte(op))
}

// K builds a class dialect instruction.
func K(op ClassOp, operands ...int32) Instruction {
	return build(byte(op), operands)
}

// TraitKind is the kind of a declared class member.
type TraitKind uint8

const (
	TraitSlot TraitKind = iota
	TraitConst
	TraitMethod
	TraitGetter
	TraitSetter
)

func (k TraitKind) String() string {
	switch k {
	case TraitSlot:
		return "slot"
	case TraitConst:
		return "const"
	case TraitMethod:
		return "method"
	case TraitGetter:
		return "getter"
	case TraitSetter:
		return "setter"
	default:
		return fmt.Sprintf("TraitKind(%d)", uint8(k))
	}
}

// TraitDef declares one class member.
type TraitDef struct {
	Name      string    `cbor:"1,keyasint"`
	Namespace string    `cbor:"2,keyasint,omitempty"`
	Kind      TraitKind `cbor:"3,keyasint"`
	// Type is the declared type of a slot or const.
	Type    string   `cbor:"4,keyasint,omitempty"`
	Default Constant `cbor:"5,keyasint,omitempty"`
	// Method is the body of a method, getter or setter.
	Method   *Method `cbor:"6,keyasint,omitempty"`
	Override bool    `cbor:"7,keyasint,omitempty"`
	Final    bool    `cbor:"8,keyasint,omitempty"`
}

// ClassDef declares a class of the class dialect.
type ClassDef struct {
	Name      string `cbor:"1,keyasint"`
	Namespace string `cbor:"2,keyasint,omitempty"`
	// Super is the superclass name, empty for Object.
	Super string `cbor:"3,keyasint,omitempty"`
	// Dynamic classes accept properties beyond their declared traits.
	Dynamic     bool       `cbor:"4,keyasint,omitempty"`
	Final       bool       `cbor:"5,keyasint,omitempty"`
	Constructor *Method    `cbor:"6,keyasint,omitempty"`
	Traits      []TraitDef `cbor:"7,keyasint,omitempty"`
	// Static traits live on the class object itself.
	Static []TraitDef `cbor:"8,keyasint,omitempty"`
}
