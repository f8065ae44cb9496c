package opcode

import "fmt"

// LegacyOp is an instruction of the legacy stack machine.
// Unless stated otherwise operands are popped from the operand stack and
// results are pushed onto it. Argument lists and array elements are pushed
// last first, so the first value popped is the first element.
type LegacyOp byte

const (
	// Nop does nothing.
	Nop LegacyOp = iota

	// PushConst pushes constant A.
	PushConst
	// PushUndefined pushes undefined.
	PushUndefined
	// PushNull pushes null.
	PushNull
	// PushTrue pushes true.
	PushTrue
	// PushFalse pushes false.
	PushFalse
	// PushRegister pushes register A.
	PushRegister
	// StoreRegister copies the top of the stack into register A without
	// popping it.
	StoreRegister

	// Pop discards the top of the stack.
	Pop
	// Dup duplicates the top of the stack.
	Dup
	// Swap exchanges the top two values.
	Swap

	// Add pops b, a and pushes a + b with string concatenation priority.
	Add
	// Subtract pops b, a and pushes a - b.
	Subtract
	// Multiply pops b, a and pushes a * b.
	Multiply
	// Divide pops b, a and pushes a / b.
	Divide
	// Modulo pops b, a and pushes a % b.
	Modulo
	// Negate pops a and pushes -a.
	Negate
	// Increment pops a and pushes a + 1.
	Increment
	// Decrement pops a and pushes a - 1.
	Decrement

	// Equals pops b, a and pushes a == b (abstract equality).
	Equals
	// StrictEquals pops b, a and pushes a === b.
	StrictEquals
	// Less pops b, a and pushes a < b.
	Less
	// Greater pops b, a and pushes a > b.
	Greater
	// Not pops a and pushes !a.
	Not

	// BitAnd pops b, a and pushes a & b.
	BitAnd
	// BitOr pops b, a and pushes a | b.
	BitOr
	// BitXor pops b, a and pushes a ^ b.
	BitXor
	// ShiftLeft pops b, a and pushes a << b.
	ShiftLeft
	// ShiftRight pops b, a and pushes a >> b.
	ShiftRight
	// ShiftRightUnsigned pops b, a and pushes a >>> b.
	ShiftRightUnsigned

	// StringAdd pops b, a and pushes String(a) + String(b).
	StringAdd
	// ToNumber pops a and pushes Number(a).
	ToNumber
	// ToString pops a and pushes String(a).
	ToString

	// GetVariable pops name and pushes its value from the scope chain.
	GetVariable
	// SetVariable pops value, name and assigns through the scope chain.
	SetVariable
	// DefineLocal pops value, name and defines name in the local scope.
	DefineLocal
	// DeleteVariable pops name, deletes it from the scope chain and pushes
	// whether the delete succeeded.
	DeleteVariable

	// GetMember pops name, object and pushes object[name].
	GetMember
	// SetMember pops value, name, object and assigns object[name].
	SetMember
	// DeleteMember pops name, object and pushes whether the delete
	// succeeded.
	DeleteMember

	// InitObject pops count, then count (value, name) pairs and pushes a
	// new object. Properties are defined in pop order.
	InitObject
	// InitArray pops count, then count values and pushes a new array.
	InitArray
	// NewObject pops name, argc, then argc arguments and pushes the result
	// of constructing the named function.
	NewObject
	// NewMethod pops name, object, argc, then argc arguments and pushes the
	// result of constructing object[name] (object itself when name is
	// empty).
	NewMethod
	// DefineFunction creates a closure over Functions[A]. A named function
	// is defined as a variable, an anonymous one is pushed.
	DefineFunction

	// CallFunction pops name, argc, then argc arguments and pushes the
	// result of calling the named function.
	CallFunction
	// CallMethod pops name, object, argc, then argc arguments and pushes
	// the result of calling object[name] with this=object (object itself
	// when name is empty or undefined).
	CallMethod
	// Return pops a value and returns it.
	Return

	// Jump sets the program counter to A.
	Jump
	// If pops a condition and jumps to A when it is true.
	If

	// Throw pops a value and throws it.
	Throw
	// EndFinally ends the finally block of exception range A: re-raises the
	// error that entered it, if any.
	EndFinally

	// TypeOf pops a and pushes its type name.
	TypeOf
	// InstanceOf pops constructor, object and pushes whether the
	// constructor's prototype is on the object's chain.
	InstanceOf
	// Enumerate pops an object, pushes null and then every enumerable
	// property name along its prototype chain.
	Enumerate
	// With pops an object and pushes it onto the scope chain until the
	// program counter reaches A.
	With

	// Trace pops a value and writes it to the trace output.
	Trace

	// PushThis pushes the receiver of the current call.
	PushThis
	// StringLength pops a and pushes the character count of String(a).
	StringLength

	legacyOpCount
)

var legacyOpNames = [...]string{
	Nop:                "Nop",
	PushConst:          "PushConst",
	PushUndefined:      "PushUndefined",
	PushNull:           "PushNull",
	PushTrue:           "PushTrue",
	PushFalse:          "PushFalse",
	PushRegister:       "PushRegister",
	StoreRegister:      "StoreRegister",
	Pop:                "Pop",
	Dup:                "Dup",
	Swap:               "Swap",
	Add:                "Add",
	Subtract:           "Subtract",
	Multiply:           "Multiply",
	Divide:             "Divide",
	Modulo:             "Modulo",
	Negate:             "Negate",
	Increment:          "Increment",
	Decrement:          "Decrement",
	Equals:             "Equals",
	StrictEquals:       "StrictEquals",
	Less:               "Less",
	Greater:            "Greater",
	Not:                "Not",
	BitAnd:             "BitAnd",
	BitOr:              "BitOr",
	BitXor:             "BitXor",
	ShiftLeft:          "ShiftLeft",
	ShiftRight:         "ShiftRight",
	ShiftRightUnsigned: "ShiftRightUnsigned",
	StringAdd:          "StringAdd",
	ToNumber:           "ToNumber",
	ToString:           "ToString",
	GetVariable:        "GetVariable",
	SetVariable:        "SetVariable",
	DefineLocal:        "DefineLocal",
	DeleteVariable:     "DeleteVariable",
	GetMember:          "GetMember",
	SetMember:          "SetMember",
	DeleteMember:       "DeleteMember",
	InitObject:         "InitObject",
	InitArray:          "InitArray",
	NewObject:          "NewObject",
	NewMethod:          "NewMethod",
	DefineFunction:     "DefineFunction",
	CallFunction:       "CallFunction",
	CallMethod:         "CallMethod",
	Return:             "Return",
	Jump:               "Jump",
	If:                 "If",
	Throw:              "Throw",
	EndFinally:         "EndFinally",
	TypeOf:             "TypeOf",
	InstanceOf:         "InstanceOf",
	Enumerate:          "Enumerate",
	With:               "With",
	Trace:              "Trace",
	PushThis:           "PushThis",
	StringLength:       "StringLength",
}

// Valid reports whether op is a known legacy instruction.
func (op LegacyOp) Valid() bool {
	return op < legacyOpCount
}

func (op LegacyOp) String() string {
	if op.Valid() {
		return legacyOpNames[op]
	}
	return fmt.Sprintf("LegacyOp(0x%02x)", byte(op))
}

// L builds a legacy instruction.
func L(op LegacyOp, operands ...int32) Instruction {
	return build(byte(op), operands)
}

func build(op byte, operands []int32) Instruction {
	in := Instruction{Op: op}
	for i, v := range operands {
		switch i {
		case 0:
			in.A = v
		case 1:
			in.B = v
		case 2:
			in.C = v
		case 3:
			in.D = v
		}
	}
	return in
}
