package value

import (
	"cmp"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"
)

// Hint selects the preferred conversion of ToPrimitive.
type Hint uint8

const (
	HintNone Hint = iota
	HintNumber
	HintString
)

// ToPrimitive converts an object by calling valueOf and toString (in hint
// order) until one returns a primitive. An object with neither method
// converts to its default string form; methods that only return objects
// raise a TypeError.
func (h *Heap) ToPrimitive(v Value, hint Hint) (Value, error) {
	if v.kind != KindObject {
		return v, nil
	}
	order := [2]string{"valueOf", "toString"}
	if hint == HintString {
		order = [2]string{"toString", "valueOf"}
	}
	tried := false
	for _, name := range order {
		fn, err := h.GetProperty(v, name)
		if err != nil {
			return Undefined, err
		}
		if !h.IsCallable(fn) {
			continue
		}
		tried = true
		res, err := h.Call(fn, v, nil)
		if err != nil {
			return Undefined, err
		}
		if res.kind != KindObject {
			return res, nil
		}
	}
	if !tried {
		return String(h.defaultString(v)), nil
	}
	return Undefined, Errorf(TypeError, "cannot convert object to a primitive value")
}

func (h *Heap) defaultString(v Value) string {
	if h.IsCallable(v) {
		return "[type Function]"
	}
	return "[object Object]"
}

// ToNumber converts v to a number.
func (h *Heap) ToNumber(v Value) (float64, error) {
	if v.kind == KindObject {
		p, err := h.ToPrimitive(v, HintNumber)
		if err != nil {
			return math.NaN(), err
		}
		v = p
	}
	if v.kind == KindUndefined && h.Legacy() {
		return 0, nil
	}
	return PrimitiveToNumber(v), nil
}

// ToString converts v to a string.
func (h *Heap) ToString(v Value) (string, error) {
	if v.kind == KindObject {
		p, err := h.ToPrimitive(v, HintString)
		if err != nil {
			return "", err
		}
		v = p
	}
	if v.kind == KindUndefined && h.Legacy() {
		return "", nil
	}
	return PrimitiveToString(v), nil
}

// ToBoolean converts v to a boolean. Legacy content converts strings
// through their numeric value.
func (h *Heap) ToBoolean(v Value) bool {
	if v.kind == KindString && h.Legacy() {
		n := StringToNumber(v.str)
		return n != 0 && !math.IsNaN(n)
	}
	return Truthy(v)
}

// ToInt32 converts v to a signed 32-bit integer.
func (h *Heap) ToInt32(v Value) (int32, error) {
	n, err := h.ToNumber(v)
	return ToInt32(n), err
}

// ToUint32 converts v to an unsigned 32-bit integer.
func (h *Heap) ToUint32(v Value) (uint32, error) {
	n, err := h.ToNumber(v)
	return ToUint32(n), err
}

// Truthy is the standard boolean conversion.
func Truthy(v Value) bool {
	switch v.kind {
	case KindBoolean:
		return v.AsBool()
	case KindNumber:
		return v.num != 0 && !math.IsNaN(v.num)
	case KindString:
		return v.str != ""
	case KindObject:
		return true
	default:
		return false
	}
}

// PrimitiveToNumber converts a primitive to a number. Objects are NaN.
func PrimitiveToNumber(v Value) float64 {
	switch v.kind {
	case KindNull:
		return 0
	case KindBoolean:
		return v.num
	case KindNumber:
		return v.num
	case KindString:
		return StringToNumber(v.str)
	default:
		return math.NaN()
	}
}

// PrimitiveToString converts a primitive to its string form.
func PrimitiveToString(v Value) string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBoolean:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case KindNumber:
		return FormatNumber(v.num)
	case KindString:
		return v.str
	default:
		return "[object Object]"
	}
}

func isSpace(r rune) bool {
	return unicode.IsSpace(r) || r == '\uFEFF'
}

// StringToNumber parses a numeric string. Surrounding whitespace is
// ignored, the empty string is 0, "0x" prefixes are hexadecimal and
// anything else that is not a decimal literal is NaN.
func StringToNumber(s string) float64 {
	s = strings.TrimFunc(s, isSpace)
	if s == "" {
		return 0
	}
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		var n float64
		for _, c := range s[2:] {
			d := strings.IndexRune("0123456789abcdef", unicode.ToLower(c))
			if d < 0 {
				return math.NaN()
			}
			n = n*16 + float64(d)
		}
		return n
	}
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-') {
			return math.NaN()
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return f
		}
		return math.NaN()
	}
	return f
}

// FormatNumber renders a number the way scripts see it: integers without a
// fraction, the shortest round-trip digits otherwise, and exponent form at
// or beyond 1e21 and below 1e-6.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mant, exp, _ := strings.Cut(s, "e")
		digits := strings.TrimLeft(exp[1:], "0")
		if digits == "" {
			digits = "0"
		}
		return mant + "e" + exp[:1] + digits
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ToInt32 wraps a number to a signed 32-bit integer.
func ToInt32(f float64) int32 {
	return int32(ToUint32(f))
}

// ToUint32 wraps a number to an unsigned 32-bit integer. NaN and infinities
// are 0.
func ToUint32(f float64) uint32 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Mod(math.Trunc(f), 4294967296)
	if f < 0 {
		f += 4294967296
	}
	return uint32(f)
}

// StrictEquals compares without conversion. NaN is unequal to itself.
func StrictEquals(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindUndefined, KindNull:
		return true
	case KindBoolean, KindNumber:
		return a.num == b.num
	case KindString:
		return a.str == b.str
	case KindObject:
		return a.ref == b.ref
	default:
		return false
	}
}

// LooseEquals is the abstract equality comparison.
func (h *Heap) LooseEquals(a, b Value) (bool, error) {
	for range 4 {
		if a.kind == b.kind {
			return StrictEquals(a, b), nil
		}
		switch {
		case a.IsNullish() && b.IsNullish():
			return true, nil
		case a.IsNullish() || b.IsNullish():
			return false, nil
		case a.kind == KindNumber && b.kind == KindString:
			return a.num == StringToNumber(b.str), nil
		case a.kind == KindString && b.kind == KindNumber:
			return StringToNumber(a.str) == b.num, nil
		case a.kind == KindBoolean:
			a = Number(a.num)
		case b.kind == KindBoolean:
			b = Number(b.num)
		case b.kind == KindObject:
			p, err := h.ToPrimitive(b, HintNone)
			if err != nil {
				return false, err
			}
			b = p
		case a.kind == KindObject:
			p, err := h.ToPrimitive(a, HintNone)
			if err != nil {
				return false, err
			}
			a = p
		default:
			return false, nil
		}
	}
	return false, nil
}

// Ordering is the result of an abstract relational comparison.
type Ordering int8

const (
	Less Ordering = iota - 1
	Equal
	Greater
	// Unordered is the result when either side is NaN.
	Unordered
)

// Compare converts a then b to primitives and orders them: strings
// lexically, everything else numerically.
func (h *Heap) Compare(a, b Value) (Ordering, error) {
	pa, err := h.ToPrimitive(a, HintNumber)
	if err != nil {
		return Unordered, err
	}
	pb, err := h.ToPrimitive(b, HintNumber)
	if err != nil {
		return Unordered, err
	}
	if pa.kind == KindString && pb.kind == KindString {
		return Ordering(CompareStrings(pa.str, pb.str)), nil
	}
	na, err := h.ToNumber(pa)
	if err != nil {
		return Unordered, err
	}
	nb, err := h.ToNumber(pb)
	if err != nil {
		return Unordered, err
	}
	switch {
	case math.IsNaN(na) || math.IsNaN(nb):
		return Unordered, nil
	case na < nb:
		return Less, nil
	case na > nb:
		return Greater, nil
	default:
		return Equal, nil
	}
}

// CompareStrings orders a and b by their UTF-16 code units, so a character
// outside the Basic Multilingual Plane sorts by its high surrogate.
func CompareStrings(a, b string) int {
	for a != "" && b != "" {
		ra, na := utf8.DecodeRuneInString(a)
		rb, nb := utf8.DecodeRuneInString(b)
		if ra != rb {
			ha, la := codeUnits(ra)
			hb, lb := codeUnits(rb)
			if ha != hb {
				return cmp.Compare(ha, hb)
			}
			return cmp.Compare(la, lb)
		}
		a, b = a[na:], b[nb:]
	}
	return cmp.Compare(len(a), len(b))
}

func codeUnits(r rune) (hi, lo rune) {
	if r < 0x10000 {
		return r, 0
	}
	return utf16.EncodeRune(r)
}

// LessThan is a < b. NaN compares false.
func (h *Heap) LessThan(a, b Value) (bool, error) {
	o, err := h.Compare(a, b)
	return o == Less, err
}

// Add implements + with string concatenation priority.
func (h *Heap) Add(a, b Value) (Value, error) {
	pa, err := h.ToPrimitive(a, HintNone)
	if err != nil {
		return Undefined, err
	}
	pb, err := h.ToPrimitive(b, HintNone)
	if err != nil {
		return Undefined, err
	}
	if pa.kind == KindString || pb.kind == KindString {
		sa, _ := h.ToString(pa)
		sb, _ := h.ToString(pb)
		return String(sa + sb), nil
	}
	na, _ := h.ToNumber(pa)
	nb, _ := h.ToNumber(pb)
	return Number(na + nb), nil
}

// TypeOf returns the typeof name of v.
func (h *Heap) TypeOf(v Value) string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "object"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	}
	o, ok := h.Object(v)
	if !ok {
		return "undefined"
	}
	if tn, ok := o.native.(TypeNamer); ok {
		return tn.TypeName()
	}
	if _, ok := o.native.(Callable); ok {
		return "function"
	}
	return "object"
}
