package builtins

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

func nan() float64 { return math.NaN() }

// registerGlobalFunctions defines the global constants and functions.
func (r *realm) registerGlobalFunctions() {
	r.constant(r.global, "NaN", value.Number(nan()))
	r.constant(r.global, "Infinity", value.Number(math.Inf(1)))
	r.constant(r.global, "undefined", value.Undefined)

	// trace writes its argument to the trace output
	r.method(r.global, "trace", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		parts := make([]string, len(args))
		for i := range args {
			s, err := r.string(args, i)
			if err != nil {
				return value.Undefined, err
			}
			parts[i] = s
		}
		m.Trace(strings.Join(parts, " "))
		return value.Undefined, nil
	})

	r.method(r.global, "isNaN", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		n, err := r.number(args, 0)
		return value.Bool(math.IsNaN(n)), err
	})

	r.method(r.global, "isFinite", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		n, err := r.number(args, 0)
		return value.Bool(!math.IsNaN(n) && !math.IsInf(n, 0)), err
	})

	// parseInt reads the longest valid integer prefix
	r.method(r.global, "parseInt", 2, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		s, err := r.string(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		radix, err := r.integer(args, 1, 0)
		if err != nil {
			return value.Undefined, err
		}
		return value.Number(ParseInt(s, radix)), nil
	})

	// parseFloat reads the longest valid decimal prefix
	r.method(r.global, "parseFloat", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		s, err := r.string(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		return value.Number(ParseFloat(s)), nil
	})

	// escape and unescape use the URL percent encoding of the
	// loadVariables format
	r.method(r.global, "escape", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		s, err := r.string(args, 0)
		return value.String(Escape(s)), err
	})
	r.method(r.global, "unescape", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		s, err := r.string(args, 0)
		return value.String(Unescape(s)), err
	})

	r.method(r.global, "isXMLName", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		s, err := r.string(args, 0)
		return value.Bool(isXMLName(s)), err
	})
}

// ParseInt parses the leading integer of s in radix (0 selects 10, or 16
// for a 0x prefix). It returns NaN when no digit is found.
func ParseInt(s string, radix int) float64 {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	sign := 1.0
	if s != "" && (s[0] == '+' || s[0] == '-') {
		if s[0] == '-' {
			sign = -1
		}
		s = s[1:]
	}
	if (radix == 0 || radix == 16) && len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s, radix = s[2:], 16
	}
	if radix == 0 {
		radix = 10
	}
	if radix < 2 || radix > 36 {
		return nan()
	}
	n, digits := 0.0, 0
	for _, c := range strings.ToLower(s) {
		d := strings.IndexRune("0123456789abcdefghijklmnopqrstuvwxyz", c)
		if d < 0 || d >= radix {
			break
		}
		n = n*float64(radix) + float64(d)
		digits++
	}
	if digits == 0 {
		return nan()
	}
	return sign * n
}

// ParseFloat parses the longest decimal literal prefix of s.
func ParseFloat(s string) float64 {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	for _, inf := range []string{"Infinity", "+Infinity"} {
		if strings.HasPrefix(s, inf) {
			return math.Inf(1)
		}
	}
	if strings.HasPrefix(s, "-Infinity") {
		return math.Inf(-1)
	}
	end, seenDigit, seenDot, seenExp := 0, false, false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			seenDigit = true
			end = i + 1
		case (c == '+' || c == '-') && (i == 0 || s[i-1] == 'e' || s[i-1] == 'E'):
		case c == '.' && !seenDot && !seenExp:
			seenDot = true
		case (c == 'e' || c == 'E') && seenDigit && !seenExp:
			seenExp = true
		default:
			i = len(s)
		}
	}
	if !seenDigit {
		return nan()
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		// "1e" style prefixes trim back to the mantissa
		if i := strings.IndexAny(s[:end], "eE"); i > 0 {
			f, err = strconv.ParseFloat(s[:i], 64)
		}
		if err != nil {
			return nan()
		}
	}
	return f
}

const unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789@*_+-./"

// Escape percent-encodes every byte outside the unreserved set.
func Escape(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(unreserved, c) >= 0 {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteString(strings.ToUpper(strconv.FormatUint(uint64(c)|0x100, 16)[1:]))
	}
	return sb.String()
}

// Unescape decodes %XX sequences. Malformed sequences are kept as they are.
func Unescape(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if b, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				sb.WriteByte(byte(b))
				i += 2
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func isXMLName(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case unicode.IsLetter(c) || c == '_':
		case i > 0 && (unicode.IsDigit(c) || c == '.' || c == '-'):
		default:
			return false
		}
	}
	return true
}
