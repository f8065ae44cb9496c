package builtins

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/dlclark/regexp2"

	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

// registerStringBuiltins defines String and String.prototype. Indices count
// characters, not bytes.
func (r *realm) registerStringBuiltins() {
	h := r.h
	proto := r.prototype(value.StringPrototype, h.Intrinsic(value.ObjectPrototype), &Primitive{Value: value.String("")})

	ctor := r.constructor("String", 1, proto, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		s := ""
		if len(args) > 0 {
			var err error
			if s, err = h.ToString(args[0]); err != nil {
				return value.Undefined, err
			}
		}
		if r.constructing(this, proto) {
			return h.New(proto, &Primitive{Value: value.String(s)}), nil
		}
		return value.String(s), nil
	})

	r.method(ctor, "fromCharCode", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		var sb strings.Builder
		for _, a := range args {
			c, err := h.ToUint32(a)
			if err != nil {
				return value.Undefined, err
			}
			sb.WriteRune(rune(c & 0xFFFF))
		}
		return value.String(sb.String()), nil
	})

	r.stringMethod(proto, "toString", 0, func(s []rune, this value.Value, args []value.Value) (value.Value, error) {
		return value.String(string(s)), nil
	})
	r.stringMethod(proto, "valueOf", 0, func(s []rune, this value.Value, args []value.Value) (value.Value, error) {
		return value.String(string(s)), nil
	})

	r.stringMethod(proto, "charAt", 1, func(s []rune, this value.Value, args []value.Value) (value.Value, error) {
		i, err := r.integer(args, 0, 0)
		if err != nil || i < 0 || i >= len(s) {
			return value.String(""), err
		}
		return value.String(string(s[i])), nil
	})

	r.stringMethod(proto, "charCodeAt", 1, func(s []rune, this value.Value, args []value.Value) (value.Value, error) {
		i, err := r.integer(args, 0, 0)
		if err != nil || i < 0 || i >= len(s) {
			return value.Number(nan()), err
		}
		return value.Int(int(s[i])), nil
	})

	r.stringMethod(proto, "indexOf", 1, func(s []rune, this value.Value, args []value.Value) (value.Value, error) {
		needle, err := r.string(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		from, err := r.integer(args, 1, 0)
		if err != nil {
			return value.Undefined, err
		}
		return value.Int(runeIndex(s, []rune(needle), max(0, from))), nil
	})

	r.stringMethod(proto, "lastIndexOf", 1, func(s []rune, this value.Value, args []value.Value) (value.Value, error) {
		needle, err := r.string(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		from, err := r.integer(args, 1, len(s))
		if err != nil {
			return value.Undefined, err
		}
		n := []rune(needle)
		for i := min(from, len(s)-len(n)); i >= 0; i-- {
			if hasPrefix(s[i:], n) {
				return value.Int(i), nil
			}
		}
		return value.Int(-1), nil
	})

	// substr(start, length)
	r.stringMethod(proto, "substr", 2, func(s []rune, this value.Value, args []value.Value) (value.Value, error) {
		start, err := r.integer(args, 0, 0)
		if err != nil {
			return value.Undefined, err
		}
		start = clampIndex(start, len(s))
		n, err := r.integer(args, 1, len(s)-start)
		if err != nil {
			return value.Undefined, err
		}
		end := min(len(s), start+max(0, n))
		return value.String(string(s[start:end])), nil
	})

	// substring(a, b) clamps negatives to zero and swaps reversed bounds
	r.stringMethod(proto, "substring", 2, func(s []rune, this value.Value, args []value.Value) (value.Value, error) {
		a, err := r.integer(args, 0, 0)
		if err != nil {
			return value.Undefined, err
		}
		b, err := r.integer(args, 1, len(s))
		if err != nil {
			return value.Undefined, err
		}
		a, b = min(max(a, 0), len(s)), min(max(b, 0), len(s))
		if a > b {
			a, b = b, a
		}
		return value.String(string(s[a:b])), nil
	})

	r.stringMethod(proto, "slice", 2, func(s []rune, this value.Value, args []value.Value) (value.Value, error) {
		a, err := r.integer(args, 0, 0)
		if err != nil {
			return value.Undefined, err
		}
		b, err := r.integer(args, 1, len(s))
		if err != nil {
			return value.Undefined, err
		}
		a, b = clampIndex(a, len(s)), clampIndex(b, len(s))
		if a >= b {
			return value.String(""), nil
		}
		return value.String(string(s[a:b])), nil
	})

	r.stringMethod(proto, "toUpperCase", 0, func(s []rune, this value.Value, args []value.Value) (value.Value, error) {
		return value.String(strings.ToUpper(string(s))), nil
	})
	r.stringMethod(proto, "toLowerCase", 0, func(s []rune, this value.Value, args []value.Value) (value.Value, error) {
		return value.String(strings.ToLower(string(s))), nil
	})

	r.stringMethod(proto, "concat", 1, func(s []rune, this value.Value, args []value.Value) (value.Value, error) {
		var sb strings.Builder
		sb.WriteString(string(s))
		for i := range args {
			a, err := r.string(args, i)
			if err != nil {
				return value.Undefined, err
			}
			sb.WriteString(a)
		}
		return value.String(sb.String()), nil
	})

	// split(separator, limit) accepts a string or a RegExp separator
	r.stringMethod(proto, "split", 2, func(s []rune, this value.Value, args []value.Value) (value.Value, error) {
		limit := -1
		if v := arg(args, 1); !v.IsUndefined() {
			n, err := h.ToUint32(v)
			if err != nil {
				return value.Undefined, err
			}
			limit = int(n)
		}
		sep := arg(args, 0)
		var parts []string
		var err error
		switch x, ok := r.asRegExp(sep); {
		case sep.IsUndefined():
			parts = []string{string(s)}
		case ok:
			parts, err = splitRegExp(x, s)
		default:
			var str string
			if str, err = h.ToString(sep); err == nil {
				parts = splitString(string(s), str)
			}
		}
		if err != nil {
			return value.Undefined, err
		}
		if limit >= 0 && len(parts) > limit {
			parts = parts[:limit]
		}
		vals := make([]value.Value, len(parts))
		for i, p := range parts {
			vals[i] = value.String(p)
		}
		return h.NewArray(vals), nil
	})

	r.stringMethod(proto, "search", 1, func(s []rune, this value.Value, args []value.Value) (value.Value, error) {
		x, err := r.toRegExp(arg(args, 0))
		if err != nil {
			return value.Undefined, err
		}
		m, err := x.find(s, 0)
		if err != nil || m == nil {
			return value.Int(-1), err
		}
		return value.Int(m.Index), nil
	})

	// match returns every match for a global expression, else exec's result
	r.stringMethod(proto, "match", 1, func(s []rune, this value.Value, args []value.Value) (value.Value, error) {
		x, err := r.toRegExp(arg(args, 0))
		if err != nil {
			return value.Undefined, err
		}
		if !x.global {
			return r.exec(x, string(s))
		}
		x.lastIndex = 0
		matches, err := x.all(s)
		if err != nil || len(matches) == 0 {
			return value.Null, err
		}
		vals := make([]value.Value, len(matches))
		for i, m := range matches {
			vals[i] = m.groups[0]
		}
		return h.NewArray(vals), nil
	})

	// replace(pattern, replacement): a string pattern replaces its first
	// occurrence; a function replacement is called with the match, the
	// groups, the index and the input
	r.stringMethod(proto, "replace", 2, func(s []rune, this value.Value, args []value.Value) (value.Value, error) {
		pattern, repl := arg(args, 0), arg(args, 1)
		var matches []match
		if x, ok := r.asRegExp(pattern); ok {
			var err error
			if x.global {
				matches, err = x.all(s)
			} else {
				var m *regexp2.Match
				if m, err = x.find(s, 0); m != nil {
					matches = append(matches, toMatch(m))
				}
			}
			if err != nil {
				return value.Undefined, err
			}
		} else {
			p, err := h.ToString(pattern)
			if err != nil {
				return value.Undefined, err
			}
			needle := []rune(p)
			if i := runeIndex(s, needle, 0); i >= 0 {
				matches = append(matches, match{index: i, length: len(needle), groups: []value.Value{value.String(p)}})
			}
		}
		var sb strings.Builder
		last := 0
		for _, m := range matches {
			sb.WriteString(string(s[last:m.index]))
			rs, err := r.replacement(s, m, repl)
			if err != nil {
				return value.Undefined, err
			}
			sb.WriteString(rs)
			last = m.index + m.length
		}
		sb.WriteString(string(s[last:]))
		return value.String(sb.String()), nil
	})
}

// stringMethod defines a method that converts its receiver to a string.
func (r *realm) stringMethod(proto value.Value, name string, arity int, fn func(s []rune, this value.Value, args []value.Value) (value.Value, error)) {
	r.method(proto, name, arity, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		v := r.thisPrimitive(this)
		if v.IsNullish() {
			return value.Undefined, value.Errorf(value.TypeError, "String.prototype.%s called on %s", name, v.String())
		}
		s, err := r.h.ToString(v)
		if err != nil {
			return value.Undefined, err
		}
		return fn([]rune(s), this, args)
	})
}

// toRegExp returns v's expression, compiling non-RegExp values as patterns.
func (r *realm) toRegExp(v value.Value) (*RegExp, error) {
	if x, ok := r.asRegExp(v); ok {
		return x, nil
	}
	p, err := r.h.ToString(v)
	if err != nil {
		return nil, err
	}
	return CompileRegExp(p, "")
}

func (r *realm) replacement(input []rune, mt match, repl value.Value) (string, error) {
	h := r.h
	if !h.IsCallable(repl) {
		s, err := h.ToString(repl)
		if err != nil {
			return "", err
		}
		return expandReplacement(input, mt, s), nil
	}
	args := append(slices.Clone(mt.groups), value.Int(mt.index), value.String(string(input)))
	res, err := r.m.Call(repl, value.Undefined, args)
	if err != nil {
		return "", err
	}
	return h.ToString(res)
}

func splitString(s, sep string) []string {
	if s == "" {
		if sep == "" {
			return nil
		}
		return []string{""}
	}
	if sep == "" {
		parts := make([]string, 0, utf8.RuneCountInString(s))
		for _, c := range s {
			parts = append(parts, string(c))
		}
		return parts
	}
	return strings.Split(s, sep)
}

func splitRegExp(x *RegExp, s []rune) ([]string, error) {
	matches, err := x.all(s)
	if err != nil {
		return nil, err
	}
	var parts []string
	last := 0
	for _, m := range matches {
		if m.length == 0 && (m.index == 0 || m.index == len(s)) {
			continue
		}
		parts = append(parts, string(s[last:m.index]))
		for _, g := range m.groups[1:] {
			parts = append(parts, g.AsString())
		}
		last = m.index + m.length
	}
	return append(parts, string(s[last:])), nil
}

func runeIndex(s, needle []rune, from int) int {
	for i := from; i+len(needle) <= len(s); i++ {
		if hasPrefix(s[i:], needle) {
			return i
		}
	}
	return -1
}

func hasPrefix(s, prefix []rune) bool {
	if len(prefix) > len(s) {
		return false
	}
	for i, c := range prefix {
		if s[i] != c {
			return false
		}
	}
	return true
}
