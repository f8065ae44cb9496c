package builtins

import (
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

// MatchTimeout bounds a single regular expression match.
const MatchTimeout = time.Second

// RegExp is the native payload of regular expression objects.
type RegExp struct {
	re         *regexp2.Regexp
	source     string
	flags      string
	global     bool
	ignoreCase bool
	multiline  bool
	lastIndex  int
}

// CompileRegExp compiles pattern with the flags g, i, m, s and x.
func CompileRegExp(pattern, flags string) (*RegExp, error) {
	x := &RegExp{source: pattern, flags: flags}
	opts := regexp2.RegexOptions(regexp2.ECMAScript)
	for _, f := range flags {
		switch f {
		case 'g':
			x.global = true
		case 'i':
			x.ignoreCase = true
			opts |= regexp2.IgnoreCase
		case 'm':
			x.multiline = true
			opts |= regexp2.Multiline
		case 's':
			opts = opts&^regexp2.ECMAScript | regexp2.Singleline
		case 'x':
			opts = opts&^regexp2.ECMAScript | regexp2.IgnorePatternWhitespace
		default:
			return nil, value.Errorf(value.GenericError, "invalid regular expression flag %q", f)
		}
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, value.Errorf(value.GenericError, "invalid regular expression /%s/: %v", pattern, err)
	}
	re.MatchTimeout = MatchTimeout
	x.re = re
	return x, nil
}

func (x *RegExp) GetHook(h *value.Heap, self value.Value, name string) (value.Value, bool, error) {
	switch name {
	case "source":
		return value.String(x.source), true, nil
	case "global":
		return value.Bool(x.global), true, nil
	case "ignoreCase":
		return value.Bool(x.ignoreCase), true, nil
	case "multiline":
		return value.Bool(x.multiline), true, nil
	case "lastIndex":
		return value.Int(x.lastIndex), true, nil
	}
	return value.Undefined, false, nil
}

func (x *RegExp) SetHook(h *value.Heap, self value.Value, name string, v value.Value) (bool, error) {
	switch name {
	case "source", "global", "ignoreCase", "multiline":
		return true, nil
	case "lastIndex":
		n, err := h.ToNumber(v)
		if err != nil {
			return true, err
		}
		x.lastIndex = max(0, toInteger(n))
		return true, nil
	}
	return false, nil
}

// find returns the first match at or after start, in runes.
func (x *RegExp) find(input []rune, start int) (*regexp2.Match, error) {
	if start > len(input) {
		return nil, nil
	}
	m, err := x.re.FindRunesMatchStartingAt(input, start)
	return m, matchError(err)
}

func (x *RegExp) next(m *regexp2.Match) (*regexp2.Match, error) {
	n, err := x.re.FindNextMatch(m)
	return n, matchError(err)
}

func matchError(err error) error {
	if err == nil {
		return nil
	}
	return value.Errorf(value.GenericError, "regular expression match failed: %v", err)
}

// all returns every non-overlapping match.
func (x *RegExp) all(input []rune) ([]match, error) {
	var out []match
	m, err := x.find(input, 0)
	for m != nil && err == nil {
		out = append(out, toMatch(m))
		m, err = x.next(m)
	}
	return out, err
}

// registerRegExpBuiltins defines RegExp and RegExp.prototype.
func (r *realm) registerRegExpBuiltins() {
	h := r.h
	proto := r.prototype("RegExp.prototype", h.Intrinsic(value.ObjectPrototype), nil)

	r.constructor("RegExp", 2, proto, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		if src, ok := r.asRegExp(arg(args, 0)); ok && arg(args, 1).IsUndefined() {
			x, err := CompileRegExp(src.source, src.flags)
			if err != nil {
				return value.Undefined, err
			}
			return h.New(proto, x), nil
		}
		pattern := ""
		if v := arg(args, 0); !v.IsUndefined() {
			s, err := h.ToString(v)
			if err != nil {
				return value.Undefined, err
			}
			pattern = s
		}
		flags := ""
		if v := arg(args, 1); !v.IsUndefined() {
			s, err := h.ToString(v)
			if err != nil {
				return value.Undefined, err
			}
			flags = s
		}
		x, err := CompileRegExp(pattern, flags)
		if err != nil {
			return value.Undefined, err
		}
		return h.New(proto, x), nil
	})

	r.method(proto, "exec", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		x, err := r.thisRegExp(this)
		if err != nil {
			return value.Undefined, err
		}
		s, err := r.string(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		return r.exec(x, s)
	})

	r.method(proto, "test", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		x, err := r.thisRegExp(this)
		if err != nil {
			return value.Undefined, err
		}
		s, err := r.string(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		res, err := r.exec(x, s)
		return value.Bool(res.IsObject()), err
	})

	r.method(proto, "toString", 0, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		x, err := r.thisRegExp(this)
		if err != nil {
			return value.Undefined, err
		}
		return value.String("/" + x.source + "/" + x.flags), nil
	})
}

func (r *realm) asRegExp(v value.Value) (*RegExp, bool) {
	o, ok := r.h.Object(v)
	if !ok {
		return nil, false
	}
	x, ok := o.Native().(*RegExp)
	return x, ok
}

func (r *realm) thisRegExp(this value.Value) (*RegExp, error) {
	x, ok := r.asRegExp(this)
	if !ok {
		return nil, value.Errorf(value.TypeError, "RegExp.prototype method called on %s", r.h.TypeOf(this))
	}
	return x, nil
}

// exec runs one match. Global expressions start at lastIndex and advance
// it; a miss resets it to zero.
func (r *realm) exec(x *RegExp, s string) (value.Value, error) {
	input := []rune(s)
	start := 0
	if x.global {
		start = x.lastIndex
	}
	m, err := x.find(input, start)
	if err != nil {
		return value.Undefined, err
	}
	if m == nil {
		x.lastIndex = 0
		return value.Null, nil
	}
	if x.global {
		x.lastIndex = m.Index + m.Length
		if m.Length == 0 {
			x.lastIndex++
		}
	}
	return r.matchArray(toMatch(m), s), nil
}

// match is one match in character offsets. groups[0] is the whole match;
// unmatched groups are undefined.
type match struct {
	index, length int
	groups        []value.Value
}

func toMatch(m *regexp2.Match) match {
	groups := m.Groups()
	mt := match{index: m.Index, length: m.Length, groups: make([]value.Value, len(groups))}
	for i, g := range groups {
		if len(g.Captures) > 0 {
			mt.groups[i] = value.String(g.String())
		}
	}
	return mt
}

// matchArray builds [match, group1, ...] with index and input properties.
func (r *realm) matchArray(mt match, input string) value.Value {
	arr := r.h.NewArray(mt.groups)
	r.h.DefineProperty(arr, "index", value.Int(mt.index), 0)
	r.h.DefineProperty(arr, "input", value.String(input), 0)
	return arr
}

// expandReplacement substitutes $$, $&, $`, $' and $n in repl.
func expandReplacement(input []rune, mt match, repl string) string {
	if !strings.Contains(repl, "$") {
		return repl
	}
	group := func(n int) (string, bool) {
		if n <= 0 || n >= len(mt.groups) {
			return "", false
		}
		return mt.groups[n].AsString(), true
	}
	var sb strings.Builder
	for i := 0; i < len(repl); i++ {
		c := repl[i]
		if c != '$' || i+1 == len(repl) {
			sb.WriteByte(c)
			continue
		}
		switch next := repl[i+1]; {
		case next == '$':
			sb.WriteByte('$')
			i++
		case next == '&':
			sb.WriteString(string(input[mt.index : mt.index+mt.length]))
			i++
		case next == '`':
			sb.WriteString(string(input[:mt.index]))
			i++
		case next == '\'':
			sb.WriteString(string(input[mt.index+mt.length:]))
			i++
		case next >= '0' && next <= '9':
			// two digit references win when that group exists
			if i+2 < len(repl) && repl[i+2] >= '0' && repl[i+2] <= '9' {
				n, _ := strconv.Atoi(repl[i+1 : i+3])
				if s, ok := group(n); ok {
					sb.WriteString(s)
					i += 2
					continue
				}
			}
			if s, ok := group(int(next - '0')); ok {
				sb.WriteString(s)
				i++
				continue
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
