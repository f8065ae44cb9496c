package value

import "strings"

// AnyName is the wildcard local name.
const AnyName = "*"

// QName is a namespace-qualified name. The empty namespace is the public
// namespace.
type QName struct {
	Namespace string
	Local     string
}

// NewQName returns the qualified name ns::local.
func NewQName(ns, local string) QName {
	return QName{Namespace: ns, Local: local}
}

// ParseQName splits "ns::local". A name without a separator is public.
func ParseQName(s string) QName {
	if i := strings.LastIndex(s, "::"); i >= 0 {
		return QName{Namespace: s[:i], Local: s[i+2:]}
	}
	return QName{Local: s}
}

// IsAny reports whether q is the any-name wildcard.
func (q QName) IsAny() bool {
	return q.Local == AnyName
}

// Matches reports whether q selects other. A wildcard local name matches any
// name in the same namespace; a wildcard namespace matches every namespace.
func (q QName) Matches(other QName) bool {
	if q.Namespace != AnyName && q.Namespace != other.Namespace {
		return false
	}
	return q.IsAny() || q.Local == other.Local
}

func (q QName) String() string {
	if q.Namespace == "" {
		return q.Local
	}
	return q.Namespace + "::" + q.Local
}
