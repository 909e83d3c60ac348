package bus

import (
	"strconv"
	"strings"
)

// MatchKind is the message kind a rule matches. Unlike MessageType it
// includes a wildcard.
type MatchKind int

const (
	// MatchAny matches every message type.
	MatchAny MatchKind = iota

	// MatchMethodCall matches method invocation requests.
	MatchMethodCall

	// MatchMethodReturn matches successful method replies.
	MatchMethodReturn

	// MatchError matches error replies.
	MatchError

	// MatchSignal matches broadcast notifications.
	MatchSignal
)

// String returns a human-readable match kind name.
func (k MatchKind) String() string {
	switch k {
	case MatchMethodCall:
		return "method_call"
	case MatchMethodReturn:
		return "method_return"
	case MatchError:
		return "error"
	case MatchSignal:
		return "signal"
	default:
		return "any"
	}
}

// Accepts reports whether the kind matches the given message type.
func (k MatchKind) Accepts(t MessageType) bool {
	switch k {
	case MatchAny:
		return true
	case MatchMethodCall:
		return t == TypeMethodCall
	case MatchMethodReturn:
		return t == TypeMethodReturn
	case MatchError:
		return t == TypeError
	case MatchSignal:
		return t == TypeSignal
	default:
		return false
	}
}

// ArgKind is how a per-argument filter interprets the argument.
type ArgKind int

const (
	// ArgString matches string arguments exactly.
	ArgString ArgKind = iota

	// ArgPath matches object-path arguments with prefix semantics.
	ArgPath
)

// String returns a human-readable argument kind name.
func (k ArgKind) String() string {
	if k == ArgPath {
		return "path"
	}
	return "string"
}

// MaxArgIndex is the highest body argument index a rule may filter on.
const MaxArgIndex = 63

// MaxFilterArgs is the maximum number of per-argument filters a single
// rule may carry.
const MaxFilterArgs = 65

// FilterArg is an exact-match filter on the N'th body argument.
type FilterArg struct {
	// Kind selects string or object-path interpretation.
	Kind ArgKind

	// Index is the argument position in [0, MaxArgIndex].
	Index int

	// Value is the string or object path to compare against.
	Value string
}

// Rule is a declarative filter over message attributes. A zero field means
// wildcard; setting a field narrows the match.
type Rule struct {
	// Kind restricts the message type.
	Kind MatchKind

	// Member matches the method or signal name.
	Member string

	// Interface matches the interface name.
	Interface string

	// Sender matches the sending bus name.
	Sender string

	// Path matches the object path, or a path namespace when
	// PathIsNamespace is set.
	Path string

	// PathIsNamespace treats Path as a hierarchical prefix.
	PathIsNamespace bool

	// Arg0Namespace matches when the first argument is a name inside the
	// given dot-separated namespace.
	Arg0Namespace string

	// Eavesdrop allows matching messages addressed to other destinations.
	Eavesdrop bool

	// Args are per-argument filters.
	Args []FilterArg
}

// Matches reports whether the rule matches the message as seen by an
// unnamed connection.
func (r *Rule) Matches(msg *Message) bool {
	return r.matchesAs(msg, "")
}

// matchesAs evaluates the rule for a connection whose bus name is local.
// A message addressed to local is an ordinary delivery; one addressed
// anywhere else requires eavesdrop.
func (r *Rule) matchesAs(msg *Message, local string) bool {
	if msg == nil {
		return false
	}
	if !r.Kind.Accepts(msg.Type) {
		return false
	}
	if msg.Destination != "" && msg.Destination != local && !r.Eavesdrop {
		return false
	}
	if r.Member != "" && r.Member != msg.Member {
		return false
	}
	if r.Interface != "" && r.Interface != msg.Interface {
		return false
	}
	if r.Sender != "" && r.Sender != msg.Sender {
		return false
	}
	if r.Path != "" {
		if r.PathIsNamespace {
			if !pathNamespaceMatch(r.Path, msg.Path) {
				return false
			}
		} else if r.Path != msg.Path {
			return false
		}
	}
	if r.Arg0Namespace != "" {
		arg0, ok := msg.Arg0()
		if !ok || arg0.IsPath || !nameNamespaceMatch(r.Arg0Namespace, arg0.Value) {
			return false
		}
	}
	for _, f := range r.Args {
		if f.Index < 0 || f.Index >= len(msg.Args) {
			return false
		}
		arg := msg.Args[f.Index]
		switch f.Kind {
		case ArgPath:
			if !argPathMatch(f.Value, arg.Value) {
				return false
			}
		default:
			if arg.IsPath || arg.Value != f.Value {
				return false
			}
		}
	}
	return true
}

// String renders the rule in the canonical textual match-rule form.
func (r *Rule) String() string {
	var parts []string
	add := func(key, val string) {
		parts = append(parts, key+"='"+val+"'")
	}
	if r.Kind != MatchAny {
		add("type", r.Kind.String())
	}
	if r.Member != "" {
		add("member", r.Member)
	}
	if r.Interface != "" {
		add("interface", r.Interface)
	}
	if r.Sender != "" {
		add("sender", r.Sender)
	}
	if r.Path != "" {
		if r.PathIsNamespace {
			add("path_namespace", r.Path)
		} else {
			add("path", r.Path)
		}
	}
	if r.Arg0Namespace != "" {
		add("arg0namespace", r.Arg0Namespace)
	}
	if r.Eavesdrop {
		add("eavesdrop", "true")
	}
	for _, f := range r.Args {
		key := "arg" + strconv.Itoa(f.Index)
		if f.Kind == ArgPath {
			key += "path"
		}
		add(key, f.Value)
	}
	return strings.Join(parts, ",")
}

// pathNamespaceMatch reports whether path sits inside the hierarchical
// namespace ns. "/" contains every path.
func pathNamespaceMatch(ns, path string) bool {
	if path == "" {
		return false
	}
	if ns == "/" || ns == path {
		return true
	}
	return strings.HasPrefix(path, ns) && len(path) > len(ns) && path[len(ns)] == '/'
}

// nameNamespaceMatch reports whether name sits inside the dot-separated
// namespace ns.
func nameNamespaceMatch(ns, name string) bool {
	if ns == name {
		return true
	}
	return strings.HasPrefix(name, ns) && len(name) > len(ns) && name[len(ns)] == '.'
}

// argPathMatch implements object-path argument matching: the values match
// when equal, or when either one ends with '/' and is a prefix of the
// other.
func argPathMatch(want, got string) bool {
	if want == got {
		return true
	}
	if strings.HasSuffix(want, "/") && strings.HasPrefix(got, want) {
		return true
	}
	if strings.HasSuffix(got, "/") && strings.HasPrefix(want, got) {
		return true
	}
	return false
}
