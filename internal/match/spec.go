package match

import "github.com/dshills/luabus/internal/bus"

// Spec is a declarative filter description. Zero-valued fields are
// wildcards; the documented defaults mirror the exposed rule schema:
// message kind defaults to any, PathIsNamespace and Eavesdrop default to
// false, and an ArgSpec without an explicit kind defaults to string
// matching.
type Spec struct {
	// Kind restricts the message type. Values outside the known range are
	// normalized to the any-type wildcard.
	Kind bus.MatchKind

	// Member matches the method or signal name.
	Member string

	// Interface matches the interface name.
	Interface string

	// Sender matches the sending bus name.
	Sender string

	// Path matches the object path, or a namespace prefix when
	// PathIsNamespace is set.
	Path string

	// PathIsNamespace treats Path as a hierarchical prefix.
	PathIsNamespace bool

	// Arg0Namespace matches when the first argument is a name inside the
	// given dot-separated namespace.
	Arg0Namespace string

	// Eavesdrop allows matching messages addressed to other destinations.
	Eavesdrop bool

	// Args are per-argument filters. At most bus.MaxFilterArgs entries
	// are used; surplus entries are ignored.
	Args []ArgSpec
}

// ArgSpec filters the N'th body argument of a message. Index and Value
// are pointers so a parser can distinguish "omitted" from a zero value;
// both are required for a well-formed entry.
type ArgSpec struct {
	// Kind is "string" or "path". Empty selects the string default; any
	// other value is a validation error.
	Kind string

	// Index is the argument position in [0, bus.MaxArgIndex].
	Index *int

	// Value is the exact string or object path to match.
	Value *string
}

// StringArg builds a string-kind argument filter.
func StringArg(index int, value string) ArgSpec {
	return ArgSpec{Kind: "string", Index: &index, Value: &value}
}

// PathArg builds a path-kind argument filter.
func PathArg(index int, value string) ArgSpec {
	return ArgSpec{Kind: "path", Index: &index, Value: &value}
}

// compile validates the spec and flattens it into a native rule. The
// first violation aborts; no partial rule is produced.
func (s *Spec) compile() (*bus.Rule, error) {
	kind := s.Kind
	switch kind {
	case bus.MatchAny, bus.MatchMethodCall, bus.MatchMethodReturn,
		bus.MatchError, bus.MatchSignal:
	default:
		kind = bus.MatchAny
	}

	rule := &bus.Rule{
		Kind:            kind,
		Member:          s.Member,
		Interface:       s.Interface,
		Sender:          s.Sender,
		Path:            s.Path,
		PathIsNamespace: s.PathIsNamespace,
		Arg0Namespace:   s.Arg0Namespace,
		Eavesdrop:       s.Eavesdrop,
	}

	args := s.Args
	if len(args) > bus.MaxFilterArgs {
		args = args[:bus.MaxFilterArgs]
	}
	if len(args) > 0 {
		rule.Args = make([]bus.FilterArg, 0, len(args))
	}
	for _, a := range args {
		var kind bus.ArgKind
		switch a.Kind {
		case "", "string":
			kind = bus.ArgString
		case "path":
			kind = bus.ArgPath
		default:
			return nil, &ValidationError{
				Reason: "unknown argument type " + `"` + a.Kind + `"` + " (must be \"path\" or \"string\")",
			}
		}
		if a.Index == nil {
			return nil, &ValidationError{Reason: "arg filter index not specified"}
		}
		if *a.Index < 0 || *a.Index > bus.MaxArgIndex {
			return nil, &ValidationError{Reason: "arg filter index out of range"}
		}
		if a.Value == nil {
			return nil, &ValidationError{Reason: "arg filter missing a value"}
		}
		rule.Args = append(rule.Args, bus.FilterArg{
			Kind:  kind,
			Index: *a.Index,
			Value: *a.Value,
		})
	}
	return rule, nil
}
