package bus

// MessageType identifies the kind of a bus message. The numeric values
// follow the D-Bus wire protocol.
type MessageType int

const (
	// TypeInvalid marks a message with no valid type.
	TypeInvalid MessageType = iota

	// TypeMethodCall is a method invocation request.
	TypeMethodCall

	// TypeMethodReturn is a successful method reply.
	TypeMethodReturn

	// TypeError is an error reply.
	TypeError

	// TypeSignal is a broadcast notification.
	TypeSignal
)

// String returns a human-readable message type name.
func (t MessageType) String() string {
	switch t {
	case TypeMethodCall:
		return "method_call"
	case TypeMethodReturn:
		return "method_return"
	case TypeError:
		return "error"
	case TypeSignal:
		return "signal"
	default:
		return "invalid"
	}
}

// Arg is a message body argument visible to match rules. Only string and
// object-path arguments participate in matching; other body types are
// carried opaquely by the message layer and never inspected here.
type Arg struct {
	// Value is the string or object-path payload.
	Value string

	// IsPath reports whether the argument is typed as an object path.
	IsPath bool
}

// Message is a single bus message. Match rules inspect the header fields
// and the string/object-path arguments; the body itself is opaque.
type Message struct {
	// Type is the message kind.
	Type MessageType

	// Serial uniquely identifies the message on its connection.
	Serial string

	// Sender is the bus name of the sending connection.
	Sender string

	// Destination is the intended recipient, or empty for broadcasts.
	Destination string

	// Path is the object path the message was sent to or from.
	Path string

	// Interface is the interface of the member.
	Interface string

	// Member is the method or signal name.
	Member string

	// Args are the leading string/object-path body arguments.
	Args []Arg
}

// Arg0 returns the first argument, if present.
func (m *Message) Arg0() (Arg, bool) {
	if len(m.Args) == 0 {
		return Arg{}, false
	}
	return m.Args[0], true
}
