// Package wire carries bus messages as JSON frames over a websocket
// transport, feeding a remote bus daemon's deliveries into a local
// connection.
package wire

import (
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/luabus/internal/bus"
)

// Sentinel errors for frame decoding.
var (
	// ErrBadFrame is returned for frames that are not JSON objects.
	ErrBadFrame = errors.New("malformed wire frame")

	// ErrBadType is returned for frames with a missing or unknown type.
	ErrBadType = errors.New("unknown message type in wire frame")

	// ErrBadArg is returned for body argument entries that are neither
	// strings nor {value, path} objects.
	ErrBadArg = errors.New("malformed argument in wire frame")
)

// wireTypes maps frame type names to message types.
var wireTypes = map[string]bus.MessageType{
	"method_call":   bus.TypeMethodCall,
	"method_return": bus.TypeMethodReturn,
	"error":         bus.TypeError,
	"signal":        bus.TypeSignal,
}

// DecodeMessage parses one JSON frame into a message. A missing serial
// is filled in so every decoded message is individually identifiable.
func DecodeMessage(data []byte) (*bus.Message, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrBadFrame
	}
	frame := gjson.ParseBytes(data)
	if !frame.IsObject() {
		return nil, ErrBadFrame
	}

	msgType, ok := wireTypes[frame.Get("type").String()]
	if !ok {
		return nil, ErrBadType
	}

	msg := &bus.Message{
		Type:        msgType,
		Serial:      frame.Get("serial").String(),
		Sender:      frame.Get("sender").String(),
		Destination: frame.Get("destination").String(),
		Path:        frame.Get("path").String(),
		Interface:   frame.Get("interface").String(),
		Member:      frame.Get("member").String(),
	}
	if msg.Serial == "" {
		msg.Serial = uuid.NewString()
	}

	var argErr error
	frame.Get("args").ForEach(func(_, v gjson.Result) bool {
		switch {
		case v.Type == gjson.String:
			msg.Args = append(msg.Args, bus.Arg{Value: v.String()})
		case v.IsObject():
			msg.Args = append(msg.Args, bus.Arg{
				Value:  v.Get("value").String(),
				IsPath: v.Get("path").Bool(),
			})
		default:
			argErr = ErrBadArg
			return false
		}
		return true
	})
	if argErr != nil {
		return nil, argErr
	}
	return msg, nil
}

// EncodeMessage renders a message as a JSON frame. A serial is generated
// when the message carries none.
func EncodeMessage(msg *bus.Message) ([]byte, error) {
	serial := msg.Serial
	if serial == "" {
		serial = uuid.NewString()
	}

	data := []byte(`{}`)
	var err error
	set := func(key string, value any) {
		if err != nil {
			return
		}
		data, err = sjson.SetBytes(data, key, value)
	}

	set("type", msg.Type.String())
	set("serial", serial)
	if msg.Sender != "" {
		set("sender", msg.Sender)
	}
	if msg.Destination != "" {
		set("destination", msg.Destination)
	}
	if msg.Path != "" {
		set("path", msg.Path)
	}
	if msg.Interface != "" {
		set("interface", msg.Interface)
	}
	if msg.Member != "" {
		set("member", msg.Member)
	}
	for i, arg := range msg.Args {
		key := "args." + strconv.Itoa(i)
		if arg.IsPath {
			set(key+".value", arg.Value)
			set(key+".path", true)
		} else {
			set(key, arg.Value)
		}
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
