// Package protocol implements the control socket wire format.
//
// A request is one frame: a uvarint byte length followed by a Packet. A
// Packet and every command payload use the protobuf wire encoding, written
// and parsed field by field with protowire so no generated code is needed:
//
//	Packet  {1: version varint, 2: command varint, 3: payload bytes}
//	String  {1: value string}
//	Pair    {1: first string, 2: second string}
//	Track   {1: path, 2: alias kind, 3: alias script, 4: action kind, 5: action script}
//
// Unknown fields are skipped so either side may add fields without bumping
// Version. The response is plain UTF-8 text terminated by closing the
// connection.
package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	fwerrors "github.com/conneroisu/fwatch/internal/errors"
	"github.com/conneroisu/fwatch/internal/types"
)

// Version is the schema version both sides must agree on.
const Version = 1

// Command tags a Packet's payload.
type Command uint64

const (
	CommandTrack Command = iota + 1
	CommandList
	CommandSelect
	CommandEcho
	CommandEchoerr
	CommandUntrack
)

// String returns the string representation of the Command
func (c Command) String() string {
	switch c {
	case CommandTrack:
		return "track"
	case CommandList:
		return "list"
	case CommandSelect:
		return "select"
	case CommandEcho:
		return "echo"
	case CommandEchoerr:
		return "echoerr"
	case CommandUntrack:
		return "untrack"
	default:
		return fmt.Sprintf("command(%d)", uint64(c))
	}
}

// Known reports whether c is a command this version understands.
func (c Command) Known() bool {
	return c >= CommandTrack && c <= CommandUntrack
}

// Packet is one request.
type Packet struct {
	Version uint64
	Command Command
	Payload []byte
}

// NewPacket builds a current-version packet.
func NewPacket(cmd Command, payload []byte) Packet {
	return Packet{Version: Version, Command: cmd, Payload: payload}
}

// Pair is the (path, hash prefix) payload of a select.
type Pair struct {
	First  string
	Second string
}

// Track is the payload of a track command.
type Track struct {
	Path   string
	Alias  types.AliasPolicy
	Action types.ActionPolicy
}

// Marshal encodes p.
func (p Packet) Marshal() []byte {
	b := make([]byte, 0, len(p.Payload)+16)
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, p.Version)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Command))
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, p.Payload)
	return b
}

// UnmarshalPacket decodes a packet and checks its version. Unknown command
// tags decode fine; dispatch rejects them.
func UnmarshalPacket(b []byte) (Packet, error) {
	var p Packet
	var sawVersion, sawCommand bool

	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			p.Version, sawVersion = v, true
			return n, nil
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			p.Command, sawCommand = Command(v), true
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n >= 0 {
				p.Payload = append([]byte(nil), v...)
			}
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return Packet{}, malformed("packet", err)
	}
	if !sawVersion || !sawCommand {
		return Packet{}, malformed("packet", errors.New("missing version or command"))
	}
	if p.Version != Version {
		return Packet{}, fwerrors.NewDecodeError(fwerrors.ErrCodeSchemaVersion,
			fmt.Sprintf("schema version %d not supported (want %d)", p.Version, Version), nil)
	}
	return p, nil
}

// EncodeString encodes a single string payload.
func EncodeString(s string) []byte {
	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// DecodeString decodes a single string payload.
func DecodeString(b []byte) (string, error) {
	var s string
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 && typ == protowire.BytesType {
			v, n := protowire.ConsumeString(b)
			s = v
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return "", malformed("string payload", err)
	}
	return s, nil
}

// EncodePair encodes a two-string payload.
func EncodePair(p Pair) []byte {
	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	b = protowire.AppendString(b, p.First)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	return protowire.AppendString(b, p.Second)
}

// DecodePair decodes a two-string payload.
func DecodePair(b []byte) (Pair, error) {
	var p Pair
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return -1, nil
		}
		switch num {
		case 1:
			v, n := protowire.ConsumeString(b)
			p.First = v
			return n, nil
		case 2:
			v, n := protowire.ConsumeString(b)
			p.Second = v
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return Pair{}, malformed("pair payload", err)
	}
	return p, nil
}

// EncodeTrack encodes a track payload.
func EncodeTrack(t Track) []byte {
	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	b = protowire.AppendString(b, t.Path)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.Alias.Kind))
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, t.Alias.Script)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.Action.Kind))
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	return protowire.AppendString(b, t.Action.Script)
}

// DecodeTrack decodes a track payload and checks the policy kinds.
func DecodeTrack(b []byte) (Track, error) {
	var t Track
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			t.Path = v
			return n, nil
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			t.Alias.Kind = types.AliasKind(v)
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			t.Alias.Script = v
			return n, nil
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			t.Action.Kind = types.ActionKind(v)
			return n, nil
		case num == 5 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			t.Action.Script = v
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return Track{}, malformed("track payload", err)
	}

	switch t.Alias.Kind {
	case types.AliasBasename:
	case types.AliasScript:
		if t.Alias.Script == "" {
			return Track{}, malformed("track payload", errors.New("alias script policy without a script"))
		}
	default:
		return Track{}, malformed("track payload", fmt.Errorf("unknown alias kind %d", t.Alias.Kind))
	}

	switch t.Action.Kind {
	case types.ActionSave:
	case types.ActionScript:
		if t.Action.Script == "" {
			return Track{}, malformed("track payload", errors.New("action script policy without a script"))
		}
	default:
		return Track{}, malformed("track payload", fmt.Errorf("unknown action kind %d", t.Action.Kind))
	}

	return t, nil
}

// WriteFrame writes p as one length-prefixed frame.
func WriteFrame(w io.Writer, p Packet) error {
	body := p.Marshal()
	frame := protowire.AppendVarint(make([]byte, 0, len(body)+binary.MaxVarintLen64), uint64(len(body)))
	frame = append(frame, body...)
	_, err := w.Write(frame)
	return err
}

// ReadFrame reads one frame of at most limit bytes and decodes the packet.
// io.EOF before the first byte is returned as is; anything else that is
// wrong with the frame is a decode error.
func ReadFrame(r *bufio.Reader, limit int) (Packet, error) {
	size, err := binary.ReadUvarint(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Packet{}, io.EOF
		}
		return Packet{}, malformed("frame header", err)
	}
	if limit > 0 && size > uint64(limit) {
		return Packet{}, fwerrors.NewDecodeError(fwerrors.ErrCodeFrameTooLarge,
			fmt.Sprintf("frame of %d bytes exceeds limit of %d", size, limit), nil)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Packet{}, malformed("frame body", err)
	}
	return UnmarshalPacket(body)
}

// walk iterates the fields of a message. fn consumes a known field's value
// and returns its length, or -1 with a nil error to skip the field.
func walk(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == -1 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func malformed(what string, cause error) error {
	return fwerrors.NewDecodeError(fwerrors.ErrCodeMalformedPacket, "malformed "+what, cause)
}
