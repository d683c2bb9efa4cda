package message

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned when a payload cannot be decoded into a Message.
var ErrMalformed = errors.New("malformed message")

// Wire field numbers.
const (
	fieldLogicalClockTime protowire.Number = 1
	fieldSenderID         protowire.Number = 2
	fieldRecipientID      protowire.Number = 3
)

// Message is a timestamped point-to-point message. It is passed by value and
// never modified after construction.
type Message struct {
	// LogicalClockTime is the sender's logical clock at send time.
	LogicalClockTime uint64 `json:"logicalClockTime"`
	SenderID         string `json:"from"`
	RecipientID      string `json:"to"`
}

// New creates a message stamped with the sender's current clock value.
func New(clockTime uint64, from, to string) Message {
	return Message{
		LogicalClockTime: clockTime,
		SenderID:         from,
		RecipientID:      to,
	}
}

// String returns a compact representation used in log lines.
func (m Message) String() string {
	return fmt.Sprintf("{t=%d %s->%s}", m.LogicalClockTime, m.SenderID, m.RecipientID)
}

// Validate checks that both endpoints are set.
func (m Message) Validate() error {
	if m.SenderID == "" {
		return fmt.Errorf("%w: empty sender id", ErrMalformed)
	}
	if m.RecipientID == "" {
		return fmt.Errorf("%w: empty recipient id", ErrMalformed)
	}
	return nil
}

// Marshal encodes the message in protobuf wire format.
func Marshal(m Message) []byte {
	b := make([]byte, 0, 16+len(m.SenderID)+len(m.RecipientID))
	b = protowire.AppendTag(b, fieldLogicalClockTime, protowire.VarintType)
	b = protowire.AppendVarint(b, m.LogicalClockTime)
	b = protowire.AppendTag(b, fieldSenderID, protowire.BytesType)
	b = protowire.AppendString(b, m.SenderID)
	b = protowire.AppendTag(b, fieldRecipientID, protowire.BytesType)
	b = protowire.AppendString(b, m.RecipientID)
	return b
}

// Unmarshal decodes a payload produced by Marshal. Unknown fields are skipped.
// Truncated input, wire-type mismatches and missing endpoints all yield an
// error wrapping ErrMalformed.
func Unmarshal(b []byte) (Message, error) {
	var m Message
	if len(b) == 0 {
		return m, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldLogicalClockTime && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: logical clock: %v", ErrMalformed, protowire.ParseError(n))
			}
			m.LogicalClockTime = v
			b = b[n:]
		case num == fieldSenderID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: sender id: %v", ErrMalformed, protowire.ParseError(n))
			}
			m.SenderID = v
			b = b[n:]
		case num == fieldRecipientID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: recipient id: %v", ErrMalformed, protowire.ParseError(n))
			}
			m.RecipientID = v
			b = b[n:]
		case num <= fieldRecipientID:
			return Message{}, fmt.Errorf("%w: field %d has wire type %d", ErrMalformed, num, typ)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
