package carrier

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Message represents a message exchanged between nodes.
type Message struct { // A
	// Type identifies what kind of message this is.
	Type MessageType
	// Payload is the message data, format depends on Type.
	Payload []byte
}

// Payload flag bytes.
const (
	payloadPlain      byte = 0
	payloadCompressed byte = 1

	// compressThreshold is the encoded size above which payloads are
	// compressed.
	compressThreshold = 1024
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxPayloadLength))
)

// NewMessage encodes v with gob into a message of type t.
func NewMessage(t MessageType, v any) (Message, error) { // A
	payload, err := EncodePayload(v)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", t, err)
	}
	return Message{Type: t, Payload: payload}, nil
}

// Decode decodes the payload of m into v.
func (m Message) Decode(v any) error { // A
	if err := DecodePayload(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", m.Type, err)
	}
	return nil
}

// EncodePayload gob encodes v. Payloads above compressThreshold are zstd
// compressed. The first byte tells which.
func EncodePayload(v any) ([]byte, error) { // A
	var buf bytes.Buffer
	buf.WriteByte(payloadPlain)
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	b := buf.Bytes()
	if len(b)-1 <= compressThreshold {
		return b, nil
	}
	out := make([]byte, 1, len(b)/2)
	out[0] = payloadCompressed
	return zstdEncoder.EncodeAll(b[1:], out), nil
}

// DecodePayload reverses EncodePayload.
func DecodePayload(b []byte, v any) error { // A
	if len(b) == 0 {
		return errors.New("empty payload")
	}
	body := b[1:]
	switch b[0] {
	case payloadPlain:
	case payloadCompressed:
		var err error
		body, err = zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return fmt.Errorf("decompress payload: %w", err)
		}
	default:
		return fmt.Errorf("unknown payload flag %d", b[0])
	}
	return gob.NewDecoder(bytes.NewReader(body)).Decode(v)
}

func ackMessage() Message { // A
	return Message{Type: MessageTypeAck}
}

func errorMessage(err error) Message { // A
	return Message{Type: MessageTypeError, Payload: []byte(err.Error())}
}
