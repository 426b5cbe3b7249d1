package tftp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidPacket is returned when a datagram cannot be parsed as any known
// TFTP packet shape. It never travels on the wire; the dispatcher logs and
// discards the datagram that produced it.
var ErrInvalidPacket = errors.New("invalid tftp packet")

// RequestPacket represents an RRQ or WRQ packet, as defined in RFC 1350,
// Section 5, extended with an option list per RFC 2347, Section 2.
type RequestPacket struct {
	Opcode   Opcode
	Filename string
	Mode     Mode
	Options  map[string]string
}

// DataPacket represents a DATA packet, as defined in RFC 1350, Section 5.
type DataPacket struct {
	Block   uint16
	Payload []byte
}

// AckPacket represents an ACK packet, as defined in RFC 1350, Section 5.
type AckPacket struct {
	Block uint16
}

// ErrorPacket represents an ERROR packet, as defined in RFC 1350, Section 5.
// ErrorPacket implements the error interface so it can be returned and
// propagated like any other Go error.
type ErrorPacket struct {
	Code    ErrorCode
	Message string
}

// Error returns the string representation of an ErrorPacket.
func (e *ErrorPacket) Error() string {
	return fmt.Sprintf("tftp error %d: %s", e.Code, e.Message)
}

// OackPacket represents an OACK packet, as defined in RFC 2347, Section 2.
// Options must be non-empty; OACK is only ever sent when at least one
// option was accepted.
type OackPacket struct {
	Options map[string]string
}

// EncodeRequest encodes an RRQ or WRQ packet. op must be OpcodeRead or
// OpcodeWrite.
func EncodeRequest(op Opcode, filename string, mode Mode, options map[string]string) []byte {
	buf := new(bytes.Buffer)
	writeUint16(buf, uint16(op))
	buf.WriteString(filename)
	buf.WriteByte(0)
	buf.WriteString(string(mode))
	buf.WriteByte(0)
	writeOptions(buf, options)
	return buf.Bytes()
}

// EncodeData encodes a DATA packet. block must be in [1, 65535].
func EncodeData(block uint16, payload []byte) []byte {
	buf := new(bytes.Buffer)
	writeUint16(buf, uint16(OpcodeData))
	writeUint16(buf, block)
	buf.Write(payload)
	return buf.Bytes()
}

// EncodeAck encodes an ACK packet.
func EncodeAck(block uint16) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], uint16(OpcodeAck))
	binary.BigEndian.PutUint16(buf[2:4], block)
	return buf
}

// EncodeError encodes an ERROR packet.
func EncodeError(code ErrorCode, message string) []byte {
	buf := new(bytes.Buffer)
	writeUint16(buf, uint16(OpcodeError))
	writeUint16(buf, uint16(code))
	buf.WriteString(message)
	buf.WriteByte(0)
	return buf.Bytes()
}

// EncodeOack encodes an OACK packet. options must be non-empty.
func EncodeOack(options map[string]string) []byte {
	buf := new(bytes.Buffer)
	writeUint16(buf, uint16(OpcodeOack))
	writeOptions(buf, options)
	return buf.Bytes()
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

// writeOptions writes a sequence of NUL-terminated key/value pairs. A
// trailing NUL follows the final value, matching RFC 2347's wire shape.
func writeOptions(buf *bytes.Buffer, options map[string]string) {
	for k, v := range options {
		buf.WriteString(k)
		buf.WriteByte(0)
		buf.WriteString(v)
		buf.WriteByte(0)
	}
}

// Parse dispatches on the two-byte opcode prefix of b and returns one of
// *RequestPacket, *DataPacket, *AckPacket, *ErrorPacket, or *OackPacket.
// Malformed input of any kind returns ErrInvalidPacket (never panics).
func Parse(b []byte) (interface{}, error) {
	if len(b) < 2 {
		return nil, ErrInvalidPacket
	}

	op := Opcode(binary.BigEndian.Uint16(b[0:2]))
	switch op {
	case OpcodeRead, OpcodeWrite:
		return parseRequest(op, b[2:])
	case OpcodeData:
		return parseData(b[2:])
	case OpcodeAck:
		return parseAck(b[2:])
	case OpcodeError:
		return parseError(b[2:])
	case OpcodeOack:
		return parseOack(b[2:])
	default:
		return nil, ErrInvalidPacket
	}
}

// parseRequest parses the body of an RRQ/WRQ (everything after the opcode).
// Per spec, the body is split on NUL bytes, empty tokens are discarded, and
// at least two tokens (filename, mode) must remain, in pairs thereafter.
func parseRequest(op Opcode, body []byte) (*RequestPacket, error) {
	tokens := splitNonEmpty(body)
	if len(tokens) < 2 || len(tokens)%2 != 0 {
		return nil, ErrInvalidPacket
	}

	filename := tokens[0]
	mode := Mode(strings.ToLower(tokens[1]))
	if mode != ModeNetASCII && mode != ModeOctet {
		return nil, ErrInvalidPacket
	}

	var options map[string]string
	if len(tokens) > 2 {
		options = make(map[string]string, (len(tokens)-2)/2)
		for i := 2; i < len(tokens); i += 2 {
			options[strings.ToLower(tokens[i])] = tokens[i+1]
		}
	}

	return &RequestPacket{
		Opcode:   op,
		Filename: filename,
		Mode:     mode,
		Options:  options,
	}, nil
}

// splitNonEmpty splits b on NUL bytes and discards empty tokens, tolerating
// a missing trailing NUL.
func splitNonEmpty(b []byte) []string {
	var out []string
	for _, tok := range bytes.Split(b, []byte{0}) {
		if len(tok) > 0 {
			out = append(out, string(tok))
		}
	}
	return out
}

func parseData(body []byte) (*DataPacket, error) {
	if len(body) < 2 {
		return nil, ErrInvalidPacket
	}

	block := binary.BigEndian.Uint16(body[0:2])
	if block == 0 {
		return nil, ErrInvalidPacket
	}

	payload := make([]byte, len(body)-2)
	copy(payload, body[2:])

	return &DataPacket{Block: block, Payload: payload}, nil
}

func parseAck(body []byte) (*AckPacket, error) {
	if len(body) != 2 {
		return nil, ErrInvalidPacket
	}
	return &AckPacket{Block: binary.BigEndian.Uint16(body)}, nil
}

func parseError(body []byte) (*ErrorPacket, error) {
	if len(body) < 3 {
		return nil, ErrInvalidPacket
	}

	code := ErrorCode(binary.BigEndian.Uint16(body[0:2]))
	if code > ErrorCodeInvalidOptions {
		return nil, ErrInvalidPacket
	}

	msg := body[2:]
	if len(msg) > 0 && msg[len(msg)-1] == 0 {
		msg = msg[:len(msg)-1]
	}

	return &ErrorPacket{Code: code, Message: string(msg)}, nil
}

func parseOack(body []byte) (*OackPacket, error) {
	tokens := splitNonEmpty(body)
	if len(tokens) == 0 || len(tokens)%2 != 0 {
		return nil, ErrInvalidPacket
	}

	options := make(map[string]string, len(tokens)/2)
	for i := 0; i < len(tokens); i += 2 {
		options[strings.ToLower(tokens[i])] = tokens[i+1]
	}

	return &OackPacket{Options: options}, nil
}
