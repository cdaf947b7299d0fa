// Package pdu implements Clockwork's wire protocol: a length-prefixed
// binary frame format exchanged over a mutually-authenticated TLS
// connection, plus typed encode/decode helpers for each operation's
// payload.
package pdu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/jameshunt/clockwork/pkg/checksum"
	"github.com/jameshunt/clockwork/pkg/facts"
	"github.com/jameshunt/clockwork/pkg/policy"
	"github.com/jameshunt/clockwork/pkg/report"
)

// Op is the closed set of protocol operations. The numeric values match
// the wire encoding and must never be renumbered.
type Op uint16

const (
	OpError Op = iota + 1
	OpHello
	OpFacts
	OpPolicy
	OpFile
	OpData
	OpReport
	OpBye
	OpGetCert
	OpSendCert
)

func (o Op) String() string {
	switch o {
	case OpError:
		return "ERROR"
	case OpHello:
		return "HELLO"
	case OpFacts:
		return "FACTS"
	case OpPolicy:
		return "POLICY"
	case OpFile:
		return "FILE"
	case OpData:
		return "DATA"
	case OpReport:
		return "REPORT"
	case OpBye:
		return "BYE"
	case OpGetCert:
		return "GET_CERT"
	case OpSendCert:
		return "SEND_CERT"
	default:
		return fmt.Sprintf("OP(%d)", uint16(o))
	}
}

// MaxPayload bounds a single frame's payload length, matching the wire
// format's 16-bit length prefix. A policy or report that would not fit in
// one frame must be split by its caller into multiple FILE/DATA-style
// frames rather than growing this constant.
const MaxPayload = 0xFFFF

// Error codes carried in an ERROR frame's payload, as a 2-byte big-endian
// value followed by a human-readable message.
const (
	ErrCodeAuthFailed        uint16 = 401
	ErrCodeProtocolViolation uint16 = 505
)

// WriteFrame writes one frame: op (2 bytes BE), payload length (2 bytes
// BE), then payload.
func WriteFrame(w io.Writer, op Op, payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("pdu: payload too large for 16-bit length prefix: %d bytes", len(payload))
	}
	var header [4]byte
	binary.BigEndian.PutUint16(header[0:2], uint16(op))
	binary.BigEndian.PutUint16(header[2:4], uint16(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("pdu: write header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("pdu: write payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one frame from r.
func ReadFrame(r io.Reader) (Op, []byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, fmt.Errorf("pdu: read header: %w", err)
	}
	op := Op(binary.BigEndian.Uint16(header[0:2]))
	length := binary.BigEndian.Uint16(header[2:4])
	if int(length) > MaxPayload {
		return 0, nil, fmt.Errorf("pdu: payload length %d exceeds maximum %d", length, MaxPayload)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("pdu: read payload: %w", err)
		}
	}
	return op, payload, nil
}

// WriteError writes an ERROR frame carrying code and message.
func WriteError(w io.Writer, code uint16, message string) error {
	payload := make([]byte, 2+len(message))
	binary.BigEndian.PutUint16(payload[0:2], code)
	copy(payload[2:], message)
	return WriteFrame(w, OpError, payload)
}

// DecodeError decodes an ERROR frame's payload into its code and message.
func DecodeError(payload []byte) (code uint16, message string, err error) {
	if len(payload) < 2 {
		return 0, "", fmt.Errorf("pdu: malformed ERROR payload")
	}
	return binary.BigEndian.Uint16(payload[0:2]), string(payload[2:]), nil
}

// MaxDataChunk bounds a single DATA frame's payload, per the protocol's
// FILE/DATA streaming convention; a zero-length DATA frame terminates the
// stream rather than carrying a partial chunk.
const MaxDataChunk = 8192

// EncodeFacts serializes a fact set into a FACTS payload: the textual
// "key=value" line form pkg/facts already writes, with no further framing.
func EncodeFacts(set facts.Set) ([]byte, error) {
	var buf bytes.Buffer
	if err := facts.Write(&buf, set); err != nil {
		return nil, fmt.Errorf("pdu: encode facts: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeFacts parses a FACTS payload back into a fact set.
func DecodeFacts(payload []byte) (facts.Set, error) {
	set, err := facts.Read(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("pdu: decode facts: %w", err)
	}
	return set, nil
}

// EncodePolicy serializes a compiled policy into a POLICY payload: its
// packed line sequence (header, resources, dependencies) joined by
// newlines, matching the shape pkg/policy.Unpack expects back.
func EncodePolicy(p *policy.Policy) []byte {
	return []byte(strings.Join(p.Pack(), "\n"))
}

// DecodePolicy parses a POLICY payload back into a Policy.
func DecodePolicy(payload []byte) (*policy.Policy, error) {
	lines := strings.Split(string(payload), "\n")
	p, err := policy.Unpack(lines)
	if err != nil {
		return nil, fmt.Errorf("pdu: decode policy: %w", err)
	}
	return p, nil
}

// EncodeFile serializes a content checksum into a FILE payload: 40 ASCII
// lowercase hex characters, no trailing data.
func EncodeFile(sum checksum.Sum) []byte {
	return []byte(sum.String())
}

// DecodeFile parses a FILE payload back into a checksum. A malformed
// payload decodes to the zero checksum, matching checksum.FromHex's own
// tolerance for malformed input.
func DecodeFile(payload []byte) checksum.Sum {
	return checksum.FromHex(string(payload))
}

// EncodeReport serializes a job's report into a REPORT payload: its packed
// line sequence joined by newlines.
func EncodeReport(j *report.Job) []byte {
	return []byte(strings.Join(j.Lines(), "\n"))
}

// DecodeReport parses a REPORT payload back into a Job.
func DecodeReport(payload []byte) (*report.Job, error) {
	lines := strings.Split(string(payload), "\n")
	j, err := report.ParseLines(lines)
	if err != nil {
		return nil, fmt.Errorf("pdu: decode report: %w", err)
	}
	return j, nil
}
