// Package session drives the PDU state machine from both ends: the
// client sequence an agent runs against a master, and the reactive loop a
// master runs against each connecting agent. Both sides share the same
// frame-level bookkeeping in Session.
package session

import (
	"fmt"
	"io"

	"github.com/jameshunt/clockwork/pkg/pdu"
)

// Session wraps one PDU connection. Receive always allocates a fresh
// payload slice -- frames are capped at 64KB by the wire format's length
// prefix, so reuse would save little and risks a caller holding a slice
// across the next Receive.
type Session struct {
	IO io.ReadWriter

	LastOp      pdu.Op
	LastPayload []byte
	LastErr     error
}

// New wraps rw, typically a TLS connection, as a Session.
func New(rw io.ReadWriter) *Session {
	return &Session{IO: rw}
}

// Send writes one frame.
func (s *Session) Send(op pdu.Op, payload []byte) error {
	return pdu.WriteFrame(s.IO, op, payload)
}

// SendError writes an ERROR frame.
func (s *Session) SendError(code uint16, message string) error {
	return pdu.WriteError(s.IO, code, message)
}

// Receive reads the next frame, recording it as the session's last seen
// frame regardless of outcome.
func (s *Session) Receive() (pdu.Op, []byte, error) {
	op, payload, err := pdu.ReadFrame(s.IO)
	s.LastOp, s.LastPayload, s.LastErr = op, payload, err
	return op, payload, err
}

// expect reads the next frame and requires it to carry op want. An ERROR
// frame is unwrapped into a *RemoteError; any other unexpected op becomes
// an *ErrUnexpectedOp.
func (s *Session) expect(want pdu.Op) ([]byte, error) {
	op, payload, err := s.Receive()
	if err != nil {
		return nil, err
	}
	if op == pdu.OpError {
		code, msg, derr := pdu.DecodeError(payload)
		if derr != nil {
			return nil, fmt.Errorf("session: malformed ERROR frame: %w", derr)
		}
		return nil, &RemoteError{Code: code, Message: msg}
	}
	if op != want {
		return nil, &ErrUnexpectedOp{Want: want, Got: op}
	}
	return payload, nil
}

// ErrUnexpectedOp is returned when a session partner sends a frame whose
// op doesn't match what the state machine was waiting for.
type ErrUnexpectedOp struct {
	Want, Got pdu.Op
}

func (e *ErrUnexpectedOp) Error() string {
	return fmt.Sprintf("session: expected %s, got %s", e.Want, e.Got)
}

// RemoteError is an ERROR frame received from the other end of a session,
// surfaced as a Go error.
type RemoteError struct {
	Code    uint16
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("session: remote error %d: %s", e.Code, e.Message)
}
