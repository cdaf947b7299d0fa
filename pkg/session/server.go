package session

import (
	"fmt"

	"github.com/jameshunt/clockwork/pkg/checksum"
	"github.com/jameshunt/clockwork/pkg/facts"
	"github.com/jameshunt/clockwork/pkg/pdu"
	"github.com/jameshunt/clockwork/pkg/policy"
	"github.com/jameshunt/clockwork/pkg/report"
	"github.com/jameshunt/clockwork/pkg/security"
)

// FileStore resolves the content behind a checksum for the FILE/DATA
// round trip. The master's content-addressed cache implements this; it is
// populated once per distinct checksum and never invalidated, matching
// the protocol's immutable-cache contract.
type FileStore interface {
	Get(sum checksum.Sum) ([]byte, bool, error)
}

// ServerConfig carries what RunServer needs from the master side of a
// session: how to compile a policy for the connecting host, where to
// resolve file content from, and the certificate/report hooks.
type ServerConfig struct {
	// Host names the connecting agent, already established (typically
	// from its TLS client certificate's CommonName) before RunServer is
	// called.
	Host string
	// Authenticated reports whether the connection presented valid
	// credentials. When false, RunServer replies ERROR(401) to the
	// client's HELLO and ends the session -- a host may still be
	// unauthenticated on its very first contact, pending GET_CERT.
	Authenticated bool

	PolicyFor func(host string, set facts.Set) (*policy.Policy, error)
	Files     FileStore
	// SignCSR signs a submitted CSR and returns the certificate in DER
	// form. A nil SignCSR or a signing error both result in an empty
	// SEND_CERT payload rather than aborting the session.
	SignCSR func(csrPEM []byte) ([]byte, error)
	// OnReport is invoked once a REPORT frame has been decoded, before
	// BYE is sent back.
	OnReport func(host string, job *report.Job) error
}

// RunServer drives one master-side session reactively: it answers
// whatever the client sends next, until BYE or a protocol violation ends
// the exchange. Any op outside the expected set at a given point elicits
// ERROR(505) and the session is torn down.
func RunServer(sess *Session, cfg ServerConfig) error {
	op, _, err := sess.Receive()
	if err != nil {
		return fmt.Errorf("session: %s: HELLO: %w", cfg.Host, err)
	}
	if op != pdu.OpHello {
		sess.SendError(pdu.ErrCodeProtocolViolation, fmt.Sprintf("expected HELLO, got %s", op))
		return fmt.Errorf("session: %s: expected HELLO, got %s", cfg.Host, op)
	}
	if !cfg.Authenticated {
		if err := sess.SendError(pdu.ErrCodeAuthFailed, "certificate required"); err != nil {
			return fmt.Errorf("session: send ERROR(401): %w", err)
		}
		return fmt.Errorf("session: %s: unauthenticated", cfg.Host)
	}
	if err := sess.Send(pdu.OpHello, nil); err != nil {
		return fmt.Errorf("session: reply HELLO: %w", err)
	}

	for {
		op, payload, err := sess.Receive()
		if err != nil {
			return fmt.Errorf("session: %s: %w", cfg.Host, err)
		}

		switch op {
		case pdu.OpGetCert:
			if err := handleGetCert(sess, cfg, payload); err != nil {
				return fmt.Errorf("session: %s: GET_CERT: %w", cfg.Host, err)
			}
		case pdu.OpFacts:
			if err := handleFacts(sess, cfg, payload); err != nil {
				sess.SendError(pdu.ErrCodeProtocolViolation, err.Error())
				return fmt.Errorf("session: %s: FACTS: %w", cfg.Host, err)
			}
		case pdu.OpFile:
			if err := handleFile(sess, cfg, payload); err != nil {
				return fmt.Errorf("session: %s: FILE: %w", cfg.Host, err)
			}
		case pdu.OpReport:
			if err := handleReport(sess, cfg, payload); err != nil {
				sess.SendError(pdu.ErrCodeProtocolViolation, err.Error())
				return fmt.Errorf("session: %s: REPORT: %w", cfg.Host, err)
			}
		case pdu.OpBye:
			return nil
		default:
			sess.SendError(pdu.ErrCodeProtocolViolation, fmt.Sprintf("unexpected op %s", op))
			return fmt.Errorf("session: %s: unexpected op %s", cfg.Host, op)
		}
	}
}

func handleGetCert(sess *Session, cfg ServerConfig, csrPEM []byte) error {
	if cfg.SignCSR == nil {
		return sess.Send(pdu.OpSendCert, nil)
	}
	certDER, err := cfg.SignCSR(csrPEM)
	if err != nil {
		return sess.Send(pdu.OpSendCert, nil)
	}
	return sess.Send(pdu.OpSendCert, security.EncodeCertPEM(certDER))
}

func handleFacts(sess *Session, cfg ServerConfig, payload []byte) error {
	set, err := pdu.DecodeFacts(payload)
	if err != nil {
		return fmt.Errorf("decode facts: %w", err)
	}
	pol, err := cfg.PolicyFor(cfg.Host, set)
	if err != nil {
		return fmt.Errorf("compile policy: %w", err)
	}
	return sess.Send(pdu.OpPolicy, pdu.EncodePolicy(pol))
}

func handleFile(sess *Session, cfg ServerConfig, payload []byte) error {
	sum := pdu.DecodeFile(payload)
	data, ok, err := cfg.Files.Get(sum)
	if err != nil || !ok {
		return sess.Send(pdu.OpData, nil)
	}
	for len(data) > 0 {
		n := len(data)
		if n > pdu.MaxDataChunk {
			n = pdu.MaxDataChunk
		}
		if err := sess.Send(pdu.OpData, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return sess.Send(pdu.OpData, nil)
}

func handleReport(sess *Session, cfg ServerConfig, payload []byte) error {
	job, err := pdu.DecodeReport(payload)
	if err != nil {
		return fmt.Errorf("decode report: %w", err)
	}
	if cfg.OnReport != nil {
		if err := cfg.OnReport(cfg.Host, job); err != nil {
			return fmt.Errorf("store report: %w", err)
		}
	}
	return sess.Send(pdu.OpBye, nil)
}
