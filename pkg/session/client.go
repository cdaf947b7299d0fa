package session

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jameshunt/clockwork/pkg/checksum"
	"github.com/jameshunt/clockwork/pkg/facts"
	"github.com/jameshunt/clockwork/pkg/pdu"
	"github.com/jameshunt/clockwork/pkg/policy"
	"github.com/jameshunt/clockwork/pkg/report"
	"github.com/jameshunt/clockwork/pkg/resource"
)

// ClientConfig carries everything RunClient needs from the agent: the
// fact set to submit, the environment its resources stat and fix
// themselves against, and an optional certificate signing request to
// exchange before the policy run.
type ClientConfig struct {
	Facts  facts.Set
	Env    *resource.Env
	DryRun bool

	// CSR, when non-nil, is sent as a GET_CERT payload immediately after
	// the HELLO handshake. OnCert receives the SEND_CERT response; a
	// zero-length response means the master had nothing to issue (e.g.
	// the existing certificate is still valid) and OnCert is not called.
	CSR    []byte
	OnCert func(certPEM []byte) error
}

// RunClient drives one complete agent session over sess: HELLO, an
// optional certificate exchange, FACTS/POLICY, a fixup pass over the
// compiled policy (fetching file content over FILE/DATA as needed), and
// finally REPORT/BYE. It returns the job produced by the fixup pass.
func RunClient(sess *Session, cfg ClientConfig) (*report.Job, error) {
	if err := sess.Send(pdu.OpHello, nil); err != nil {
		return nil, fmt.Errorf("session: send HELLO: %w", err)
	}
	if _, err := sess.expect(pdu.OpHello); err != nil {
		return nil, fmt.Errorf("session: HELLO handshake: %w", err)
	}

	if cfg.CSR != nil {
		if err := sess.Send(pdu.OpGetCert, cfg.CSR); err != nil {
			return nil, fmt.Errorf("session: send GET_CERT: %w", err)
		}
		certPEM, err := sess.expect(pdu.OpSendCert)
		if err != nil {
			return nil, fmt.Errorf("session: GET_CERT exchange: %w", err)
		}
		if len(certPEM) > 0 && cfg.OnCert != nil {
			if err := cfg.OnCert(certPEM); err != nil {
				return nil, fmt.Errorf("session: install issued certificate: %w", err)
			}
		}
	}

	factsPayload, err := pdu.EncodeFacts(cfg.Facts)
	if err != nil {
		return nil, fmt.Errorf("session: encode facts: %w", err)
	}
	if err := sess.Send(pdu.OpFacts, factsPayload); err != nil {
		return nil, fmt.Errorf("session: send FACTS: %w", err)
	}
	policyPayload, err := sess.expect(pdu.OpPolicy)
	if err != nil {
		return nil, fmt.Errorf("session: FACTS exchange: %w", err)
	}
	pol, err := pdu.DecodePolicy(policyPayload)
	if err != nil {
		return nil, fmt.Errorf("session: decode policy: %w", err)
	}

	start := time.Now()
	reports, err := runFixups(sess, pol, cfg.Env, cfg.DryRun)
	if err != nil {
		return nil, err
	}
	job := report.NewJob(start, time.Now(), reports)

	if err := sess.Send(pdu.OpReport, pdu.EncodeReport(job)); err != nil {
		return nil, fmt.Errorf("session: send REPORT: %w", err)
	}
	if _, err := sess.expect(pdu.OpBye); err != nil {
		return nil, fmt.Errorf("session: REPORT exchange: %w", err)
	}
	if err := sess.Send(pdu.OpBye, nil); err != nil {
		return nil, fmt.Errorf("session: send BYE: %w", err)
	}
	return job, nil
}

// runFixups walks pol in its (already topologically sorted) order,
// fetching remote file content as needed, running each resource's Fixup,
// and fanning out change notifications to anything that depends on a
// resource that changed.
func runFixups(sess *Session, pol *policy.Policy, env *resource.Env, dryrun bool) ([]report.Report, error) {
	reports := make([]report.Report, 0, len(pol.Resources()))

	for _, r := range pol.Resources() {
		if err := r.Stat(env); err != nil {
			return nil, fmt.Errorf("session: stat %s: %w", r.Key(), err)
		}
		wasCompliant := r.Different() == 0

		if err := fetchPendingFileContent(sess, r); err != nil {
			return nil, err
		}

		result, err := r.Fixup(dryrun, env)
		if err != nil {
			return nil, fmt.Errorf("session: fixup %s: %w", r.Key(), err)
		}

		actions := make([]report.Action, 0, len(result.Actions))
		for _, a := range result.Actions {
			res := report.ActionSucceeded
			if !a.Ok {
				res = report.ActionFailed
			}
			actions = append(actions, report.Action{Summary: a.Summary, Result: res})
		}
		reports = append(reports, *report.NewReport(string(r.Kind), r.ID, wasCompliant, actions))

		if !wasCompliant {
			policy.Notify(pol, r.Key())
		}
	}
	return reports, nil
}

// fetchPendingFileContent retrieves content for a file resource whose
// content differs and whose bytes aren't already known locally (a
// Source read directly off the same filesystem already has them; only a
// cross-host fetch needs the FILE/DATA round trip).
func fetchPendingFileContent(sess *Session, r *resource.Resource) error {
	f, ok := r.Impl.(*resource.File)
	if !ok || r.Different()&resource.FileContent == 0 {
		return nil
	}
	if _, known := f.Content(); known {
		return nil
	}
	sum, known := f.Checksum()
	if !known {
		return nil
	}

	data, err := fetchFile(sess, sum)
	if err != nil {
		return fmt.Errorf("session: fetch content for %s: %w", r.Key(), err)
	}
	if err := f.SetContent(data); err != nil {
		return fmt.Errorf("session: %s: %w", r.Key(), err)
	}
	return nil
}

// fetchFile issues a FILE request for sum and assembles the DATA stream
// that follows, terminated by a zero-length frame.
func fetchFile(sess *Session, sum checksum.Sum) ([]byte, error) {
	if err := sess.Send(pdu.OpFile, pdu.EncodeFile(sum)); err != nil {
		return nil, fmt.Errorf("send FILE: %w", err)
	}
	var buf bytes.Buffer
	for {
		payload, err := sess.expect(pdu.OpData)
		if err != nil {
			return nil, fmt.Errorf("FILE exchange: %w", err)
		}
		if len(payload) == 0 {
			break
		}
		buf.Write(payload)
	}
	return buf.Bytes(), nil
}
