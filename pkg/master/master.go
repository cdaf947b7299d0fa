// Package master implements the policy master: it holds a compiled
// manifest, signs and rotates host certificates, answers the
// content-addressed file cache, records every job report, and accepts
// one session-serving goroutine per connecting host.
//
// Enrollment of a brand new host happens out of band, via IssueCertificate
// called directly from an operator-facing entry point (the cwm CLI). The
// GET_CERT exchange inside a running session is for rotation only: a host
// that already holds a certificate signed by this master's authority asks
// for a fresh one before its current one expires.
package master

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/jameshunt/clockwork/pkg/facts"
	"github.com/jameshunt/clockwork/pkg/log"
	"github.com/jameshunt/clockwork/pkg/manifest"
	"github.com/jameshunt/clockwork/pkg/metrics"
	"github.com/jameshunt/clockwork/pkg/policy"
	"github.com/jameshunt/clockwork/pkg/report"
	"github.com/jameshunt/clockwork/pkg/reportstore"
	"github.com/jameshunt/clockwork/pkg/security"
)

const masterSaltFile = "master.salt"

// Config holds everything needed to build a Master.
type Config struct {
	ListenAddr          string
	DataDir             string
	MasterKeyPassphrase string

	// Manifest is the policy syntax tree, compiled per connecting host by
	// compilePolicy; parsing policy source files into it happens upstream
	// of this package.
	Manifest *manifest.Manifest
	// HostPolicies maps a connecting host to the policy name it
	// compiles against. A host absent from the map compiles
	// DefaultPolicy instead.
	HostPolicies  map[string]string
	DefaultPolicy string
}

// Master is the long-lived server side of the policy protocol: one
// process, one certificate authority, one file cache, one report store,
// serving every host that holds a certificate this authority issued.
type Master struct {
	cfg       Config
	ca        *security.CertAuthority
	files     *security.FileCache
	reports   *reportstore.SQLStore
	collector *metrics.Collector
	serveCert tls.Certificate

	mu       sync.Mutex
	listener net.Listener
}

// New wires up a Master's storage and cryptographic state but does not
// start accepting connections; call ListenAndServe for that.
func New(cfg Config) (*Master, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("master: create data dir: %w", err)
	}
	if err := installMasterKey(cfg.DataDir, cfg.MasterKeyPassphrase); err != nil {
		return nil, err
	}

	ca, err := security.OpenCertAuthority(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("master: open certificate authority: %w", err)
	}
	if !ca.IsInitialized() {
		if err := ca.Load(); err != nil {
			if err := ca.Initialize(); err != nil {
				ca.Close()
				return nil, fmt.Errorf("master: initialize certificate authority: %w", err)
			}
			if err := ca.Save(); err != nil {
				ca.Close()
				return nil, fmt.Errorf("master: save certificate authority: %w", err)
			}
			log.WithComponent("master").Info().Msg("initialized new certificate authority")
		}
	}

	files, err := security.OpenFileCache(cfg.DataDir)
	if err != nil {
		ca.Close()
		return nil, fmt.Errorf("master: open file cache: %w", err)
	}

	reports, err := reportstore.NewMasterStore(filepath.Join(cfg.DataDir, "clockwork-reports.db"))
	if err != nil {
		ca.Close()
		files.Close()
		return nil, fmt.Errorf("master: open report store: %w", err)
	}

	serveCert, err := issueSelfCertificate(ca, cfg.DataDir)
	if err != nil {
		ca.Close()
		files.Close()
		reports.Close()
		return nil, err
	}
	metrics.RegisterComponent("security", true, "")
	metrics.RegisterComponent("reportstore", true, "")

	collector := metrics.NewCollector(reports)
	collector.Start()

	return &Master{
		cfg:       cfg,
		ca:        ca,
		files:     files,
		reports:   reports,
		collector: collector,
		serveCert: serveCert,
	}, nil
}

// installMasterKey derives the process-wide master key from passphrase
// and a salt persisted at dataDir/master.salt, generating the salt on
// first use.
func installMasterKey(dataDir, passphrase string) error {
	saltPath := filepath.Join(dataDir, masterSaltFile)

	salt, err := os.ReadFile(saltPath)
	if os.IsNotExist(err) {
		salt, err = security.NewSalt()
		if err != nil {
			return fmt.Errorf("master: generate master key salt: %w", err)
		}
		if err := os.WriteFile(saltPath, salt, 0600); err != nil {
			return fmt.Errorf("master: persist master key salt: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("master: read master key salt: %w", err)
	}

	return security.SetMasterKey(security.DeriveMasterKey(passphrase, salt))
}

// issueSelfCertificate loads the master's own serving certificate from
// its cert directory, issuing and persisting one the first time the
// master runs (or whenever the existing one is due for rotation).
func issueSelfCertificate(ca *security.CertAuthority, dataDir string) (tls.Certificate, error) {
	certDir, err := security.GetCertDir("master", "master")
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("master: cert directory: %w", err)
	}

	if security.CertExists(certDir) {
		cert, err := security.LoadCertFromFile(certDir)
		if err == nil {
			leaf, err := x509Leaf(cert)
			// VerifyCertificate also rules out a cert left over from a
			// different authority's data directory reusing this role+host
			// pair, which CertNeedsRotation alone wouldn't catch.
			if err == nil && !security.CertNeedsRotation(leaf) && ca.VerifyCertificate(leaf) == nil {
				return *cert, nil
			}
		}
	}

	key, err := security.GenerateHostKey()
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("master: generate serving key: %w", err)
	}
	csrPEM, err := security.GenerateCSR(key, "clockwork-master", []string{"clockwork-master", "localhost"})
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("master: generate serving CSR: %w", err)
	}
	certDER, err := ca.SignCSR(csrPEM, "clockwork-master", []string{"clockwork-master", "localhost"})
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("master: sign serving certificate: %w", err)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{certDER, ca.RootCACert()},
		PrivateKey:  key,
	}
	if err := security.SaveCertToFile(&cert, certDir); err != nil {
		return tls.Certificate{}, fmt.Errorf("master: save serving certificate: %w", err)
	}
	if err := security.SaveCACertToFile(ca.RootCACert(), certDir); err != nil {
		return tls.Certificate{}, fmt.Errorf("master: save CA certificate: %w", err)
	}
	return cert, nil
}

// Close releases the master's storage handles and stops its collector.
func (m *Master) Close() error {
	m.mu.Lock()
	if m.listener != nil {
		m.listener.Close()
	}
	m.mu.Unlock()

	m.collector.Stop()

	var errs []error
	if err := m.reports.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := m.files.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := m.ca.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("master: close: %v", errs)
	}
	return nil
}

// RootCACert returns the authority's self-signed root certificate in DER
// form, for a client to add to its trusted pool before dialing.
func (m *Master) RootCACert() []byte {
	return m.ca.RootCACert()
}

// IssueCertificate signs a fresh certificate for host directly, bypassing
// the session protocol entirely. This is how a brand new host first gets
// a certificate: an operator runs it from the cwm CLI and ships the
// result to the host out of band.
func (m *Master) IssueCertificate(host string, csrPEM []byte) ([]byte, error) {
	certDER, err := m.ca.SignCSR(csrPEM, host, []string{host})
	if err != nil {
		return nil, fmt.Errorf("master: issue certificate for %s: %w", host, err)
	}
	return certDER, nil
}

// policyNameFor resolves which manifest policy host compiles against.
func (m *Master) policyNameFor(host string) string {
	if name, ok := m.cfg.HostPolicies[host]; ok {
		return name
	}
	return m.cfg.DefaultPolicy
}

// compilePolicy compiles host's policy from the held manifest, recording
// compile latency and, on failure, the failure's kind.
func (m *Master) compilePolicy(host string, set facts.Set) (*policy.Policy, error) {
	timer := metrics.NewTimer()
	pol, err := m.cfg.Manifest.Compile(host, m.policyNameFor(host), set)
	timer.ObserveDuration(metrics.CompileDuration)
	if err != nil {
		metrics.CompileErrorsTotal.WithLabelValues(compileErrorKind(err)).Inc()
		return nil, err
	}
	return pol, nil
}

// compileErrorKind labels a manifest compile failure for the
// clockwork_compile_errors_total counter.
func compileErrorKind(err error) string {
	var cerr *manifest.CompileError
	if ok := asCompileError(err, &cerr); ok {
		switch cerr.Kind {
		case manifest.ErrUnknownResourceKind:
			return "unknown_resource_kind"
		case manifest.ErrUnknownAttribute:
			return "unknown_attribute"
		case manifest.ErrUnresolvedDependency:
			return "unresolved_dependency"
		case manifest.ErrCyclicDependency:
			return "cyclic_dependency"
		case manifest.ErrUnknownFact:
			return "unknown_fact"
		case manifest.ErrUnknownPolicy:
			return "unknown_policy"
		case manifest.ErrDuplicateResource:
			return "duplicate_resource"
		}
	}
	return "other"
}

func asCompileError(err error, target **manifest.CompileError) bool {
	for err != nil {
		if cerr, ok := err.(*manifest.CompileError); ok {
			*target = cerr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// storeReport persists job under host, timing the insert.
func (m *Master) storeReport(host string, job *report.Job) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReportStoreInsertDuration)
	return m.reports.InsertJob(context.Background(), host, job)
}

// x509Leaf parses the leaf certificate out of a tls.Certificate's DER
// chain.
func x509Leaf(cert *tls.Certificate) (*x509.Certificate, error) {
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("master: certificate has no leaf")
	}
	return x509.ParseCertificate(cert.Certificate[0])
}
