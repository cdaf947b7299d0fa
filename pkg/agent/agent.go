package agent

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jameshunt/clockwork/pkg/facts"
	"github.com/jameshunt/clockwork/pkg/log"
	"github.com/jameshunt/clockwork/pkg/report"
	"github.com/jameshunt/clockwork/pkg/reportstore"
	"github.com/jameshunt/clockwork/pkg/resource"
	"github.com/jameshunt/clockwork/pkg/security"
	"github.com/jameshunt/clockwork/pkg/session"
)

// Config carries everything an Agent run needs.
type Config struct {
	MasterAddr string
	Host       string
	DataDir    string
	DryRun     bool

	// ExtraFacts are merged over the gathered fact set, letting a caller
	// (tests, or cwa's --facts flag) override or augment what Run
	// collects on its own.
	ExtraFacts facts.Set
}

// Agent is one configured run of the local policy client.
type Agent struct {
	cfg     Config
	certDir string
	reports *reportstore.SQLStore
}

// New opens the agent's local report store and resolves its certificate
// directory, but makes no network connection.
func New(cfg Config) (*Agent, error) {
	if cfg.Host == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("agent: determine hostname: %w", err)
		}
		cfg.Host = host
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("agent: create data dir: %w", err)
	}

	certDir, err := security.GetCertDir("agent", cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("agent: certificate directory: %w", err)
	}

	reports, err := reportstore.NewAgentStore(filepath.Join(cfg.DataDir, "clockwork-agent.db"))
	if err != nil {
		return nil, fmt.Errorf("agent: open local report store: %w", err)
	}

	return &Agent{cfg: cfg, certDir: certDir, reports: reports}, nil
}

// Close releases the agent's local storage handle.
func (a *Agent) Close() error {
	return a.reports.Close()
}

// Run gathers facts, connects to the master, runs one full policy
// session, and persists the resulting job to the local report store. It
// returns the job so a caller (cwa's CLI) can print a summary.
func (a *Agent) Run(ctx context.Context) (*report.Job, error) {
	logger := log.WithHost(a.cfg.Host)

	set := gatherFacts(a.cfg.Host)
	for k, v := range a.cfg.ExtraFacts {
		set[k] = v
	}

	cert, root, err := a.loadCertificate()
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, fmt.Errorf("agent: no local certificate found for %s; enroll this host with cwm first", a.cfg.Host)
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("agent: parse local certificate: %w", err)
	}

	var rotation *rotationMaterial
	if security.CertNeedsRotation(leaf) {
		logger.Info().Dur("remaining", security.GetCertTimeRemaining(leaf)).Msg("certificate due for rotation")
		rotation, err = prepareRotation(a.cfg.Host)
		if err != nil {
			return nil, err
		}
	}

	roots := x509.NewCertPool()
	roots.AddCert(root)

	conn, err := tls.Dial("tcp", a.cfg.MasterAddr, &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      roots,
		ServerName:   "clockwork-master",
	})
	if err != nil {
		return nil, fmt.Errorf("agent: connect to master at %s: %w", a.cfg.MasterAddr, err)
	}
	defer conn.Close()

	env := a.buildEnv()
	sess := session.New(conn)

	clientCfg := session.ClientConfig{
		Facts:  set,
		Env:    env,
		DryRun: a.cfg.DryRun,
	}
	if rotation != nil {
		clientCfg.CSR = rotation.csrPEM
		clientCfg.OnCert = func(certPEM []byte) error {
			return a.installCertificate(rotation, certPEM, root)
		}
	}

	job, err := session.RunClient(sess, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("agent: run session: %w", err)
	}

	if !a.cfg.DryRun {
		if err := a.reports.InsertJob(ctx, "", job); err != nil {
			logger.Error().Err(err).Msg("failed to persist local report")
		}
	}
	return job, nil
}

// loadCertificate reads the agent's current certificate and the root CA
// it was issued under from certDir. It returns a nil certificate (with
// no error) for a host that has not yet been enrolled.
func (a *Agent) loadCertificate() (*tls.Certificate, *x509.Certificate, error) {
	if !security.CertExists(a.certDir) {
		return nil, nil, nil
	}
	cert, err := security.LoadCertFromFile(a.certDir)
	if err != nil {
		return nil, nil, fmt.Errorf("agent: load local certificate: %w", err)
	}
	root, err := security.LoadCACertFromFile(a.certDir)
	if err != nil {
		return nil, nil, fmt.Errorf("agent: load local CA certificate: %w", err)
	}
	return cert, root, nil
}

// rotationMaterial is the key and CSR generated for a pending
// certificate rotation, held until the master's SEND_CERT response
// arrives.
type rotationMaterial struct {
	key    *rsa.PrivateKey
	csrPEM []byte
}

func prepareRotation(host string) (*rotationMaterial, error) {
	key, err := security.GenerateHostKey()
	if err != nil {
		return nil, fmt.Errorf("agent: generate rotation key: %w", err)
	}
	csrPEM, err := security.GenerateCSR(key, host, []string{host})
	if err != nil {
		return nil, fmt.Errorf("agent: generate rotation CSR: %w", err)
	}
	return &rotationMaterial{key: key, csrPEM: csrPEM}, nil
}

// installCertificate persists a newly issued certificate and its
// rotation key to certDir, replacing whatever certificate was there.
func (a *Agent) installCertificate(mat *rotationMaterial, certPEM []byte, root *x509.Certificate) error {
	leaf, err := security.DecodeCertPEM(certPEM)
	if err != nil {
		return fmt.Errorf("agent: decode issued certificate: %w", err)
	}
	cert := &tls.Certificate{
		Certificate: [][]byte{leaf.Raw, root.Raw},
		PrivateKey:  mat.key,
	}
	if err := security.SaveCertToFile(cert, a.certDir); err != nil {
		return fmt.Errorf("agent: save issued certificate: %w", err)
	}
	return nil
}

// buildEnv assembles the resource.Env an agent's fixup pass runs
// against: real implementations for FileIO/UserDB/SysctlIO/Exec, and
// in-memory debug stand-ins for ServiceManager/PackageManager/Augeas.
func (a *Agent) buildEnv() *resource.Env {
	return &resource.Env{
		Services: newDebugServices(),
		Packages: newDebugPackages(),
		Augeas:   newDebugAugeas(),
		Users:    newHostUsers(),
		Files:    newHostFiles(),
		Sysctl:   newHostSysctl(),
		Execer:   newHostExec(),
	}
}
