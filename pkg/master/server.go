package master

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jameshunt/clockwork/pkg/facts"
	"github.com/jameshunt/clockwork/pkg/log"
	"github.com/jameshunt/clockwork/pkg/metrics"
	"github.com/jameshunt/clockwork/pkg/policy"
	"github.com/jameshunt/clockwork/pkg/report"
	"github.com/jameshunt/clockwork/pkg/session"
)

// Listen opens the mutual-TLS listener on cfg.ListenAddr. Split from
// Serve so a caller (tests, or cwm reporting its bound port) can observe
// the listener before the accept loop starts running.
func (m *Master) Listen() (net.Listener, error) {
	roots := x509.NewCertPool()
	roots.AddCert(mustParseRoot(m.ca.RootCACert()))

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{m.serveCert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    roots,
		MinVersion:   tls.VersionTLS12,
	}

	ln, err := tls.Listen("tcp", m.cfg.ListenAddr, tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("master: listen on %s: %w", m.cfg.ListenAddr, err)
	}
	m.mu.Lock()
	m.listener = ln
	m.mu.Unlock()
	return ln, nil
}

// Serve accepts connections off ln until it is closed, handing each one
// to its own goroutine: one strictly synchronous protocol session per
// connection, as many connections concurrently as accept.
func (m *Master) Serve(ln net.Listener) error {
	logger := log.WithComponent("master")
	logger.Info().Str("addr", ln.Addr().String()).Msg("listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("master: accept: %w", err)
		}
		go m.serveConn(conn)
	}
}

// ListenAndServe opens the listener and serves it, blocking until the
// listener is closed or Accept otherwise fails.
func (m *Master) ListenAndServe() error {
	ln, err := m.Listen()
	if err != nil {
		return err
	}
	return m.Serve(ln)
}

// serveConn runs one session to completion over an already-TLS-wrapped
// connection, recording outcome and duration, and always closing conn
// when done.
func (m *Master) serveConn(conn net.Conn) {
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		log.WithComponent("master").Error().Msg("accepted non-TLS connection")
		return
	}
	if err := tlsConn.Handshake(); err != nil {
		log.WithComponent("master").Error().Err(err).Msg("TLS handshake failed")
		return
	}

	state := tlsConn.ConnectionState()
	host := ""
	if len(state.PeerCertificates) > 0 {
		host = state.PeerCertificates[0].Subject.CommonName
	}
	sessionID := uuid.NewString()
	logger := log.WithHost(host)
	logger = logger.With().Str("session_id", sessionID).Logger()
	logger.Info().Msg("session started")

	sess := session.New(tlsConn)
	start := time.Now()

	err := session.RunServer(sess, session.ServerConfig{
		Host:          host,
		Authenticated: len(state.PeerCertificates) > 0,
		PolicyFor: func(host string, set facts.Set) (*policy.Policy, error) {
			return m.compilePolicy(host, set)
		},
		Files: m.files,
		SignCSR: func(csrPEM []byte) ([]byte, error) {
			return m.ca.SignCSR(csrPEM, host, []string{host})
		},
		OnReport: func(host string, job *report.Job) error {
			return m.storeReport(host, job)
		},
	})

	policyName := m.policyNameFor(host)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		logger.Error().Err(err).Msg("session ended with error")
	}
	metrics.SessionsTotal.WithLabelValues(outcome).Inc()
	metrics.SessionDuration.WithLabelValues(policyName).Observe(time.Since(start).Seconds())
}

func mustParseRoot(der []byte) *x509.Certificate {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		panic(fmt.Sprintf("master: parse root CA certificate: %v", err))
	}
	return cert
}
