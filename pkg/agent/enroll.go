package agent

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/jameshunt/clockwork/pkg/security"
)

// GenerateEnrollmentCSR creates a fresh key pair for a host that has
// never held a certificate and returns its CSR, holding the private key
// in memory until InstallEnrollmentCertificate pairs it with whatever
// cwm signs. This is the Go side of the out-of-band bootstrap: the CSR
// travels to an operator running cwm by whatever channel the operator
// chooses, and the signed certificate travels back the same way.
func GenerateEnrollmentCSR(host string) (csrPEM []byte, key *rsa.PrivateKey, err error) {
	key, err = security.GenerateHostKey()
	if err != nil {
		return nil, nil, fmt.Errorf("agent: generate enrollment key: %w", err)
	}
	csrPEM, err = security.GenerateCSR(key, host, []string{host})
	if err != nil {
		return nil, nil, fmt.Errorf("agent: generate enrollment CSR: %w", err)
	}
	return csrPEM, key, nil
}

// InstallEnrollmentCertificate pairs key with the certificate cwm
// issued and writes both, plus the authority's root, to this host's
// certificate directory, completing enrollment.
func InstallEnrollmentCertificate(host string, key *rsa.PrivateKey, certDER, rootDER []byte) error {
	certDir, err := security.GetCertDir("agent", host)
	if err != nil {
		return fmt.Errorf("agent: certificate directory: %w", err)
	}

	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("agent: parse issued certificate: %w", err)
	}
	cert := &tls.Certificate{Certificate: [][]byte{leaf.Raw}, PrivateKey: key}
	if err := security.SaveCertToFile(cert, certDir); err != nil {
		return fmt.Errorf("agent: save issued certificate: %w", err)
	}
	if err := security.SaveCACertToFile(rootDER, certDir); err != nil {
		return fmt.Errorf("agent: save CA certificate: %w", err)
	}
	return nil
}
