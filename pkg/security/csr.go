package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
)

// hostKeySize is the RSA key size a host generates for its own session
// identity. Shorter-lived than the root, so a smaller key is adequate.
const hostKeySize = 2048

// GenerateHostKey creates the private key a host uses for its own
// certificate. The key never leaves the host: only its public half,
// carried inside the CSR built by GenerateCSR, reaches the authority.
func GenerateHostKey() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, hostKeySize)
	if err != nil {
		return nil, fmt.Errorf("security: generate host key: %w", err)
	}
	return key, nil
}

// GenerateCSR builds a PEM-encoded certificate signing request for
// subject (typically the host's name), to be sent as a GET_CERT payload.
func GenerateCSR(key *rsa.PrivateKey, subject string, dnsNames []string) ([]byte, error) {
	template := &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: subject},
		DNSNames: dnsNames,
	}

	csrDER, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return nil, fmt.Errorf("security: create CSR: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csrDER}), nil
}

// ParseCSR decodes a PEM-encoded CSR as received in a GET_CERT frame.
func ParseCSR(csrPEM []byte) (*x509.CertificateRequest, error) {
	block, _ := pem.Decode(csrPEM)
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return nil, fmt.Errorf("security: malformed CSR PEM")
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("security: parse CSR: %w", err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("security: CSR signature invalid: %w", err)
	}
	return csr, nil
}

// EncodeCertPEM wraps a signed certificate's DER bytes as a SEND_CERT
// payload.
func EncodeCertPEM(certDER []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
}

// DecodeCertPEM parses a SEND_CERT payload back into a certificate.
func DecodeCertPEM(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("security: malformed certificate PEM")
	}
	return x509.ParseCertificate(block.Bytes)
}
