package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"math/big"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// masterSubject is the CSR subject the master signs its own root
// certificate under. spec.md's own session handshake examples hard-code
// this string; we keep it fixed rather than derive it from a cluster name
// so any session trace matches the wire examples verbatim.
const masterSubject = "Clockwork Policy Master"

var bucketCA = []byte("ca")

// CertAuthority issues and verifies the host certificates that
// authenticate a policy session. Hosts generate their own keypair and
// submit a CSR (GET_CERT); the authority only ever signs, it never
// generates or holds a host's private key.
type CertAuthority struct {
	db *bolt.DB

	mu       sync.RWMutex
	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey
}

// issuedRecord is what the authority persists per signed certificate, for
// revocation checks and audit, keyed by serial number hex.
type issuedRecord struct {
	Subject   string    `json:"subject"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// caRecord is the serialized root CA persisted in the ledger.
type caRecord struct {
	RootCertDER []byte `json:"root_cert_der"`
	RootKeyDER  []byte `json:"root_key_der"`
}

const caRecordKey = "root"

const (
	rootCAValidity   = 10 * 365 * 24 * time.Hour
	hostCertValidity = 90 * 24 * time.Hour
	rootKeySize      = 4096
)

// OpenCertAuthority opens (creating if necessary) the authority's ledger
// at dataDir/clockwork-ca.db.
func OpenCertAuthority(dataDir string) (*CertAuthority, error) {
	dbPath := filepath.Join(dataDir, "clockwork-ca.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("security: open CA ledger: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCA)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("security: init CA ledger: %w", err)
	}
	return &CertAuthority{db: db}, nil
}

// Close closes the ledger.
func (ca *CertAuthority) Close() error {
	return ca.db.Close()
}

// Initialize generates a fresh root key and self-signed root certificate,
// replacing whatever root was previously loaded. Callers must persist the
// result with Save before the authority can be reopened later.
func (ca *CertAuthority) Initialize() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	rootKey, err := rsa.GenerateKey(rand.Reader, rootKeySize)
	if err != nil {
		return fmt.Errorf("security: generate root key: %w", err)
	}

	serial, err := newSerial()
	if err != nil {
		return err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Clockwork"},
			CommonName:   masterSubject,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(rootCAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            1,
		MaxPathLenZero:        false,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &rootKey.PublicKey, rootKey)
	if err != nil {
		return fmt.Errorf("security: create root certificate: %w", err)
	}
	rootCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("security: parse root certificate: %w", err)
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

// Load reads the root CA from the ledger, decrypting the private key with
// the master key installed via SetMasterKey.
func (ca *CertAuthority) Load() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	var raw []byte
	err := ca.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCA).Get([]byte(caRecordKey))
		if v == nil {
			return fmt.Errorf("security: CA ledger has no root entry")
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return err
	}

	var rec caRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("security: unmarshal CA record: %w", err)
	}

	keyDER, err := Decrypt(rec.RootKeyDER)
	if err != nil {
		return fmt.Errorf("security: decrypt root key: %w", err)
	}
	rootKey, err := x509.ParsePKCS1PrivateKey(keyDER)
	if err != nil {
		return fmt.Errorf("security: parse root key: %w", err)
	}
	rootCert, err := x509.ParseCertificate(rec.RootCertDER)
	if err != nil {
		return fmt.Errorf("security: parse root certificate: %w", err)
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

// Save persists the current root CA to the ledger, encrypting the private
// key with the master key installed via SetMasterKey.
func (ca *CertAuthority) Save() error {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return fmt.Errorf("security: CA not initialized")
	}

	keyDER := x509.MarshalPKCS1PrivateKey(ca.rootKey)
	encKey, err := Encrypt(keyDER)
	if err != nil {
		return fmt.Errorf("security: encrypt root key: %w", err)
	}

	raw, err := json.Marshal(caRecord{RootCertDER: ca.rootCert.Raw, RootKeyDER: encKey})
	if err != nil {
		return fmt.Errorf("security: marshal CA record: %w", err)
	}

	return ca.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCA).Put([]byte(caRecordKey), raw)
	})
}

// SignCSR signs a PEM-encoded certificate signing request submitted by a
// host in a GET_CERT frame, returning the signed certificate in DER form.
// The host's own keypair never passes through the authority; only its
// public key, carried inside the CSR, is bound into the issued
// certificate.
func (ca *CertAuthority) SignCSR(csrPEM []byte, subject string, dnsNames []string) ([]byte, error) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return nil, fmt.Errorf("security: CA not initialized")
	}

	csr, err := ParseCSR(csrPEM)
	if err != nil {
		return nil, err
	}

	serial, err := newSerial()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Clockwork"},
			CommonName:   subject,
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(hostCertValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		DNSNames:    dnsNames,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.rootCert, csr.PublicKey, ca.rootKey)
	if err != nil {
		return nil, fmt.Errorf("security: sign certificate: %w", err)
	}

	if err := ca.recordIssuance(serial, subject, template.NotBefore, template.NotAfter); err != nil {
		return nil, err
	}

	return certDER, nil
}

func (ca *CertAuthority) recordIssuance(serial *big.Int, subject string, issuedAt, expiresAt time.Time) error {
	rec := issuedRecord{Subject: subject, IssuedAt: issuedAt, ExpiresAt: expiresAt}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("security: marshal issuance record: %w", err)
	}
	return ca.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCA).Put([]byte("issued:"+serial.Text(16)), raw)
	})
}

// VerifyCertificate checks cert against the root CA, as a server verifying
// an incoming session's client certificate.
func (ca *CertAuthority) VerifyCertificate(cert *x509.Certificate) error {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil {
		return fmt.Errorf("security: CA not initialized")
	}

	roots := x509.NewCertPool()
	roots.AddCert(ca.rootCert)

	opts := x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("security: certificate verification failed: %w", err)
	}
	return nil
}

// RootCACert returns the root CA certificate in DER form.
func (ca *CertAuthority) RootCACert() []byte {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil {
		return nil
	}
	return ca.rootCert.Raw
}

// IsInitialized reports whether a root CA is loaded.
func (ca *CertAuthority) IsInitialized() bool {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.rootCert != nil && ca.rootKey != nil
}

func newSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("security: generate serial number: %w", err)
	}
	return serial, nil
}
