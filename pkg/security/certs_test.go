package security

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func issueTestCert(t *testing.T, ca *CertAuthority, subject string) *x509.Certificate {
	t.Helper()
	cert, _ := issueTestCertAndKey(t, ca, subject)
	return cert
}

func issueTestCertAndKey(t *testing.T, ca *CertAuthority, subject string) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	hostKey, err := GenerateHostKey()
	if err != nil {
		t.Fatalf("GenerateHostKey() error = %v", err)
	}
	csrPEM, err := GenerateCSR(hostKey, subject, nil)
	if err != nil {
		t.Fatalf("GenerateCSR() error = %v", err)
	}
	certDER, err := ca.SignCSR(csrPEM, subject, nil)
	if err != nil {
		t.Fatalf("SignCSR() error = %v", err)
	}
	cert, err := DecodeCertPEM(EncodeCertPEM(certDER))
	if err != nil {
		t.Fatalf("DecodeCertPEM() error = %v", err)
	}
	return cert, hostKey
}

func TestSaveLoadCertToFile(t *testing.T) {
	ca := newTestCA(t)
	if err := ca.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	cert, hostKey := issueTestCertAndKey(t, ca, "test-host")

	tmpCertDir, err := os.MkdirTemp("", "clockwork-cert-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp cert dir: %v", err)
	}
	defer os.RemoveAll(tmpCertDir)

	tlsCert := &tls.Certificate{Certificate: [][]byte{cert.Raw}, PrivateKey: hostKey, Leaf: cert}
	if err := SaveCertToFile(tlsCert, tmpCertDir); err != nil {
		t.Fatalf("Failed to save certificate: %v", err)
	}

	certPath := filepath.Join(tmpCertDir, "host.crt")
	keyPath := filepath.Join(tmpCertDir, "host.key")
	if _, err := os.Stat(certPath); os.IsNotExist(err) {
		t.Error("Certificate file should exist")
	}
	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		t.Error("Key file should exist")
	}

	loadedCert, err := LoadCertFromFile(tmpCertDir)
	if err != nil {
		t.Fatalf("Failed to load certificate: %v", err)
	}
	if loadedCert.Leaf.Subject.CommonName != cert.Subject.CommonName {
		t.Errorf("Loaded cert CN mismatch: expected %s, got %s",
			cert.Subject.CommonName, loadedCert.Leaf.Subject.CommonName)
	}
}

func TestSaveLoadCACertToFile(t *testing.T) {
	ca := newTestCA(t)
	if err := ca.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	tmpCertDir, err := os.MkdirTemp("", "clockwork-cert-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp cert dir: %v", err)
	}
	defer os.RemoveAll(tmpCertDir)

	caCertDER := ca.RootCACert()
	if err := SaveCACertToFile(caCertDER, tmpCertDir); err != nil {
		t.Fatalf("Failed to save CA certificate: %v", err)
	}

	caPath := filepath.Join(tmpCertDir, "ca.crt")
	if _, err := os.Stat(caPath); os.IsNotExist(err) {
		t.Error("CA certificate file should exist")
	}

	loadedCACert, err := LoadCACertFromFile(tmpCertDir)
	if err != nil {
		t.Fatalf("Failed to load CA certificate: %v", err)
	}
	if !loadedCACert.Equal(ca.rootCert) {
		t.Error("Loaded CA cert should match original")
	}
}

func TestCertExists(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "clockwork-cert-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	if CertExists(tmpDir) {
		t.Error("Certificate should not exist initially")
	}

	certPath := filepath.Join(tmpDir, "host.crt")
	keyPath := filepath.Join(tmpDir, "host.key")
	caPath := filepath.Join(tmpDir, "ca.crt")

	_ = os.WriteFile(certPath, []byte("cert"), 0600)
	_ = os.WriteFile(keyPath, []byte("key"), 0600)
	_ = os.WriteFile(caPath, []byte("ca"), 0600)

	if !CertExists(tmpDir) {
		t.Error("Certificate should exist after creating files")
	}

	os.Remove(keyPath)
	if CertExists(tmpDir) {
		t.Error("Certificate should not exist with missing key file")
	}
}

func TestCertNeedsRotation(t *testing.T) {
	tests := []struct {
		name     string
		notAfter time.Time
		needsRot bool
	}{
		{"expiring in 1 day", time.Now().Add(24 * time.Hour), true},
		{"expiring in 29 days", time.Now().Add(29 * 24 * time.Hour), true},
		{"expiring in 31 days", time.Now().Add(31 * 24 * time.Hour), false},
		{"expiring in 60 days", time.Now().Add(60 * 24 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cert := &x509.Certificate{NotAfter: tt.notAfter}
			if needsRot := CertNeedsRotation(cert); needsRot != tt.needsRot {
				t.Errorf("Expected needsRotation=%v, got %v", tt.needsRot, needsRot)
			}
		})
	}

	if !CertNeedsRotation(nil) {
		t.Error("Nil certificate should need rotation")
	}
}

func TestGetCertExpiry(t *testing.T) {
	expectedExpiry := time.Now().Add(90 * 24 * time.Hour)
	cert := &x509.Certificate{NotAfter: expectedExpiry}

	if expiry := GetCertExpiry(cert); !expiry.Equal(expectedExpiry) {
		t.Errorf("Expected expiry %v, got %v", expectedExpiry, expiry)
	}
	if nilExpiry := GetCertExpiry(nil); !nilExpiry.IsZero() {
		t.Error("Nil certificate should return zero time")
	}
}

func TestGetCertTimeRemaining(t *testing.T) {
	expectedRemaining := 45 * 24 * time.Hour
	cert := &x509.Certificate{NotAfter: time.Now().Add(expectedRemaining)}

	remaining := GetCertTimeRemaining(cert)
	diff := remaining - expectedRemaining
	if diff < -time.Second || diff > time.Second {
		t.Errorf("Expected remaining ~%v, got %v (diff: %v)", expectedRemaining, remaining, diff)
	}
	if nilRemaining := GetCertTimeRemaining(nil); nilRemaining != 0 {
		t.Error("Nil certificate should return zero duration")
	}
}

func TestValidateCertChain(t *testing.T) {
	ca := newTestCA(t)
	if err := ca.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	cert := issueTestCert(t, ca, "test-host")

	if err := ValidateCertChain(cert, ca.rootCert); err != nil {
		t.Errorf("Certificate chain validation failed: %v", err)
	}
	if err := ValidateCertChain(nil, ca.rootCert); err == nil {
		t.Error("Validation should fail with nil certificate")
	}
	if err := ValidateCertChain(cert, nil); err == nil {
		t.Error("Validation should fail with nil CA")
	}
}

func TestGetCertInfo(t *testing.T) {
	ca := newTestCA(t)
	if err := ca.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	cert := issueTestCert(t, ca, "test-host")

	info := GetCertInfo(cert)
	if info["subject"] != "test-host" {
		t.Errorf("Expected subject 'test-host', got %v", info["subject"])
	}
	if info["issuer"] != masterSubject {
		t.Errorf("Expected issuer %q, got %v", masterSubject, info["issuer"])
	}
	if info["is_ca"] != false {
		t.Error("Host certificate should not be a CA")
	}

	nilInfo := GetCertInfo(nil)
	if _, hasError := nilInfo["error"]; !hasError {
		t.Error("Info for nil certificate should contain error")
	}
}

func TestGetCertDir(t *testing.T) {
	tests := []struct {
		role   string
		hostID string
	}{
		{"master", "host1"},
		{"agent", "host2"},
	}

	for _, tt := range tests {
		t.Run(tt.role+"-"+tt.hostID, func(t *testing.T) {
			certDir, err := GetCertDir(tt.role, tt.hostID)
			if err != nil {
				t.Fatalf("Failed to get cert dir: %v", err)
			}
			expected := tt.role + "-" + tt.hostID
			if filepath.Base(certDir) != expected {
				t.Errorf("Expected cert dir to end with %s, got %s", expected, certDir)
			}
		})
	}
}

func TestGetCLICertDir(t *testing.T) {
	certDir, err := GetCLICertDir()
	if err != nil {
		t.Fatalf("Failed to get CLI cert dir: %v", err)
	}
	if filepath.Base(certDir) != "cli" {
		t.Errorf("Expected cert dir to end with 'cli', got %s", filepath.Base(certDir))
	}
}

func TestRemoveCerts(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "clockwork-cert-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	_ = os.WriteFile(filepath.Join(tmpDir, "host.crt"), []byte("cert"), 0600)
	_ = os.WriteFile(filepath.Join(tmpDir, "host.key"), []byte("key"), 0600)

	if err := RemoveCerts(tmpDir); err != nil {
		t.Fatalf("Failed to remove certificates: %v", err)
	}
	if _, err := os.Stat(tmpDir); !os.IsNotExist(err) {
		t.Error("Certificate directory should not exist after removal")
	}
}
