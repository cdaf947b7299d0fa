package security

import (
	"os"
	"testing"
	"time"
)

func setTestMasterKey(t *testing.T) {
	t.Helper()
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error = %v", err)
	}
	if err := SetMasterKey(DeriveMasterKey("test-passphrase", salt)); err != nil {
		t.Fatalf("SetMasterKey() error = %v", err)
	}
}

func newTestCA(t *testing.T) *CertAuthority {
	t.Helper()
	setTestMasterKey(t)

	tmpDir, err := os.MkdirTemp("", "clockwork-ca-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp() error = %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	ca, err := OpenCertAuthority(tmpDir)
	if err != nil {
		t.Fatalf("OpenCertAuthority() error = %v", err)
	}
	t.Cleanup(func() { ca.Close() })
	return ca
}

func TestInitializeCA(t *testing.T) {
	ca := newTestCA(t)

	if err := ca.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if !ca.IsInitialized() {
		t.Error("CA should be initialized")
	}
	if !ca.rootCert.IsCA {
		t.Error("root certificate should be a CA")
	}
	if ca.rootCert.Subject.CommonName != masterSubject {
		t.Errorf("root cert CN = %q, want %q", ca.rootCert.Subject.CommonName, masterSubject)
	}

	expectedExpiry := time.Now().Add(rootCAValidity)
	if ca.rootCert.NotAfter.Before(expectedExpiry.Add(-time.Hour)) {
		t.Errorf("root cert expiry too early: %v, expected around %v", ca.rootCert.NotAfter, expectedExpiry)
	}
}

func TestSaveLoadCA(t *testing.T) {
	setTestMasterKey(t)

	tmpDir, err := os.MkdirTemp("", "clockwork-ca-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp() error = %v", err)
	}
	defer os.RemoveAll(tmpDir)

	ca1, err := OpenCertAuthority(tmpDir)
	if err != nil {
		t.Fatalf("OpenCertAuthority() error = %v", err)
	}
	if err := ca1.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := ca1.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	ca1.Close()

	ca2, err := OpenCertAuthority(tmpDir)
	if err != nil {
		t.Fatalf("OpenCertAuthority() error = %v", err)
	}
	defer ca2.Close()
	if err := ca2.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !ca2.IsInitialized() {
		t.Error("loaded CA should be initialized")
	}
	if !ca2.rootCert.Equal(ca2.rootCert) {
		t.Error("loaded root cert should be self-consistent")
	}
}

func TestSignCSR(t *testing.T) {
	ca := newTestCA(t)
	if err := ca.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	hostKey, err := GenerateHostKey()
	if err != nil {
		t.Fatalf("GenerateHostKey() error = %v", err)
	}
	csrPEM, err := GenerateCSR(hostKey, "web01", []string{"web01.internal"})
	if err != nil {
		t.Fatalf("GenerateCSR() error = %v", err)
	}

	certDER, err := ca.SignCSR(csrPEM, "web01", []string{"web01.internal"})
	if err != nil {
		t.Fatalf("SignCSR() error = %v", err)
	}

	cert, err := DecodeCertPEM(EncodeCertPEM(certDER))
	if err != nil {
		t.Fatalf("DecodeCertPEM() error = %v", err)
	}
	if cert.Subject.CommonName != "web01" {
		t.Errorf("issued cert CN = %q, want %q", cert.Subject.CommonName, "web01")
	}

	if err := ca.VerifyCertificate(cert); err != nil {
		t.Errorf("VerifyCertificate() error = %v", err)
	}

	expectedExpiry := time.Now().Add(hostCertValidity)
	if cert.NotAfter.Before(expectedExpiry.Add(-time.Hour)) {
		t.Errorf("issued cert expiry too early: %v, expected around %v", cert.NotAfter, expectedExpiry)
	}
}

func TestSignCSRRejectsUninitializedCA(t *testing.T) {
	ca := newTestCA(t)

	hostKey, err := GenerateHostKey()
	if err != nil {
		t.Fatalf("GenerateHostKey() error = %v", err)
	}
	csrPEM, err := GenerateCSR(hostKey, "web01", nil)
	if err != nil {
		t.Fatalf("GenerateCSR() error = %v", err)
	}

	if _, err := ca.SignCSR(csrPEM, "web01", nil); err == nil {
		t.Error("SignCSR() should fail before Initialize()")
	}
}

func TestVerifyCertificateRejectsForeignCert(t *testing.T) {
	ca := newTestCA(t)
	if err := ca.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	other := newTestCA(t)
	if err := other.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	hostKey, err := GenerateHostKey()
	if err != nil {
		t.Fatalf("GenerateHostKey() error = %v", err)
	}
	csrPEM, err := GenerateCSR(hostKey, "web01", nil)
	if err != nil {
		t.Fatalf("GenerateCSR() error = %v", err)
	}
	certDER, err := other.SignCSR(csrPEM, "web01", nil)
	if err != nil {
		t.Fatalf("SignCSR() error = %v", err)
	}
	cert, err := DecodeCertPEM(EncodeCertPEM(certDER))
	if err != nil {
		t.Fatalf("DecodeCertPEM() error = %v", err)
	}

	if err := ca.VerifyCertificate(cert); err == nil {
		t.Error("VerifyCertificate() should reject a cert signed by a different root")
	}
}

func TestRootCACert(t *testing.T) {
	ca := newTestCA(t)
	if err := ca.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	rootCertDER := ca.RootCACert()
	if rootCertDER == nil {
		t.Fatal("RootCACert() should not be nil")
	}

	cert, err := DecodeCertPEM(EncodeCertPEM(rootCertDER))
	if err != nil {
		t.Fatalf("DecodeCertPEM() error = %v", err)
	}
	if !cert.Equal(ca.rootCert) {
		t.Error("returned root CA cert should match internal cert")
	}
}
