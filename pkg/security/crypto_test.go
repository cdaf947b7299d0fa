package security

import (
	"bytes"
	"testing"
)

func TestDeriveMasterKeyIsDeterministic(t *testing.T) {
	salt := []byte("fixed-test-salt!")

	key1 := DeriveMasterKey("correct horse battery staple", salt)
	key2 := DeriveMasterKey("correct horse battery staple", salt)
	if len(key1) != 32 {
		t.Fatalf("DeriveMasterKey returned %d bytes, want 32", len(key1))
	}
	if !bytes.Equal(key1, key2) {
		t.Error("DeriveMasterKey should be deterministic for the same passphrase and salt")
	}

	key3 := DeriveMasterKey("a different passphrase", salt)
	if bytes.Equal(key1, key3) {
		t.Error("different passphrases should derive different keys")
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	key := DeriveMasterKey("test-passphrase", []byte("0123456789abcdef"))
	if err := SetMasterKey(key); err != nil {
		t.Fatalf("SetMasterKey() error = %v", err)
	}

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"simple string", []byte("hello world")},
		{"binary data", []byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0xFD}},
		{"large data", bytes.Repeat([]byte("test"), 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if bytes.Equal(ciphertext, tt.plaintext) {
				t.Error("ciphertext should not equal plaintext")
			}

			decrypted, err := Decrypt(ciphertext)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(decrypted, tt.plaintext) {
				t.Errorf("Decrypt() = %v, want %v", decrypted, tt.plaintext)
			}
		})
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	key1 := DeriveMasterKey("passphrase-one", []byte("saltsaltsaltsalt"))
	if err := SetMasterKey(key1); err != nil {
		t.Fatalf("SetMasterKey() error = %v", err)
	}

	ciphertext, err := Encrypt([]byte("secret data"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	key2 := DeriveMasterKey("passphrase-two", []byte("saltsaltsaltsalt"))
	if err := SetMasterKey(key2); err != nil {
		t.Fatalf("SetMasterKey() error = %v", err)
	}

	if _, err := Decrypt(ciphertext); err == nil {
		t.Error("Decrypt() should fail with the wrong key")
	}
}

func TestSetMasterKeyRejectsWrongLength(t *testing.T) {
	if err := SetMasterKey(make([]byte, 16)); err == nil {
		t.Error("SetMasterKey() should reject a non-32-byte key")
	}
}
