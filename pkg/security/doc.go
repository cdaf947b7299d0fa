/*
Package security provides the cryptographic services a policy session
needs: a master key used to encrypt material at rest, a certificate
authority that signs host-submitted CSRs, and certificate lifecycle
helpers shared by both ends of a session.

# Master Key

All at-rest encryption is rooted in a 32-byte master key, derived from an
operator passphrase with PBKDF2-HMAC-SHA256:

	masterKey = PBKDF2(passphrase, salt, 200_000 iterations, SHA-256)  // 32 bytes

The salt is generated once and stored alongside the authority's ledger;
the derived key itself is kept only in memory and must be supplied again
whenever the master process restarts.

SetMasterKey installs the derived key for the process. Encrypt and
Decrypt then wrap AES-256-GCM around that key:

	plaintext → AES-256-GCM(masterKey, nonce) → nonce || ciphertext || tag

# Certificate Authority

CertAuthority signs the host certificates used to mutually authenticate
a policy session:

	Root CA (self-signed)
	├── 10-year validity
	├── RSA 4096-bit key
	├── KeyUsage: CertSign, CRLSign
	└── Subject: CN=Clockwork Policy Master, O=Clockwork

The root is generated once with Initialize, persisted with Save (private
key encrypted via Encrypt/Decrypt), and reloaded on restart with Load.
Save/Load use a small bbolt ledger the authority owns directly; nothing
outside pkg/security touches that file.

A host never hands its private key to the authority. It generates its
own keypair with GenerateHostKey, builds a CSR with GenerateCSR, and
sends the PEM-encoded request as a GET_CERT payload. The authority signs
it with SignCSR and returns the resulting certificate as a SEND_CERT
payload:

	Host Certificate
	├── 90-day validity
	├── RSA 2048-bit key (host-generated, never seen by the authority)
	├── KeyUsage: DigitalSignature, KeyEncipherment
	├── ExtKeyUsage: ServerAuth, ClientAuth
	└── Subject: CN={host}, O=Clockwork

VerifyCertificate checks an incoming session's client certificate against
the loaded root, as the master does for every connecting host.

# Certificate Files and Rotation

Certs and keys round-trip through PEM via SaveCertToFile, LoadCertFromFile,
SaveCACertToFile, and LoadCACertFromFile, under a cert directory named by
GetCertDir(role, hostID) or GetCLICertDir(). CertNeedsRotation flags a
certificate with under 30 days remaining; an agent checks this before
opening a new session and, if due, performs GET_CERT again rather than
reusing the existing certificate.

# File Content Cache

FileCache is a second, independent bbolt ledger (clockwork-filecache.db)
holding file resource bodies keyed by their SHA-1 checksum hex. Put stores
a body under its own checksum; a FILE request during a session is answered
with a plain Get. pkg/master opens the cache and answers FILE requests from
it, but does not Put anything into it. Entries are immutable: the same
checksum always maps to the same bytes, so the cache never needs
invalidation, only growth.

# See Also

  - pkg/session - drives the GET_CERT/SEND_CERT exchange over a policy
    session
  - pkg/master - loads the authority and verifies incoming host certs
*/
package security
