/*
Package master assembles a policy master out of the lower-level pieces
pkg/security, pkg/manifest, pkg/reportstore, and pkg/session each provide
on their own:

	Master
	├── security.CertAuthority  -- signs/rotates host certificates
	├── security.FileCache      -- answers FILE/DATA requests
	├── reportstore.SQLStore    -- records one job per session
	└── manifest.Manifest       -- compiles a policy per connecting host

New opens all four against a single data directory, deriving the process
master key from an operator passphrase and a salt persisted alongside the
authority's own ledger. ListenAndServe then runs a mutual-TLS accept loop,
handing each connection to its own goroutine: the protocol inside a
session is strictly request/response and single-threaded, but the master
itself services as many hosts concurrently as connect.

A host's very first certificate comes from IssueCertificate, called
directly -- no network round trip -- typically from an operator-facing
command. Every later GET_CERT inside a running session is a rotation of
a certificate the authority already issued.
*/
package master
