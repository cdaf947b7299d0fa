package master

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"testing"

	"github.com/jameshunt/clockwork/pkg/facts"
	"github.com/jameshunt/clockwork/pkg/manifest"
	"github.com/jameshunt/clockwork/pkg/resource"
	"github.com/jameshunt/clockwork/pkg/security"
	"github.com/jameshunt/clockwork/pkg/session"
	"github.com/stretchr/testify/require"
)

// memFiles and memServices are minimal fakes for resource.Env, local to
// this package's tests; pkg/session's own tests keep an identical pair
// for the same reason.
type memFiles struct{ content map[string][]byte }

func newMemFiles() *memFiles { return &memFiles{content: map[string][]byte{}} }

func (f *memFiles) ReadFile(path string) ([]byte, error) {
	c, ok := f.content[path]
	if !ok {
		return nil, fmt.Errorf("not found: %s", path)
	}
	return c, nil
}
func (f *memFiles) WriteFile(path string, content []byte, mode uint32) error {
	f.content[path] = append([]byte(nil), content...)
	return nil
}
func (f *memFiles) Chmod(path string, mode uint32) error  { return nil }
func (f *memFiles) Chown(path string, uid, gid int) error { return nil }
func (f *memFiles) Remove(path string) error              { delete(f.content, path); return nil }
func (f *memFiles) Mkdir(path string, mode uint32) error  { return nil }
func (f *memFiles) Stat(path string) (bool, uint32, int, int, error) {
	_, ok := f.content[path]
	return ok, 0644, 0, 0, nil
}

type memServices struct{ running map[string]bool }

func (s *memServices) Status(ctx context.Context, name string) (bool, error) {
	return s.running[name], nil
}
func (s *memServices) Action(ctx context.Context, name string, action resource.ServiceAction) error {
	switch action {
	case resource.ServiceStart, resource.ServiceRestart:
		s.running[name] = true
	case resource.ServiceStop:
		s.running[name] = false
	}
	return nil
}

func newTestMaster(t *testing.T) *Master {
	t.Helper()

	dataDir, err := os.MkdirTemp("", "clockwork-master-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dataDir) })

	m := manifest.New()
	m.AddPolicy("web", &manifest.Node{Children: []*manifest.Node{
		{
			Op: manifest.OpResourceDecl, Kind: resource.KindFile, ID: "/etc/nginx.conf",
			Children: []*manifest.Node{
				{Op: manifest.OpAttr, Name: "present", Value: "1"},
			},
		},
		{
			Op: manifest.OpResourceDecl, Kind: resource.KindService, ID: "nginx",
			Children: []*manifest.Node{
				{Op: manifest.OpAttr, Name: "running", Value: "1"},
				{Op: manifest.OpDependency, Value: "file:/etc/nginx.conf"},
			},
		},
	}})

	master, err := New(Config{
		ListenAddr:          "127.0.0.1:0",
		DataDir:             dataDir,
		MasterKeyPassphrase: "test passphrase",
		Manifest:            m,
		DefaultPolicy:       "web",
	})
	require.NoError(t, err)
	t.Cleanup(func() { master.Close() })
	return master
}

// dialHost issues host a certificate directly (as an operator would out
// of band) and dials the master over mutual TLS with it.
func dialHost(t *testing.T, m *Master, addr, host string) *tls.Conn {
	t.Helper()

	key, err := security.GenerateHostKey()
	require.NoError(t, err)
	csrPEM, err := security.GenerateCSR(key, host, []string{host})
	require.NoError(t, err)
	certDER, err := m.IssueCertificate(host, csrPEM)
	require.NoError(t, err)

	roots := x509.NewCertPool()
	root, err := x509.ParseCertificate(m.RootCACert())
	require.NoError(t, err)
	roots.AddCert(root)

	clientCfg := &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{certDER}, PrivateKey: key}},
		RootCAs:      roots,
		ServerName:   "clockwork-master",
	}

	conn, err := tls.Dial("tcp", addr, clientCfg)
	require.NoError(t, err)
	return conn
}

func TestMasterServesFullSession(t *testing.T) {
	m := newTestMaster(t)

	ln, err := m.Listen()
	require.NoError(t, err)
	go m.Serve(ln)

	conn := dialHost(t, m, ln.Addr().String(), "web01")
	defer conn.Close()

	env := &resource.Env{
		Services: &memServices{running: map[string]bool{}},
		Files:    newMemFiles(),
	}

	sess := session.New(conn)
	job, err := session.RunClient(sess, session.ClientConfig{
		Facts: facts.Set{"os": "linux"},
		Env:   env,
	})
	require.NoError(t, err)
	require.Len(t, job.Reports, 2)
	require.Equal(t, "file", job.Reports[0].Kind)
	require.Equal(t, "service", job.Reports[1].Kind)

	n, err := m.reports.CountHosts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestMasterRejectsUntrustedClient(t *testing.T) {
	m := newTestMaster(t)

	ln, err := m.Listen()
	require.NoError(t, err)
	go m.Serve(ln)

	// A second, unrelated authority signs this client's certificate, so
	// it never chains to the master's root.
	otherDir, err := os.MkdirTemp("", "clockwork-master-other-ca-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(otherDir) })

	otherCA, err := security.OpenCertAuthority(otherDir)
	require.NoError(t, err)
	defer otherCA.Close()
	require.NoError(t, otherCA.Initialize())

	key, err := security.GenerateHostKey()
	require.NoError(t, err)
	csrPEM, err := security.GenerateCSR(key, "intruder", []string{"intruder"})
	require.NoError(t, err)
	certDER, err := otherCA.SignCSR(csrPEM, "intruder", []string{"intruder"})
	require.NoError(t, err)

	roots := x509.NewCertPool()
	root, err := x509.ParseCertificate(m.RootCACert())
	require.NoError(t, err)
	roots.AddCert(root)

	clientCfg := &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{certDER}, PrivateKey: key}},
		RootCAs:      roots,
		ServerName:   "clockwork-master",
	}
	_, err = tls.Dial("tcp", ln.Addr().String(), clientCfg)
	require.Error(t, err)
}
