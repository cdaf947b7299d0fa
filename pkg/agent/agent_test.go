package agent_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jameshunt/clockwork/pkg/agent"
	"github.com/jameshunt/clockwork/pkg/manifest"
	"github.com/jameshunt/clockwork/pkg/master"
	"github.com/jameshunt/clockwork/pkg/resource"
	"github.com/stretchr/testify/require"
)

func TestAgentRunAgainstRealMaster(t *testing.T) {
	confPath := filepath.Join(t.TempDir(), "app.conf")

	m := manifest.New()
	m.AddPolicy("web", &manifest.Node{Children: []*manifest.Node{
		{
			Op: manifest.OpResourceDecl, Kind: resource.KindFile, ID: confPath,
			Children: []*manifest.Node{
				{Op: manifest.OpAttr, Name: "present", Value: "1"},
				{Op: manifest.OpAttr, Name: "template", Value: "listen 8080;\n"},
			},
		},
	}})

	dataDir, err := os.MkdirTemp("", "clockwork-agent-master-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dataDir) })

	mst, err := master.New(master.Config{
		ListenAddr:          "127.0.0.1:0",
		DataDir:             dataDir,
		MasterKeyPassphrase: "test passphrase",
		Manifest:            m,
		DefaultPolicy:       "web",
	})
	require.NoError(t, err)
	t.Cleanup(func() { mst.Close() })

	ln, err := mst.Listen()
	require.NoError(t, err)
	go mst.Serve(ln)

	host := "agent-test-host-01"
	csrPEM, key, err := agent.GenerateEnrollmentCSR(host)
	require.NoError(t, err)
	certDER, err := mst.IssueCertificate(host, csrPEM)
	require.NoError(t, err)
	require.NoError(t, agent.InstallEnrollmentCertificate(host, key, certDER, mst.RootCACert()))

	a, err := agent.New(agent.Config{
		MasterAddr: ln.Addr().String(),
		Host:       host,
		DataDir:    t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	job, err := a.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, job.Reports, 1)
	require.Equal(t, "file", job.Reports[0].Kind)

	content, err := os.ReadFile(confPath)
	require.NoError(t, err)
	require.Equal(t, "listen 8080;\n", string(content))
}
