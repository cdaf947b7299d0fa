package policy

import (
	"testing"

	"github.com/jameshunt/clockwork/pkg/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyPackUnpackRoundTrip(t *testing.T) {
	p := New("web01")
	conf := mustResource(t, resource.KindFile, "/etc/nginx.conf")
	svc := mustResource(t, resource.KindService, "nginx")
	require.NoError(t, p.AddResource(conf))
	require.NoError(t, p.AddResource(svc))
	require.NoError(t, p.AddDependency("service:nginx", "file:/etc/nginx.conf"))

	lines := p.Pack()
	require.NotEmpty(t, lines)

	rt, err := Unpack(lines)
	require.NoError(t, err)
	assert.Equal(t, p.Host, rt.Host)
	require.Len(t, rt.Resources(), 2)
	assert.Equal(t, "file:/etc/nginx.conf", rt.Resources()[0].Key())
	assert.Equal(t, "service:nginx", rt.Resources()[1].Key())
	require.Len(t, rt.Dependencies(), 1)
	assert.Equal(t, Dependency{A: "service:nginx", B: "file:/etc/nginx.conf"}, rt.Dependencies()[0])
}
