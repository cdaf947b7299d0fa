package policy

import (
	"testing"

	"github.com/jameshunt/clockwork/pkg/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustResource(t *testing.T, kind resource.Kind, id string) *resource.Resource {
	t.Helper()
	r, err := resource.New(kind, id)
	require.NoError(t, err)
	return r
}

func TestAddResourceRejectsDuplicateKey(t *testing.T) {
	p := New("web01")
	require.NoError(t, p.AddResource(mustResource(t, resource.KindFile, "/etc/x")))
	err := p.AddResource(mustResource(t, resource.KindFile, "/etc/x"))
	assert.Error(t, err)
}

func TestAddDependencyRequiresKnownResources(t *testing.T) {
	p := New("web01")
	require.NoError(t, p.AddResource(mustResource(t, resource.KindFile, "/etc/x")))
	err := p.AddDependency("file:/etc/x", "service:nginx")
	assert.Error(t, err)
}

func TestTopoSortOrdersDependenciesFirst(t *testing.T) {
	p := New("web01")
	conf := mustResource(t, resource.KindFile, "/etc/nginx.conf")
	svc := mustResource(t, resource.KindService, "nginx")
	require.NoError(t, p.AddResource(conf))
	require.NoError(t, p.AddResource(svc))
	require.NoError(t, p.AddDependency("service:nginx", "file:/etc/nginx.conf"))

	ordered, err := p.TopoSort()
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	assert.Equal(t, "file:/etc/nginx.conf", ordered[0].Key())
	assert.Equal(t, "service:nginx", ordered[1].Key())
}

func TestTopoSortDetectsCycle(t *testing.T) {
	p := New("web01")
	a := mustResource(t, resource.KindFile, "/a")
	b := mustResource(t, resource.KindFile, "/b")
	require.NoError(t, p.AddResource(a))
	require.NoError(t, p.AddResource(b))
	require.NoError(t, p.AddDependency("file:/a", "file:/b"))
	require.NoError(t, p.AddDependency("file:/b", "file:/a"))

	_, err := p.TopoSort()
	var cycleErr *ErrCyclicDependency
	assert.ErrorAs(t, err, &cycleErr)
}

func TestDuplicateDependencyIsDeduped(t *testing.T) {
	p := New("web01")
	a := mustResource(t, resource.KindFile, "/a")
	b := mustResource(t, resource.KindFile, "/b")
	require.NoError(t, p.AddResource(a))
	require.NoError(t, p.AddResource(b))
	require.NoError(t, p.AddDependency("file:/a", "file:/b"))
	require.NoError(t, p.AddDependency("file:/a", "file:/b"))

	assert.Len(t, p.Dependencies(), 1)
}

func TestNotifyFansOutOncePerEdge(t *testing.T) {
	p := New("web01")
	conf := mustResource(t, resource.KindFile, "/etc/nginx.conf")
	svc := mustResource(t, resource.KindService, "nginx")
	require.NoError(t, p.AddResource(conf))
	require.NoError(t, p.AddResource(svc))
	require.NoError(t, p.AddDependency("service:nginx", "file:/etc/nginx.conf"))

	notified := Notify(p, "file:/etc/nginx.conf")
	require.Len(t, notified, 1)
	assert.Equal(t, "service:nginx", notified[0].Key())

	again := Notify(p, "file:/etc/nginx.conf")
	assert.Empty(t, again, "a second notify for the same cause must not refire")
}
