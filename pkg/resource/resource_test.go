package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New(Kind("bogus"), "x")
	assert.Error(t, err)
}

func TestResourceKey(t *testing.T) {
	r, err := New(KindFile, "/etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, "file:/etc/passwd", r.Key())
}

func TestFileLifecycleCreatesMissingFile(t *testing.T) {
	r, err := New(KindFile, "/etc/motd")
	require.NoError(t, err)
	require.NoError(t, r.Set("present", "1"))
	require.NoError(t, r.Set("source", "/cache/motd"))
	require.NoError(t, r.Norm())

	env := newTestEnv()
	env.Files.WriteFile("/cache/motd", []byte("welcome\n"), 0)

	require.NoError(t, r.Stat(env))
	assert.NotZero(t, r.Different())
	assert.Zero(t, r.Different()&^r.Enforced(), "difference must be a subset of enforcement")

	result, err := r.Fixup(false, env)
	require.NoError(t, err)
	assert.True(t, result.Fixed)

	require.NoError(t, r.Stat(env))
	assert.Zero(t, r.Different(), "should be compliant after fixup")
}

func TestFileAbsentShortCircuits(t *testing.T) {
	r, err := New(KindFile, "/tmp/stale")
	require.NoError(t, err)
	require.NoError(t, r.Set("present", "0"))
	require.NoError(t, r.Set("owner", "0"))
	require.NoError(t, r.Norm())

	env := newTestEnv()
	env.Files.WriteFile("/tmp/stale", []byte("x"), 0)

	require.NoError(t, r.Stat(env))
	assert.Equal(t, FilePresent, r.Different(), "only the presence bit should be flagged once absent")
}

func TestFileRejectsUnknownAttribute(t *testing.T) {
	r, err := New(KindFile, "/etc/x")
	require.NoError(t, err)
	err = r.Set("bogus", "y")
	var unknownErr *ErrUnknownAttribute
	assert.ErrorAs(t, err, &unknownErr)
}

func TestFileTemplateAndSourceMutuallyExclusive(t *testing.T) {
	r, err := New(KindFile, "/etc/x")
	require.NoError(t, err)
	require.NoError(t, r.Set("source", "/a"))
	require.NoError(t, r.Set("template", "{{.x}}"))
	assert.Error(t, r.Norm())
}

func TestUserLifecycle(t *testing.T) {
	r, err := New(KindUser, "alice")
	require.NoError(t, err)
	require.NoError(t, r.Set("uid", "1001"))
	require.NoError(t, r.Set("home", "/home/alice"))
	require.NoError(t, r.Norm())

	env := newTestEnv()
	require.NoError(t, r.Stat(env))
	assert.NotZero(t, r.Different())

	result, err := r.Fixup(false, env)
	require.NoError(t, err)
	assert.True(t, result.Fixed)

	require.NoError(t, r.Stat(env))
	assert.Zero(t, r.Different())
}

func TestServiceRunningFixup(t *testing.T) {
	r, err := New(KindService, "nginx")
	require.NoError(t, err)
	require.NoError(t, r.Set("running", "1"))
	require.NoError(t, r.Norm())

	env := newTestEnv()
	require.NoError(t, r.Stat(env))
	assert.NotZero(t, r.Different())

	result, err := r.Fixup(false, env)
	require.NoError(t, err)
	assert.True(t, result.Fixed)
}

func TestExecGuardSkipsWhenSatisfied(t *testing.T) {
	r, err := New(KindExec, "touch /tmp/ok")
	require.NoError(t, err)
	require.NoError(t, r.Set("command", "touch /tmp/ok"))
	require.NoError(t, r.Set("unless", "test -f /tmp/ok"))
	require.NoError(t, r.Norm())

	env := newTestEnv()
	fe := env.Execer.(*fakeExec)
	fe.exitCodes["test -f /tmp/ok"] = 0

	require.NoError(t, r.Stat(env))
	assert.Zero(t, r.Different(), "guard succeeding means the exec is already satisfied")
}

func TestExecGuardRunsWhenUnsatisfied(t *testing.T) {
	r, err := New(KindExec, "touch /tmp/ok")
	require.NoError(t, err)
	require.NoError(t, r.Set("command", "touch /tmp/ok"))
	require.NoError(t, r.Set("unless", "test -f /tmp/ok"))
	require.NoError(t, r.Norm())

	env := newTestEnv()
	fe := env.Execer.(*fakeExec)
	fe.exitCodes["test -f /tmp/ok"] = 1

	require.NoError(t, r.Stat(env))
	assert.NotZero(t, r.Different())

	result, err := r.Fixup(false, env)
	require.NoError(t, err)
	assert.True(t, result.Fixed)
	assert.Contains(t, fe.ran, "touch /tmp/ok")
}

func TestNotifyFansOutOncePerCause(t *testing.T) {
	r, err := New(KindService, "nginx")
	require.NoError(t, err)

	assert.True(t, r.Notify("file:/etc/nginx.conf"))
	assert.False(t, r.Notify("file:/etc/nginx.conf"), "a repeat notify for the same cause must not refire")
	assert.True(t, r.Notify("file:/etc/other.conf"), "a distinct cause is independent")
}

func TestDependencyTracking(t *testing.T) {
	a, _ := New(KindFile, "/etc/nginx.conf")
	b, _ := New(KindService, "nginx")

	b.AddDependency(a)
	b.AddDependency(a) // duplicate, should not double up

	assert.True(t, b.DependsOn(a))
	assert.Len(t, b.Dependencies(), 1)
}

func TestHostLifecycleAddsMissingEntry(t *testing.T) {
	r, err := New(KindHost, "db1.internal")
	require.NoError(t, err)
	require.NoError(t, r.Set("address", "10.0.0.5"))
	require.NoError(t, r.Set("aliases", "db1,database"))
	require.NoError(t, r.Norm())

	env := newTestEnv()
	require.NoError(t, r.Stat(env))
	assert.NotZero(t, r.Different())

	result, err := r.Fixup(false, env)
	require.NoError(t, err)
	assert.True(t, result.Fixed)

	require.NoError(t, r.Stat(env))
	assert.Zero(t, r.Different(), "should be compliant after fixup")
}

func TestHostLifecycleRemovesStaleEntry(t *testing.T) {
	ag := newFakeAugeas()
	ag.Set("/files/etc/hosts/01/ipaddr", "10.0.0.9")
	ag.Set("/files/etc/hosts/01/canonical", "stale.internal")

	r, err := New(KindHost, "stale.internal")
	require.NoError(t, err)
	require.NoError(t, r.Set("present", "0"))
	require.NoError(t, r.Norm())

	env := newTestEnv()
	env.Augeas = ag

	require.NoError(t, r.Stat(env))
	assert.Equal(t, HostPresent, r.Different())

	result, err := r.Fixup(false, env)
	require.NoError(t, err)
	assert.True(t, result.Fixed)

	require.NoError(t, r.Stat(env))
	assert.Zero(t, r.Different())
}

func TestResourcePackUnpackRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		kind Kind
		id   string
		set  map[string]string
	}{
		{"user", KindUser, "bob", map[string]string{"uid": "1001", "gid": "7", "home": "/home/bob"}},
		{"group", KindGroup, "wheel", map[string]string{"gid": "10", "members": "root,bob"}},
		{"file", KindFile, "/etc/motd", map[string]string{"owner": "0", "group": "0", "mode": "0644", "source": "/cache/motd"}},
		{"dir", KindDir, "/etc/nginx", map[string]string{"owner": "0", "group": "0", "mode": "0755"}},
		{"package", KindPackage, "curl", map[string]string{"version": "8.0", "present": "1"}},
		{"service", KindService, "nginx", map[string]string{"running": "1", "enabled": "1"}},
		{"host", KindHost, "db1.internal", map[string]string{"address": "10.0.0.5", "aliases": "db1,database"}},
		{"sysctl", KindSysctl, "net.ipv4.ip_forward", map[string]string{"value": "1"}},
		{"exec", KindExec, "touch /tmp/ok", map[string]string{"command": "touch /tmp/ok", "unless": "test -f /tmp/ok"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := New(tc.kind, tc.id)
			require.NoError(t, err)
			for attr, val := range tc.set {
				require.NoError(t, r.Set(attr, val))
			}
			require.NoError(t, r.Norm())

			packed := r.Pack()
			require.NotEmpty(t, packed)

			rt, err := Unpack(tc.kind, packed)
			require.NoError(t, err)
			assert.Equal(t, r.Key(), rt.Key())
			assert.Equal(t, r.Enforced(), rt.Enforced())
			assert.Equal(t, r.Attrs(), rt.Attrs())
		})
	}
}

func TestDryRunMakesNoChange(t *testing.T) {
	r, err := New(KindPackage, "curl")
	require.NoError(t, err)
	require.NoError(t, r.Set("present", "1"))
	require.NoError(t, r.Norm())

	env := newTestEnv()
	require.NoError(t, r.Stat(env))

	result, err := r.Fixup(true, env)
	require.NoError(t, err)
	assert.True(t, result.Fixed)

	fp := env.Packages.(*fakePackages)
	assert.Empty(t, fp.installed, "dry run must not install anything")
}
