package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/jameshunt/clockwork/pkg/resource"
)

// debugServices is an in-memory stand-in for a real init-system binding,
// mirroring the action vtable the original's debug/service-manager.c
// drove by hand (start/stop/restart/reload/enable/disable/status)
// without actually calling into systemd or sysvinit. No concrete
// ServiceManager ships here; this is what cwa runs fixups against until
// one does.
type debugServices struct {
	mu      sync.Mutex
	running map[string]bool
	enabled map[string]bool
}

func newDebugServices() *debugServices {
	return &debugServices{running: map[string]bool{}, enabled: map[string]bool{}}
}

func (d *debugServices) Status(ctx context.Context, name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running[name], nil
}

func (d *debugServices) Action(ctx context.Context, name string, action resource.ServiceAction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch action {
	case resource.ServiceStart, resource.ServiceRestart, resource.ServiceReload:
		d.running[name] = true
	case resource.ServiceStop:
		d.running[name] = false
	case resource.ServiceEnable:
		d.enabled[name] = true
	case resource.ServiceDisable:
		d.enabled[name] = false
	default:
		return fmt.Errorf("agent: unknown service action %v for %s", action, name)
	}
	return nil
}

// debugPackages is an in-memory stand-in for a real package manager
// binding, mirroring debug/package-manager.c's install/remove/query
// verbs over dpkg/apt without ever shelling out to either.
type debugPackages struct {
	mu        sync.Mutex
	installed map[string]string
}

func newDebugPackages() *debugPackages {
	return &debugPackages{installed: map[string]string{}}
}

func (d *debugPackages) Query(ctx context.Context, name string) (bool, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.installed[name]
	return ok, v, nil
}

func (d *debugPackages) Latest(ctx context.Context, name string) (string, error) {
	return "latest", nil
}

func (d *debugPackages) Install(ctx context.Context, name, version string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if version == "" {
		version = "latest"
	}
	d.installed[name] = version
	return nil
}

func (d *debugPackages) Remove(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.installed, name)
	return nil
}

// debugAugeas is an in-memory configuration tree keyed by Augeas-style
// path strings. No lens parsing happens here; Set/Get/Rm act on a flat
// map, enough to exercise resources that target it without a real
// libaugeas binding (never shipped; an explicit non-goal).
type debugAugeas struct {
	mu   sync.Mutex
	tree map[string]string
}

func newDebugAugeas() *debugAugeas {
	return &debugAugeas{tree: map[string]string{}}
}

func (a *debugAugeas) Match(pathExpr string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var matches []string
	for p := range a.tree {
		if p == pathExpr {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

func (a *debugAugeas) Get(path string) (string, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.tree[path]
	return v, ok, nil
}

func (a *debugAugeas) Set(path, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tree[path] = value
	return nil
}

func (a *debugAugeas) Rm(path string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.tree[path]; !ok {
		return 0, nil
	}
	delete(a.tree, path)
	return 1, nil
}

func (a *debugAugeas) Save() error { return nil }
