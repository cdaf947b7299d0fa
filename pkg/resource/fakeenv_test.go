package resource

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// fakeFiles is an in-memory FileIO used by unit tests.
type fakeFiles struct {
	content map[string][]byte
	mode    map[string]uint32
	owner   map[string]int
	group   map[string]int
	dirs    map[string]bool
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{
		content: map[string][]byte{},
		mode:    map[string]uint32{},
		owner:   map[string]int{},
		group:   map[string]int{},
		dirs:    map[string]bool{},
	}
}

func (f *fakeFiles) ReadFile(path string) ([]byte, error) {
	c, ok := f.content[path]
	if !ok {
		return nil, fmt.Errorf("not found: %s", path)
	}
	return c, nil
}

func (f *fakeFiles) WriteFile(path string, content []byte, mode uint32) error {
	f.content[path] = content
	if mode != 0 {
		f.mode[path] = mode
	}
	return nil
}

func (f *fakeFiles) Chmod(path string, mode uint32) error {
	f.mode[path] = mode
	return nil
}

func (f *fakeFiles) Chown(path string, uid, gid int) error {
	f.owner[path] = uid
	f.group[path] = gid
	return nil
}

func (f *fakeFiles) Remove(path string) error {
	delete(f.content, path)
	delete(f.dirs, path)
	return nil
}

func (f *fakeFiles) Mkdir(path string, mode uint32) error {
	f.dirs[path] = true
	f.mode[path] = mode
	return nil
}

func (f *fakeFiles) Stat(path string) (bool, uint32, int, int, error) {
	if f.dirs[path] {
		return true, f.mode[path], f.owner[path], f.group[path], nil
	}
	if _, ok := f.content[path]; ok {
		return true, f.mode[path], f.owner[path], f.group[path], nil
	}
	return false, 0, 0, 0, nil
}

// fakeUsers is an in-memory UserDB.
type fakeUsers struct {
	passwd map[string]*PasswdEntry
	shadow map[string]*ShadowEntry
	group  map[string]*GroupEntry
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		passwd: map[string]*PasswdEntry{},
		shadow: map[string]*ShadowEntry{},
		group:  map[string]*GroupEntry{},
	}
}

func (u *fakeUsers) LookupUser(name string) (*PasswdEntry, bool, error) {
	e, ok := u.passwd[name]
	return e, ok, nil
}
func (u *fakeUsers) PutUser(e *PasswdEntry) error {
	cp := *e
	u.passwd[e.Name] = &cp
	return nil
}
func (u *fakeUsers) DeleteUser(name string) error {
	delete(u.passwd, name)
	return nil
}
func (u *fakeUsers) LookupShadow(name string) (*ShadowEntry, bool, error) {
	e, ok := u.shadow[name]
	return e, ok, nil
}
func (u *fakeUsers) PutShadow(e *ShadowEntry) error {
	cp := *e
	u.shadow[e.Name] = &cp
	return nil
}
func (u *fakeUsers) LookupGroup(name string) (*GroupEntry, bool, error) {
	e, ok := u.group[name]
	return e, ok, nil
}
func (u *fakeUsers) PutGroup(e *GroupEntry) error {
	cp := *e
	u.group[e.Name] = &cp
	return nil
}
func (u *fakeUsers) DeleteGroup(name string) error {
	delete(u.group, name)
	return nil
}

// fakeServices is an in-memory ServiceManager.
type fakeServices struct {
	running map[string]bool
}

func newFakeServices() *fakeServices { return &fakeServices{running: map[string]bool{}} }

func (s *fakeServices) Status(ctx context.Context, name string) (bool, error) {
	return s.running[name], nil
}
func (s *fakeServices) Action(ctx context.Context, name string, action ServiceAction) error {
	switch action {
	case ServiceStart, ServiceRestart:
		s.running[name] = true
	case ServiceStop:
		s.running[name] = false
	}
	return nil
}

// fakePackages is an in-memory PackageManager.
type fakePackages struct {
	installed map[string]string
}

func newFakePackages() *fakePackages { return &fakePackages{installed: map[string]string{}} }

func (p *fakePackages) Query(ctx context.Context, name string) (bool, string, error) {
	v, ok := p.installed[name]
	return ok, v, nil
}
func (p *fakePackages) Latest(ctx context.Context, name string) (string, error) {
	return "2.0", nil
}
func (p *fakePackages) Install(ctx context.Context, name, version string) error {
	if version == "" {
		version = "2.0"
	}
	p.installed[name] = version
	return nil
}
func (p *fakePackages) Remove(ctx context.Context, name string) error {
	delete(p.installed, name)
	return nil
}

// fakeSysctl is an in-memory SysctlIO.
type fakeSysctl struct{ values map[string]string }

func newFakeSysctl() *fakeSysctl { return &fakeSysctl{values: map[string]string{}} }

func (s *fakeSysctl) Get(param string) (string, error) { return s.values[param], nil }
func (s *fakeSysctl) Set(param, value string) error {
	s.values[param] = value
	return nil
}

// fakeExec is an in-memory Exec.
type fakeExec struct {
	exitCodes map[string]int
	ran       []string
}

func newFakeExec() *fakeExec { return &fakeExec{exitCodes: map[string]int{}} }

func (e *fakeExec) Run(ctx context.Context, command string) (int, string, error) {
	e.ran = append(e.ran, command)
	return e.exitCodes[command], "", nil
}

// fakeAugeas is an in-memory Augeas tree: a flat map from path to leaf
// value, with Match resolving the two glob shapes the hosts lens needs --
// "prefix/*" (one level of children) and "prefix/name[*]" (indexed
// siblings of a repeated node).
type fakeAugeas struct {
	values map[string]string
}

func newFakeAugeas() *fakeAugeas { return &fakeAugeas{values: map[string]string{}} }

func (a *fakeAugeas) Get(path string) (string, bool, error) {
	v, ok := a.values[path]
	return v, ok, nil
}

func (a *fakeAugeas) Set(path, value string) error {
	a.values[path] = value
	return nil
}

func (a *fakeAugeas) Rm(path string) (int, error) {
	n := 0
	prefix := path + "/"
	for k := range a.values {
		if k == path || strings.HasPrefix(k, prefix) {
			delete(a.values, k)
			n++
		}
	}
	return n, nil
}

func (a *fakeAugeas) Save() error { return nil }

func (a *fakeAugeas) Match(pathExpr string) ([]string, error) {
	switch {
	case strings.HasSuffix(pathExpr, "/*"):
		prefix := strings.TrimSuffix(pathExpr, "/*") + "/"
		seen := map[string]bool{}
		var out []string
		for k := range a.values {
			if !strings.HasPrefix(k, prefix) {
				continue
			}
			rest := k[len(prefix):]
			seg := rest
			if i := strings.Index(rest, "/"); i >= 0 {
				seg = rest[:i]
			}
			child := prefix + seg
			if !seen[child] {
				seen[child] = true
				out = append(out, child)
			}
		}
		sort.Strings(out)
		return out, nil
	case strings.HasSuffix(pathExpr, "[*]"):
		prefix := strings.TrimSuffix(pathExpr, "[*]") + "["
		var out []string
		for k := range a.values {
			if strings.HasPrefix(k, prefix) && strings.HasSuffix(k, "]") {
				out = append(out, k)
			}
		}
		sort.Strings(out)
		return out, nil
	default:
		return nil, fmt.Errorf("fakeAugeas: unsupported match expression %q", pathExpr)
	}
}

func newTestEnv() *Env {
	return &Env{
		Services: newFakeServices(),
		Packages: newFakePackages(),
		Users:    newFakeUsers(),
		Files:    newFakeFiles(),
		Augeas:   newFakeAugeas(),
		Sysctl:   newFakeSysctl(),
		Execer:   newFakeExec(),
	}
}
