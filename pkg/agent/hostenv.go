package agent

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jameshunt/clockwork/pkg/resource"
)

// hostFiles is the real, on-disk resource.FileIO an agent runs fixups
// against. Ownership changes are a no-op on platforms without a real
// chown (handled by the caller's Chown implementation returning an
// error the resource layer already treats as a failed action).
type hostFiles struct{}

func newHostFiles() *hostFiles { return &hostFiles{} }

func (hostFiles) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

func (hostFiles) WriteFile(path string, content []byte, mode uint32) error {
	perm := os.FileMode(mode)
	if perm == 0 {
		perm = 0644
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("agent: create parent of %s: %w", path, err)
	}
	return os.WriteFile(path, content, perm)
}

func (hostFiles) Chmod(path string, mode uint32) error {
	return os.Chmod(path, os.FileMode(mode))
}

func (hostFiles) Chown(path string, uid, gid int) error {
	return os.Chown(path, uid, gid)
}

func (hostFiles) Remove(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (hostFiles) Mkdir(path string, mode uint32) error {
	perm := os.FileMode(mode)
	if perm == 0 {
		perm = 0755
	}
	return os.MkdirAll(path, perm)
}

func (hostFiles) Stat(path string) (bool, uint32, int, int, error) {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return false, 0, 0, 0, nil
	}
	if err != nil {
		return false, 0, 0, 0, err
	}
	uid, gid := statOwnership(info)
	return true, uint32(info.Mode().Perm()), uid, gid, nil
}

// hostSysctl reads and writes kernel parameters under /proc/sys, mapping
// a dotted parameter name (net.ipv4.ip_forward) to its /proc/sys path the
// way sysctl(8) itself does.
type hostSysctl struct{ root string }

func newHostSysctl() *hostSysctl { return &hostSysctl{root: "/proc/sys"} }

// newHostSysctlAt builds a hostSysctl rooted at an arbitrary directory,
// for tests that fake out /proc/sys with a temp directory tree.
func newHostSysctlAt(root string) *hostSysctl { return &hostSysctl{root: root} }

func (s *hostSysctl) path(param string) string {
	return filepath.Join(s.root, strings.ReplaceAll(param, ".", "/"))
}

func (s *hostSysctl) Get(param string) (string, error) {
	data, err := os.ReadFile(s.path(param))
	if err != nil {
		return "", fmt.Errorf("agent: read sysctl %s: %w", param, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *hostSysctl) Set(param, value string) error {
	if err := os.WriteFile(s.path(param), []byte(value), 0644); err != nil {
		return fmt.Errorf("agent: write sysctl %s: %w", param, err)
	}
	return nil
}

// hostExec runs a command through the shell, mirroring the original
// client's use of system(3) for the exec resource kind.
type hostExec struct{}

func newHostExec() *hostExec { return &hostExec{} }

func (hostExec) Run(ctx context.Context, command string) (int, string, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return 0, string(out), nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), string(out), nil
	}
	return -1, string(out), fmt.Errorf("agent: run %q: %w", command, err)
}

// hostUsers is a real UserDB reading and rewriting /etc/passwd,
// /etc/shadow, and /etc/group. Each Put rereads the file fresh, replaces
// or appends the named entry, and rewrites the whole file -- there is no
// concurrent-writer locking, matching the single-agent-process model the
// rest of the fixup runner assumes.
type hostUsers struct {
	passwdPath string
	shadowPath string
	groupPath  string
}

func newHostUsers() *hostUsers {
	return newHostUsersAt("/etc/passwd", "/etc/shadow", "/etc/group")
}

// newHostUsersAt builds a hostUsers against arbitrary file paths,
// letting tests exercise the real parsing/rewrite logic without
// touching the actual system databases.
func newHostUsersAt(passwdPath, shadowPath, groupPath string) *hostUsers {
	return &hostUsers{passwdPath: passwdPath, shadowPath: shadowPath, groupPath: groupPath}
}

func (u *hostUsers) LookupUser(name string) (*resource.PasswdEntry, bool, error) {
	lines, err := readLines(u.passwdPath)
	if err != nil {
		return nil, false, err
	}
	for _, line := range lines {
		f := strings.Split(line, ":")
		if len(f) < 7 || f[0] != name {
			continue
		}
		uid, _ := strconv.Atoi(f[2])
		gid, _ := strconv.Atoi(f[3])
		return &resource.PasswdEntry{Name: f[0], UID: uid, GID: gid, Gecos: f[4], Home: f[5], Shell: f[6]}, true, nil
	}
	return nil, false, nil
}

func (u *hostUsers) PutUser(e *resource.PasswdEntry) error {
	line := fmt.Sprintf("%s:x:%d:%d:%s:%s:%s", e.Name, e.UID, e.GID, e.Gecos, e.Home, e.Shell)
	return rewriteEntry(u.passwdPath, e.Name, line)
}

func (u *hostUsers) DeleteUser(name string) error {
	return removeEntry(u.passwdPath, name)
}

func (u *hostUsers) LookupShadow(name string) (*resource.ShadowEntry, bool, error) {
	lines, err := readLines(u.shadowPath)
	if err != nil {
		return nil, false, err
	}
	for _, line := range lines {
		f := strings.Split(line, ":")
		if len(f) < 3 || f[0] != name {
			continue
		}
		last, _ := strconv.Atoi(f[2])
		return &resource.ShadowEntry{Name: f[0], PasswordHash: f[1], LastChangeDays: last}, true, nil
	}
	return nil, false, nil
}

func (u *hostUsers) PutShadow(e *resource.ShadowEntry) error {
	line := fmt.Sprintf("%s:%s:%d:0:99999:7:::", e.Name, e.PasswordHash, e.LastChangeDays)
	return rewriteEntry(u.shadowPath, e.Name, line)
}

func (u *hostUsers) LookupGroup(name string) (*resource.GroupEntry, bool, error) {
	lines, err := readLines(u.groupPath)
	if err != nil {
		return nil, false, err
	}
	for _, line := range lines {
		f := strings.Split(line, ":")
		if len(f) < 4 || f[0] != name {
			continue
		}
		gid, _ := strconv.Atoi(f[2])
		var members []string
		if f[3] != "" {
			members = strings.Split(f[3], ",")
		}
		return &resource.GroupEntry{Name: f[0], GID: gid, Members: members}, true, nil
	}
	return nil, false, nil
}

func (u *hostUsers) PutGroup(e *resource.GroupEntry) error {
	line := fmt.Sprintf("%s:x:%d:%s", e.Name, e.GID, strings.Join(e.Members, ","))
	return rewriteEntry(u.groupPath, e.Name, line)
}

func (u *hostUsers) DeleteGroup(name string) error {
	return removeEntry(u.groupPath, name)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("agent: open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// rewriteEntry replaces the line whose first ":"-delimited field equals
// name with replacement, appending it if no such line exists.
func rewriteEntry(path, name, replacement string) error {
	lines, err := readLines(path)
	if err != nil {
		return err
	}

	found := false
	for i, line := range lines {
		if strings.SplitN(line, ":", 2)[0] == name {
			lines[i] = replacement
			found = true
			break
		}
	}
	if !found {
		lines = append(lines, replacement)
	}
	return writeLines(path, lines)
}

func removeEntry(path, name string) error {
	lines, err := readLines(path)
	if err != nil {
		return err
	}
	out := lines[:0]
	for _, line := range lines {
		if strings.SplitN(line, ":", 2)[0] != name {
			out = append(out, line)
		}
	}
	return writeLines(path, out)
}

func writeLines(path string, lines []string) error {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	tmp := path + ".clockwork-tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("agent: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("agent: replace %s: %w", path, err)
	}
	return nil
}
