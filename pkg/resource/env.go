package resource

import "context"

// ServiceAction enumerates the operations a ServiceManager can perform on a
// named service, mirroring the original service_manager action vtable.
type ServiceAction int

const (
	ServiceStart ServiceAction = iota
	ServiceStop
	ServiceRestart
	ServiceReload
	ServiceEnable
	ServiceDisable
)

// ServiceManager abstracts the host's init system (systemd, upstart, sysv).
// Clockwork never shells out to a concrete init system itself; env.go only
// defines the interface, and tests are driven against an in-memory fake.
type ServiceManager interface {
	// Status reports whether the named service is currently running.
	Status(ctx context.Context, name string) (running bool, err error)
	// Action performs the given action on the named service.
	Action(ctx context.Context, name string, action ServiceAction) error
}

// PackageManager abstracts the host's package manager (apt, yum, pacman).
type PackageManager interface {
	// Query reports whether the named package is installed and, if so,
	// its installed version.
	Query(ctx context.Context, name string) (installed bool, version string, err error)
	// Latest reports the latest available version of the named package.
	Latest(ctx context.Context, name string) (version string, err error)
	// Install installs the named package, optionally at a specific
	// version (empty string means "latest").
	Install(ctx context.Context, name, version string) error
	// Remove uninstalls the named package.
	Remove(ctx context.Context, name string) error
}

// Augeas abstracts a configuration-tree editor used by resources that
// target structured config files rather than opaque ones. Clockwork only
// defines the interface and an in-memory fake; no concrete Augeas binding
// is implemented (non-goal).
type Augeas interface {
	// Match returns every path matching pathExpr, e.g. "/files/etc/hosts/*".
	Match(pathExpr string) ([]string, error)
	// Get returns the value at path, if set.
	Get(path string) (value string, ok bool, err error)
	// Set assigns value at path, creating intermediate nodes as needed.
	Set(path, value string) error
	// Rm removes path (and any children) and returns the number of nodes
	// removed.
	Rm(path string) (int, error)
	// Save commits pending Set/Rm calls back to the underlying file.
	Save() error
}

// PasswdEntry is one /etc/passwd record.
type PasswdEntry struct {
	Name  string
	UID   int
	GID   int
	Gecos string
	Home  string
	Shell string
}

// ShadowEntry is one /etc/shadow record.
type ShadowEntry struct {
	Name           string
	PasswordHash   string
	LastChangeDays int
}

// GroupEntry is one /etc/group record.
type GroupEntry struct {
	Name    string
	GID     int
	Members []string
}

// UserDB abstracts read/write access to the host's passwd/shadow/group
// databases, mirroring the original pwdb/spdb/grdb/sgdb structures.
type UserDB interface {
	LookupUser(name string) (*PasswdEntry, bool, error)
	PutUser(*PasswdEntry) error
	DeleteUser(name string) error

	LookupShadow(name string) (*ShadowEntry, bool, error)
	PutShadow(*ShadowEntry) error

	LookupGroup(name string) (*GroupEntry, bool, error)
	PutGroup(*GroupEntry) error
	DeleteGroup(name string) error
}

// FileIO abstracts the filesystem operations file/dir resources need,
// so that Stat/Fixup can be exercised without touching the real disk in
// unit tests.
type FileIO interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, content []byte, mode uint32) error
	Chmod(path string, mode uint32) error
	Chown(path string, uid, gid int) error
	Remove(path string) error
	Mkdir(path string, mode uint32) error
	Stat(path string) (exists bool, mode uint32, uid, gid int, err error)
}

// SysctlIO abstracts reading and writing kernel parameters under /proc/sys.
type SysctlIO interface {
	Get(param string) (string, error)
	Set(param, value string) error
}

// Exec abstracts running a command on the host and capturing whether it
// succeeded.
type Exec interface {
	Run(ctx context.Context, command string) (exitCode int, output string, err error)
}

// Env bundles the environment a resource needs to Stat and Fixup itself.
// It is the Go analogue of the original struct resource_env: one value
// passed down through the whole fixup run, carrying the injected
// interfaces plus whatever host-local databases file/user/group resources
// need.
type Env struct {
	Services ServiceManager
	Packages PackageManager
	Augeas   Augeas
	Users    UserDB
	Files    FileIO
	Sysctl   SysctlIO
	Execer   Exec
}
