// Package resource implements Clockwork's polymorphic resource model: the
// nine built-in resource kinds (user, group, file, dir, package, service,
// host, sysctl, exec), each carrying enforcement/difference bitmasks and
// a dependency list, and each walking the same New -> Set -> Norm -> Stat
// -> Fixup -> Notify lifecycle.
package resource

import (
	"fmt"
	"strings"

	"github.com/jameshunt/clockwork/pkg/packer"
)

// Kind names the closed set of resource kinds Clockwork understands.
type Kind string

const (
	KindUser    Kind = "user"
	KindGroup   Kind = "group"
	KindFile    Kind = "file"
	KindDir     Kind = "dir"
	KindPackage Kind = "package"
	KindService Kind = "service"
	KindHost    Kind = "host"
	KindSysctl  Kind = "sysctl"
	KindExec    Kind = "exec"
)

// allKinds is the closed kind set consulted by ValidKind.
var allKinds = map[Kind]bool{
	KindUser: true, KindGroup: true, KindFile: true, KindDir: true,
	KindPackage: true, KindService: true, KindHost: true, KindSysctl: true,
	KindExec: true,
}

// ValidKind reports whether k is one of the nine built-in kinds.
func ValidKind(k Kind) bool { return allKinds[k] }

// Impl is implemented once per resource kind. It mirrors the original
// resource_TYPENAME_* vtable: attribute assignment, on-disk/on-host
// inspection, and remediation.
type Impl interface {
	// Set assigns an attribute by name. Unknown attribute names are
	// reported with ErrUnknownAttribute so the manifest compiler can
	// surface them per the closed-attribute-set invariant.
	Set(attr, value string) error

	// Match reports whether the resource, as currently configured
	// (pre-Stat), already carries attr=value.
	Match(attr, value string) bool

	// Norm validates the fully-populated resource and fills in any
	// values that depend on other attributes (e.g. a file resource's
	// mutually exclusive Source/Template selection).
	Norm() error

	// Stat queries the live host and sets the difference bitmask to the
	// subset of the enforcement bitmask that is currently out of
	// compliance. Per the resource invariant, difference must always be
	// a subset of enforcement after Stat returns.
	Stat(env *Env) error

	// Fixup brings the live host into compliance with whatever is
	// currently flagged as different, in a fixed per-kind attribute
	// order. When dryrun is true no change is made; the actions that
	// would have been taken are still reported.
	Fixup(dryrun bool, env *Env) (*FixupResult, error)

	// Enforced reports the current enforcement bitmask.
	Enforced() uint32
	// Different reports the current difference bitmask, valid only
	// after Stat.
	Different() uint32

	// PackedValues returns the kind's canonical attributes, in the kind's
	// fixed wire order (see attrNames), serialized as strings. Every
	// attribute is always present regardless of enforcement -- enforcement
	// travels separately via Enforced -- so the format string for a given
	// kind never varies and Unpack can rely on a fixed field count.
	PackedValues() []string
}

// ErrUnknownAttribute is returned by Impl.Set for an attribute name outside
// the kind's closed attribute set.
type ErrUnknownAttribute struct {
	Kind Kind
	Attr string
}

func (e *ErrUnknownAttribute) Error() string {
	return fmt.Sprintf("resource: %s: unknown attribute %q", e.Kind, e.Attr)
}

// Action records one concrete remediation step taken (or, under dry-run,
// that would have been taken) during Fixup.
type Action struct {
	Summary string
	Ok      bool
}

// FixupResult is the outcome of a single Fixup call: whether the resource
// was compliant before fixup ran, whether it is fixed now, and the ordered
// list of actions taken.
type FixupResult struct {
	Compliant bool
	Fixed     bool
	Actions   []Action
}

// Resource is the generic envelope around a kind-specific Impl: identity,
// dependency edges, and the enforcement/difference bitmasks exposed by the
// Impl.
type Resource struct {
	Kind  Kind
	ID    string
	Impl  Impl

	deps     []*Resource
	notified map[string]bool
}

// Key returns the resource's stable "kind:identifier" key.
func (r *Resource) Key() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

// New constructs a Resource of the given kind and identifier, with a fresh
// zero-valued Impl for that kind. It returns an error if kind is not one of
// the nine built-in kinds.
func New(kind Kind, id string) (*Resource, error) {
	impl, err := newImpl(kind, id)
	if err != nil {
		return nil, err
	}
	return &Resource{Kind: kind, ID: id, Impl: impl}, nil
}

func newImpl(kind Kind, id string) (Impl, error) {
	switch kind {
	case KindUser:
		return &User{Name: id}, nil
	case KindGroup:
		return &Group{Name: id}, nil
	case KindFile:
		return &File{Path: id}, nil
	case KindDir:
		return &Dir{Path: id}, nil
	case KindPackage:
		return &Package{Name: id}, nil
	case KindService:
		return &Service{Name: id}, nil
	case KindHost:
		return &Host{Name: id}, nil
	case KindSysctl:
		return &Sysctl{Param: id}, nil
	case KindExec:
		return &Exec{Command: id}, nil
	default:
		return nil, fmt.Errorf("resource: unknown kind %q", kind)
	}
}

// Set delegates to the kind Impl.
func (r *Resource) Set(attr, value string) error { return r.Impl.Set(attr, value) }

// Match delegates to the kind Impl.
func (r *Resource) Match(attr, value string) bool { return r.Impl.Match(attr, value) }

// Norm delegates to the kind Impl.
func (r *Resource) Norm() error { return r.Impl.Norm() }

// Stat delegates to the kind Impl. Per invariant, callers may assert that
// r.Different()&^r.Enforced() == 0 afterward.
func (r *Resource) Stat(env *Env) error { return r.Impl.Stat(env) }

// Fixup delegates to the kind Impl.
func (r *Resource) Fixup(dryrun bool, env *Env) (*FixupResult, error) {
	return r.Impl.Fixup(dryrun, env)
}

// Enforced delegates to the kind Impl.
func (r *Resource) Enforced() uint32 { return r.Impl.Enforced() }

// Different delegates to the kind Impl.
func (r *Resource) Different() uint32 { return r.Impl.Different() }

// AddDependency records that r depends on dep. Duplicate edges are no-ops.
func (r *Resource) AddDependency(dep *Resource) {
	for _, d := range r.deps {
		if d == dep {
			return
		}
	}
	r.deps = append(r.deps, dep)
}

// Dependencies returns the resources r depends on.
func (r *Resource) Dependencies() []*Resource { return r.deps }

// DependsOn reports whether r directly depends on dep.
func (r *Resource) DependsOn(dep *Resource) bool {
	for _, d := range r.deps {
		if d == dep {
			return true
		}
	}
	return false
}

// Notify marks that a dependency identified by causeKey changed during this
// run. It returns true the first time it is called for a given causeKey on
// this resource, and false on any repeat, so that a fan-out across multiple
// dependency edges fires Stat/Fixup at most once per cause per run. Kinds
// that implement Notifiable (currently only service) additionally get their
// own Notify called, so Fixup can trigger a soft remediation even when the
// resource is otherwise compliant.
func (r *Resource) Notify(causeKey string) bool {
	if r.notified == nil {
		r.notified = make(map[string]bool)
	}
	if r.notified[causeKey] {
		return false
	}
	r.notified[causeKey] = true
	if n, ok := r.Impl.(Notifiable); ok {
		n.Notify()
	}
	return true
}

// Notifiable is implemented by kinds that react to a dependency-change
// notification by doing something even when already compliant (e.g.
// service reloads).
type Notifiable interface {
	Notify()
}

// Attrs returns the resource's current attribute values keyed by canonical
// attribute name, per §4.4. Every value is reported as the kind's
// PackedValues holds it, including defaults for attributes outside the
// enforcement mask; unset attributes are not blanked or reported as null.
// Enforced() tells which of the returned attributes are under management.
func (r *Resource) Attrs() map[string]string {
	names := attrNames(r.Kind)
	vals := r.Impl.PackedValues()
	out := make(map[string]string, len(names))
	for i, n := range names {
		if i < len(vals) {
			out[n] = vals[i]
		}
	}
	return out
}

// attrNames gives the fixed, canonical attribute order each kind packs its
// PackedValues in. This is the wire contract: Pack and Unpack for a given
// kind must always agree on this order and length.
func attrNames(kind Kind) []string {
	switch kind {
	case KindUser:
		return []string{"uid", "gid", "gecos", "home", "shell", "password", "present"}
	case KindGroup:
		return []string{"gid", "members", "present"}
	case KindFile:
		return []string{"owner", "group", "mode", "source", "template", "content", "present"}
	case KindDir:
		return []string{"owner", "group", "mode", "present"}
	case KindPackage:
		return []string{"version", "present"}
	case KindService:
		return []string{"running", "enabled"}
	case KindHost:
		return []string{"address", "aliases", "present"}
	case KindSysctl:
		return []string{"value"}
	case KindExec:
		return []string{"guard"}
	default:
		return nil
	}
}

// packedFormat is "a" (identifier) + "L" (enforcement mask) + one "a" per
// canonical attribute of kind.
func packedFormat(kind Kind) string {
	return "aL" + strings.Repeat("a", len(attrNames(kind)))
}

// packedPrefix is the literal tag a packed resource line begins with,
// e.g. "res_file::".
func packedPrefix(kind Kind) string {
	return fmt.Sprintf("res_%s::", kind)
}

// Pack serializes the full resource -- identifier, enforcement mask, and
// kind-specific attributes in the kind's canonical order -- to a single
// packed line via pkg/packer, using the "res_<kind>::" prefix.
func (r *Resource) Pack() string {
	vals := r.Impl.PackedValues()
	format := packedFormat(r.Kind)
	args := make([]any, 0, 2+len(vals))
	args = append(args, r.ID, r.Impl.Enforced())
	for _, v := range vals {
		args = append(args, v)
	}
	return packer.Pack(packedPrefix(r.Kind), format, args...)
}

// Unpack reconstructs a Resource of the given kind from one packed line
// produced by Pack. It fails if the line's prefix doesn't match the kind or
// any field is malformed.
func Unpack(kind Kind, packed string) (*Resource, error) {
	if !ValidKind(kind) {
		return nil, fmt.Errorf("resource: unpack: unknown kind %q", kind)
	}
	vals, err := packer.Unpack(packed, packedPrefix(kind), packedFormat(kind))
	if err != nil {
		return nil, fmt.Errorf("resource: unpack %s: %w", kind, err)
	}
	id, ok := vals[0].(string)
	if !ok {
		return nil, fmt.Errorf("resource: unpack %s: malformed identifier", kind)
	}
	enforced, ok := vals[1].(uint32)
	if !ok {
		return nil, fmt.Errorf("resource: unpack %s: malformed enforcement mask", kind)
	}
	attrs := make([]string, len(vals)-2)
	for i := range attrs {
		s, ok := vals[2+i].(string)
		if !ok {
			return nil, fmt.Errorf("resource: unpack %s: malformed attribute %d", kind, i)
		}
		attrs[i] = s
	}
	impl, err := fromPacked(kind, id, enforced, attrs)
	if err != nil {
		return nil, fmt.Errorf("resource: unpack %s: %w", kind, err)
	}
	return &Resource{Kind: kind, ID: id, Impl: impl}, nil
}

func fromPacked(kind Kind, id string, enforced uint32, attrs []string) (Impl, error) {
	switch kind {
	case KindUser:
		return unpackUser(id, enforced, attrs)
	case KindGroup:
		return unpackGroup(id, enforced, attrs)
	case KindFile:
		return unpackFile(id, enforced, attrs)
	case KindDir:
		return unpackDir(id, enforced, attrs)
	case KindPackage:
		return unpackPackage(id, enforced, attrs)
	case KindService:
		return unpackService(id, enforced, attrs)
	case KindHost:
		return unpackHost(id, enforced, attrs)
	case KindSysctl:
		return unpackSysctl(id, enforced, attrs)
	case KindExec:
		return unpackExec(id, enforced, attrs)
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseBoolAttr(s string) bool { return s == "1" || s == "true" }

func joinCSV(items []string) string {
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(it)
	}
	return b.String()
}
