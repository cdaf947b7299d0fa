package resource

import "fmt"

// Dir attribute bits.
const (
	DirOwner uint32 = 1 << iota
	DirGroup
	DirMode
	DirPresent
)

var dirFixupOrder = []uint32{DirPresent, DirOwner, DirGroup, DirMode}

// Dir is the directory resource kind.
type Dir struct {
	Path string

	Present    bool
	presentSet bool
	Owner      string
	Group      string
	Mode       uint32

	enforced  uint32
	different uint32

	exists    bool
	liveOwner string
	liveGroup string
	liveMode  uint32
}

func (d *Dir) Set(attr, value string) error {
	switch attr {
	case "owner":
		d.Owner = value
		d.enforced |= DirOwner
	case "group":
		d.Group = value
		d.enforced |= DirGroup
	case "mode":
		var m uint32
		if _, err := fmt.Sscanf(value, "%o", &m); err != nil {
			return fmt.Errorf("resource: dir: invalid mode %q: %w", value, err)
		}
		d.Mode = m
		d.enforced |= DirMode
	case "present":
		d.Present = value == "1" || value == "true"
		d.presentSet = true
		d.enforced |= DirPresent
	default:
		return &ErrUnknownAttribute{Kind: KindDir, Attr: attr}
	}
	return nil
}

func (d *Dir) Match(attr, value string) bool {
	switch attr {
	case "owner":
		return d.Owner == value
	case "group":
		return d.Group == value
	default:
		return false
	}
}

func (d *Dir) Norm() error {
	if !d.presentSet {
		d.Present = true
	}
	return nil
}

func (d *Dir) Stat(env *Env) error {
	exists, mode, uid, gid, err := env.Files.Stat(d.Path)
	if err != nil {
		return fmt.Errorf("resource: dir %s: stat: %w", d.Path, err)
	}
	d.exists = exists
	d.liveMode = mode
	d.liveOwner = fmt.Sprintf("%d", uid)
	d.liveGroup = fmt.Sprintf("%d", gid)

	d.different = 0
	if d.enforced&DirPresent != 0 && exists != d.Present {
		d.different |= DirPresent
	}
	if !d.Present {
		d.different &= DirPresent
		return nil
	}
	if d.enforced&DirOwner != 0 && d.liveOwner != d.Owner {
		d.different |= DirOwner
	}
	if d.enforced&DirGroup != 0 && d.liveGroup != d.Group {
		d.different |= DirGroup
	}
	if d.enforced&DirMode != 0 && d.liveMode != d.Mode {
		d.different |= DirMode
	}
	return nil
}

func (d *Dir) Fixup(dryrun bool, env *Env) (*FixupResult, error) {
	res := &FixupResult{Compliant: d.different == 0}
	if res.Compliant {
		return res, nil
	}
	fixed := true
	for _, bit := range dirFixupOrder {
		if d.different&bit == 0 {
			continue
		}
		ok, summary := d.fixupOne(bit, dryrun, env)
		res.Actions = append(res.Actions, Action{Summary: summary, Ok: ok})
		if !ok {
			fixed = false
		}
		if bit == DirPresent && !d.Present {
			break
		}
	}
	res.Fixed = fixed
	return res, nil
}

func (d *Dir) fixupOne(bit uint32, dryrun bool, env *Env) (bool, string) {
	switch bit {
	case DirPresent:
		if !d.Present {
			summary := fmt.Sprintf("remove directory %s", d.Path)
			if dryrun {
				return true, "would " + summary
			}
			return env.Files.Remove(d.Path) == nil, summary
		}
		summary := fmt.Sprintf("create directory %s", d.Path)
		if dryrun {
			return true, "would " + summary
		}
		return env.Files.Mkdir(d.Path, d.Mode) == nil, summary
	case DirOwner, DirGroup:
		summary := fmt.Sprintf("chown %s to %s:%s", d.Path, d.Owner, d.Group)
		if dryrun {
			return true, "would " + summary
		}
		var uid, gid int
		fmt.Sscanf(d.Owner, "%d", &uid)
		fmt.Sscanf(d.Group, "%d", &gid)
		return env.Files.Chown(d.Path, uid, gid) == nil, summary
	case DirMode:
		summary := fmt.Sprintf("chmod %s to %o", d.Path, d.Mode)
		if dryrun {
			return true, "would " + summary
		}
		return env.Files.Chmod(d.Path, d.Mode) == nil, summary
	default:
		return false, "unknown attribute"
	}
}

func (d *Dir) Enforced() uint32  { return d.enforced }
func (d *Dir) Different() uint32 { return d.different }

func (d *Dir) PackedValues() []string {
	return []string{d.Owner, d.Group, fmt.Sprintf("%o", d.Mode), boolStr(d.Present)}
}

func unpackDir(id string, enforced uint32, attrs []string) (Impl, error) {
	d := &Dir{Path: id, enforced: enforced}
	d.Owner, d.Group = attrs[0], attrs[1]
	if attrs[2] != "" {
		if _, err := fmt.Sscanf(attrs[2], "%o", &d.Mode); err != nil {
			return nil, fmt.Errorf("dir: mode: %w", err)
		}
	}
	d.Present = parseBoolAttr(attrs[3])
	d.presentSet = enforced&DirPresent != 0
	return d, nil
}
