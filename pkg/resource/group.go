package resource

import (
	"fmt"
	"sort"
)

// Group attribute bits.
const (
	GroupGID uint32 = 1 << iota
	GroupMembers
	GroupPresent
)

var groupFixupOrder = []uint32{GroupPresent, GroupGID, GroupMembers}

// Group is the group resource kind, operating against the injected UserDB
// (group/gshadow).
type Group struct {
	Name string

	Present    bool
	presentSet bool
	GID        int
	Members    []string

	enforced  uint32
	different uint32

	live *GroupEntry
}

func (g *Group) Set(attr, value string) error {
	switch attr {
	case "gid":
		if _, err := fmt.Sscanf(value, "%d", &g.GID); err != nil {
			return fmt.Errorf("resource: group: invalid gid %q: %w", value, err)
		}
		g.enforced |= GroupGID
	case "members":
		g.Members = splitCSV(value)
		g.enforced |= GroupMembers
	case "present":
		g.Present = value == "1" || value == "true"
		g.presentSet = true
		g.enforced |= GroupPresent
	default:
		return &ErrUnknownAttribute{Kind: KindGroup, Attr: attr}
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	sort.Strings(out)
	return out
}

func (g *Group) Match(attr, value string) bool {
	return false
}

func (g *Group) Norm() error {
	if !g.presentSet {
		g.Present = true
	}
	return nil
}

func (g *Group) Stat(env *Env) error {
	entry, found, err := env.Users.LookupGroup(g.Name)
	if err != nil {
		return fmt.Errorf("resource: group %s: lookup: %w", g.Name, err)
	}
	g.live = entry

	g.different = 0
	if g.enforced&GroupPresent != 0 && found != g.Present {
		g.different |= GroupPresent
	}
	if !g.Present {
		g.different &= GroupPresent
		return nil
	}
	if !found {
		g.live = &GroupEntry{Name: g.Name}
		g.different = g.enforced
		return nil
	}
	if g.enforced&GroupGID != 0 && entry.GID != g.GID {
		g.different |= GroupGID
	}
	if g.enforced&GroupMembers != 0 && !sameMembers(entry.Members, g.Members) {
		g.different |= GroupMembers
	}
	return nil
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := append([]string{}, a...), append([]string{}, b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

func (g *Group) Fixup(dryrun bool, env *Env) (*FixupResult, error) {
	res := &FixupResult{Compliant: g.different == 0}
	if res.Compliant {
		return res, nil
	}
	fixed := true
	for _, bit := range groupFixupOrder {
		if g.different&bit == 0 {
			continue
		}
		ok, summary := g.fixupOne(bit, dryrun, env)
		res.Actions = append(res.Actions, Action{Summary: summary, Ok: ok})
		if !ok {
			fixed = false
		}
		if bit == GroupPresent && !g.Present {
			break
		}
	}
	res.Fixed = fixed
	return res, nil
}

func (g *Group) fixupOne(bit uint32, dryrun bool, env *Env) (bool, string) {
	entry := g.live
	if entry == nil {
		entry = &GroupEntry{Name: g.Name}
	}
	switch bit {
	case GroupPresent:
		if !g.Present {
			summary := fmt.Sprintf("delete group %s", g.Name)
			if dryrun {
				return true, "would " + summary
			}
			return env.Users.DeleteGroup(g.Name) == nil, summary
		}
		summary := fmt.Sprintf("create group %s", g.Name)
		entry.Name, entry.GID, entry.Members = g.Name, g.GID, g.Members
		if dryrun {
			return true, "would " + summary
		}
		return env.Users.PutGroup(entry) == nil, summary
	case GroupGID:
		summary := fmt.Sprintf("set gid of %s to %d", g.Name, g.GID)
		entry.GID = g.GID
		if dryrun {
			return true, "would " + summary
		}
		return env.Users.PutGroup(entry) == nil, summary
	case GroupMembers:
		summary := fmt.Sprintf("set members of %s", g.Name)
		entry.Members = g.Members
		if dryrun {
			return true, "would " + summary
		}
		return env.Users.PutGroup(entry) == nil, summary
	default:
		return false, "unknown attribute"
	}
}

func (g *Group) Enforced() uint32  { return g.enforced }
func (g *Group) Different() uint32 { return g.different }

func (g *Group) PackedValues() []string {
	return []string{fmt.Sprintf("%d", g.GID), joinCSV(g.Members), boolStr(g.Present)}
}

func unpackGroup(id string, enforced uint32, attrs []string) (Impl, error) {
	g := &Group{Name: id, enforced: enforced}
	if _, err := fmt.Sscanf(attrs[0], "%d", &g.GID); err != nil {
		return nil, fmt.Errorf("group: gid: %w", err)
	}
	if attrs[1] != "" {
		g.Members = splitCSV(attrs[1])
	}
	g.Present = parseBoolAttr(attrs[2])
	g.presentSet = enforced&GroupPresent != 0
	return g, nil
}
