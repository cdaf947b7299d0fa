package resource

import "fmt"

// Host attribute bits.
const (
	HostAddress uint32 = 1 << iota
	HostAliases
	HostPresent
)

var hostFixupOrder = []uint32{HostPresent, HostAddress, HostAliases}

// Host is the /etc/hosts entry resource kind. It operates entirely through
// the injected Augeas interface, per the hosts lens's tree shape:
// /files/etc/hosts/N/{ipaddr,canonical,alias[n]}.
type Host struct {
	Name string

	Present    bool
	presentSet bool
	Address    string
	Aliases    []string

	enforced  uint32
	different uint32

	livePath    string
	liveAddress string
	liveAliases []string
	exists      bool
}

func (h *Host) Set(attr, value string) error {
	switch attr {
	case "address", "ip":
		h.Address = value
		h.enforced |= HostAddress
	case "aliases":
		h.Aliases = splitCSV(value)
		h.enforced |= HostAliases
	case "present":
		h.Present = value == "1" || value == "true"
		h.presentSet = true
		h.enforced |= HostPresent
	default:
		return &ErrUnknownAttribute{Kind: KindHost, Attr: attr}
	}
	return nil
}

func (h *Host) Match(attr, value string) bool {
	if attr == "address" {
		return h.Address == value
	}
	return false
}

func (h *Host) Norm() error {
	if !h.presentSet {
		h.Present = true
	}
	return nil
}

// Stat searches /files/etc/hosts/* for an entry whose canonical name is
// h.Name, per §4.4.
func (h *Host) Stat(env *Env) error {
	entries, err := env.Augeas.Match("/files/etc/hosts/*")
	if err != nil {
		return fmt.Errorf("resource: host %s: augeas match: %w", h.Name, err)
	}

	h.exists = false
	for _, path := range entries {
		canonical, ok, err := env.Augeas.Get(path + "/canonical")
		if err != nil {
			return fmt.Errorf("resource: host %s: augeas get: %w", h.Name, err)
		}
		if !ok || canonical != h.Name {
			continue
		}
		h.exists = true
		h.livePath = path
		h.liveAddress, _, _ = env.Augeas.Get(path + "/ipaddr")
		h.liveAliases = nil
		aliasPaths, err := env.Augeas.Match(path + "/alias[*]")
		if err != nil {
			return fmt.Errorf("resource: host %s: augeas match aliases: %w", h.Name, err)
		}
		for _, ap := range aliasPaths {
			if v, ok, _ := env.Augeas.Get(ap); ok {
				h.liveAliases = append(h.liveAliases, v)
			}
		}
		break
	}

	h.different = 0
	if h.enforced&HostPresent != 0 && h.exists != h.Present {
		h.different |= HostPresent
	}
	if !h.Present {
		h.different &= HostPresent
		return nil
	}
	if !h.exists {
		h.different = h.enforced
		return nil
	}
	if h.enforced&HostAddress != 0 && h.liveAddress != h.Address {
		h.different |= HostAddress
	}
	if h.enforced&HostAliases != 0 && !sameMembers(h.liveAliases, h.Aliases) {
		h.different |= HostAliases
	}
	return nil
}

func (h *Host) Fixup(dryrun bool, env *Env) (*FixupResult, error) {
	res := &FixupResult{Compliant: h.different == 0}
	if res.Compliant {
		return res, nil
	}
	fixed := true
	for _, bit := range hostFixupOrder {
		if h.different&bit == 0 {
			continue
		}
		ok, summary := h.fixupOne(bit, dryrun, env)
		res.Actions = append(res.Actions, Action{Summary: summary, Ok: ok})
		if !ok {
			fixed = false
		}
		if bit == HostPresent && !h.Present {
			break
		}
	}
	res.Fixed = fixed
	return res, nil
}

func (h *Host) fixupOne(bit uint32, dryrun bool, env *Env) (bool, string) {
	switch bit {
	case HostPresent:
		if !h.Present {
			summary := fmt.Sprintf("remove /etc/hosts entry for %s", h.Name)
			if dryrun {
				return true, "would " + summary
			}
			if h.livePath == "" {
				return true, summary
			}
			_, err := env.Augeas.Rm(h.livePath)
			return err == nil && env.Augeas.Save() == nil, summary
		}
		summary := fmt.Sprintf("add /etc/hosts entry for %s", h.Name)
		if dryrun {
			return true, "would " + summary
		}
		return h.write(env) == nil, summary
	case HostAddress, HostAliases:
		summary := fmt.Sprintf("update /etc/hosts entry for %s", h.Name)
		if dryrun {
			return true, "would " + summary
		}
		return h.write(env) == nil, summary
	default:
		return false, "unknown attribute"
	}
}

// write creates or overwrites the entry's ipaddr/canonical/alias[n] nodes
// and saves the Augeas tree.
func (h *Host) write(env *Env) error {
	path := h.livePath
	if path == "" {
		entries, err := env.Augeas.Match("/files/etc/hosts/*")
		if err != nil {
			return err
		}
		path = fmt.Sprintf("/files/etc/hosts/%02d", len(entries)+1)
		h.livePath = path
	}
	if err := env.Augeas.Set(path+"/ipaddr", h.Address); err != nil {
		return err
	}
	if err := env.Augeas.Set(path+"/canonical", h.Name); err != nil {
		return err
	}
	if _, err := env.Augeas.Rm(path + "/alias"); err != nil {
		return err
	}
	for i, alias := range h.Aliases {
		if err := env.Augeas.Set(fmt.Sprintf("%s/alias[%d]", path, i+1), alias); err != nil {
			return err
		}
	}
	return env.Augeas.Save()
}

func (h *Host) Enforced() uint32  { return h.enforced }
func (h *Host) Different() uint32 { return h.different }

func (h *Host) PackedValues() []string {
	return []string{h.Address, joinCSV(h.Aliases), boolStr(h.Present)}
}

func unpackHost(id string, enforced uint32, attrs []string) (Impl, error) {
	h := &Host{Name: id, enforced: enforced, Address: attrs[0]}
	if attrs[1] != "" {
		h.Aliases = splitCSV(attrs[1])
	}
	h.Present = parseBoolAttr(attrs[2])
	h.presentSet = enforced&HostPresent != 0
	return h, nil
}
