package resource

import (
	"context"
	"fmt"
)

// Package attribute bits.
const (
	PackageVersion uint32 = 1 << iota
	PackagePresent
)

var packageFixupOrder = []uint32{PackagePresent, PackageVersion}

// Package is the native package resource kind, delegating to the injected
// PackageManager.
type Package struct {
	Name string

	Present    bool
	presentSet bool
	Version    string // empty means "latest"

	enforced  uint32
	different uint32

	liveInstalled bool
	liveVersion   string
}

func (p *Package) Set(attr, value string) error {
	switch attr {
	case "version":
		p.Version = value
		p.enforced |= PackageVersion
	case "present":
		p.Present = value == "1" || value == "true"
		p.presentSet = true
		p.enforced |= PackagePresent
	default:
		return &ErrUnknownAttribute{Kind: KindPackage, Attr: attr}
	}
	return nil
}

func (p *Package) Match(attr, value string) bool {
	if attr == "version" {
		return p.Version == value
	}
	return false
}

func (p *Package) Norm() error {
	if !p.presentSet {
		p.Present = true
	}
	return nil
}

func (p *Package) Stat(env *Env) error {
	installed, version, err := env.Packages.Query(context.Background(), p.Name)
	if err != nil {
		return fmt.Errorf("resource: package %s: query: %w", p.Name, err)
	}
	p.liveInstalled = installed
	p.liveVersion = version

	p.different = 0
	if p.enforced&PackagePresent != 0 && installed != p.Present {
		p.different |= PackagePresent
	}
	if !p.Present {
		p.different &= PackagePresent
		return nil
	}
	want := p.Version
	if want == "" {
		latest, err := env.Packages.Latest(context.Background(), p.Name)
		if err == nil {
			want = latest
		}
	}
	if p.enforced&PackageVersion != 0 && installed && version != want {
		p.different |= PackageVersion
	}
	return nil
}

func (p *Package) Fixup(dryrun bool, env *Env) (*FixupResult, error) {
	res := &FixupResult{Compliant: p.different == 0}
	if res.Compliant {
		return res, nil
	}
	fixed := true
	for _, bit := range packageFixupOrder {
		if p.different&bit == 0 {
			continue
		}
		ok, summary := p.fixupOne(bit, dryrun, env)
		res.Actions = append(res.Actions, Action{Summary: summary, Ok: ok})
		if !ok {
			fixed = false
		}
		if bit == PackagePresent && !p.Present {
			break
		}
	}
	res.Fixed = fixed
	return res, nil
}

func (p *Package) fixupOne(bit uint32, dryrun bool, env *Env) (bool, string) {
	switch bit {
	case PackagePresent:
		if !p.Present {
			summary := fmt.Sprintf("remove package %s", p.Name)
			if dryrun {
				return true, "would " + summary
			}
			return env.Packages.Remove(context.Background(), p.Name) == nil, summary
		}
		summary := fmt.Sprintf("install package %s", p.Name)
		if dryrun {
			return true, "would " + summary
		}
		return env.Packages.Install(context.Background(), p.Name, p.Version) == nil, summary
	case PackageVersion:
		summary := fmt.Sprintf("upgrade package %s to %s", p.Name, p.Version)
		if dryrun {
			return true, "would " + summary
		}
		return env.Packages.Install(context.Background(), p.Name, p.Version) == nil, summary
	default:
		return false, "unknown attribute"
	}
}

func (p *Package) Enforced() uint32  { return p.enforced }
func (p *Package) Different() uint32 { return p.different }

func (p *Package) PackedValues() []string {
	return []string{p.Version, boolStr(p.Present)}
}

func unpackPackage(id string, enforced uint32, attrs []string) (Impl, error) {
	p := &Package{Name: id, enforced: enforced, Version: attrs[0]}
	p.Present = parseBoolAttr(attrs[1])
	p.presentSet = enforced&PackagePresent != 0
	return p, nil
}
