package resource

import "fmt"

// Sysctl attribute bits.
const (
	SysctlValue uint32 = 1 << iota
)

// Sysctl is the kernel parameter resource kind, delegating to the
// injected SysctlIO (/proc/sys).
type Sysctl struct {
	Param string
	Value string

	enforced  uint32
	different uint32

	liveValue string
}

func (s *Sysctl) Set(attr, value string) error {
	switch attr {
	case "value":
		s.Value = value
		s.enforced |= SysctlValue
	default:
		return &ErrUnknownAttribute{Kind: KindSysctl, Attr: attr}
	}
	return nil
}

func (s *Sysctl) Match(attr, value string) bool {
	if attr == "value" {
		return s.Value == value
	}
	return false
}

func (s *Sysctl) Norm() error { return nil }

func (s *Sysctl) Stat(env *Env) error {
	live, err := env.Sysctl.Get(s.Param)
	if err != nil {
		return fmt.Errorf("resource: sysctl %s: get: %w", s.Param, err)
	}
	s.liveValue = live

	s.different = 0
	if s.enforced&SysctlValue != 0 && live != s.Value {
		s.different |= SysctlValue
	}
	return nil
}

func (s *Sysctl) Fixup(dryrun bool, env *Env) (*FixupResult, error) {
	res := &FixupResult{Compliant: s.different == 0}
	if res.Compliant {
		return res, nil
	}
	summary := fmt.Sprintf("set %s = %s", s.Param, s.Value)
	if dryrun {
		res.Actions = append(res.Actions, Action{Summary: "would " + summary, Ok: true})
		res.Fixed = true
		return res, nil
	}
	err := env.Sysctl.Set(s.Param, s.Value)
	res.Actions = append(res.Actions, Action{Summary: summary, Ok: err == nil})
	res.Fixed = err == nil
	return res, nil
}

func (s *Sysctl) Enforced() uint32  { return s.enforced }
func (s *Sysctl) Different() uint32 { return s.different }

func (s *Sysctl) PackedValues() []string { return []string{s.Value} }

func unpackSysctl(id string, enforced uint32, attrs []string) (Impl, error) {
	return &Sysctl{Param: id, enforced: enforced, Value: attrs[0]}, nil
}
