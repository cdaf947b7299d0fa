package resource

import (
	"context"
	"fmt"
)

// Exec attribute bits.
const (
	ExecRun uint32 = 1 << iota
)

// Exec is the command-execution resource kind. It supports an optional
// Guard command (the "unless"/"onlyif" pattern from the original
// implementation's res_exec): when set, the guard runs during Stat and the
// main Command is only considered "different" if the guard exits non-zero.
type Exec struct {
	Command string
	Guard   string

	enforced  uint32
	different uint32

	guardExit int
}

func (e *Exec) Set(attr, value string) error {
	switch attr {
	case "command":
		e.Command = value
		e.enforced |= ExecRun
	case "unless", "onlyif":
		e.Guard = value
		e.enforced |= ExecRun
	default:
		return &ErrUnknownAttribute{Kind: KindExec, Attr: attr}
	}
	return nil
}

func (e *Exec) Match(attr, value string) bool { return false }

func (e *Exec) Norm() error {
	if e.Command == "" {
		return fmt.Errorf("resource: exec: command is required")
	}
	return nil
}

func (e *Exec) Stat(env *Env) error {
	e.different = 0
	if e.enforced&ExecRun == 0 {
		return nil
	}
	if e.Guard == "" {
		e.different |= ExecRun
		return nil
	}
	exitCode, _, err := env.Execer.Run(context.Background(), e.Guard)
	if err != nil {
		return fmt.Errorf("resource: exec %s: guard: %w", e.Command, err)
	}
	e.guardExit = exitCode
	if exitCode != 0 {
		e.different |= ExecRun
	}
	return nil
}

func (e *Exec) Fixup(dryrun bool, env *Env) (*FixupResult, error) {
	res := &FixupResult{Compliant: e.different == 0}
	if res.Compliant {
		return res, nil
	}
	summary := fmt.Sprintf("run %s", e.Command)
	if dryrun {
		res.Actions = append(res.Actions, Action{Summary: "would " + summary, Ok: true})
		res.Fixed = true
		return res, nil
	}
	exitCode, _, err := env.Execer.Run(context.Background(), e.Command)
	ok := err == nil && exitCode == 0
	res.Actions = append(res.Actions, Action{Summary: summary, Ok: ok})
	res.Fixed = ok
	return res, nil
}

func (e *Exec) Enforced() uint32  { return e.enforced }
func (e *Exec) Different() uint32 { return e.different }

func (e *Exec) PackedValues() []string { return []string{e.Guard} }

func unpackExec(id string, enforced uint32, attrs []string) (Impl, error) {
	return &Exec{Command: id, enforced: enforced, Guard: attrs[0]}, nil
}
