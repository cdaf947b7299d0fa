package policy

import (
	"fmt"
	"strings"

	"github.com/jameshunt/clockwork/pkg/packer"
	"github.com/jameshunt/clockwork/pkg/resource"
)

const policyPrefix = "policy::"
const policyFormat = "a"

const depPrefix = "dep::"
const depFormat = "aa"

// Pack serializes the policy to the line sequence PDU.POLICY carries: a
// header line naming the host, then one resource.Resource.Pack line per
// resource in the policy's current order, then one dependency line per
// recorded edge.
func (p *Policy) Pack() []string {
	lines := make([]string, 0, 1+len(p.order)+len(p.deps))
	lines = append(lines, packer.Pack(policyPrefix, policyFormat, p.Host))
	for _, r := range p.Resources() {
		lines = append(lines, r.Pack())
	}
	for _, d := range p.deps {
		lines = append(lines, packer.Pack(depPrefix, depFormat, d.A, d.B))
	}
	return lines
}

// Unpack reconstructs a Policy from the line sequence produced by Pack.
// Resource lines are dispatched to resource.Unpack by the kind named in
// each line's "res_<kind>::" prefix.
func Unpack(lines []string) (*Policy, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("policy: unpack: no lines")
	}
	vals, err := packer.Unpack(lines[0], policyPrefix, policyFormat)
	if err != nil {
		return nil, fmt.Errorf("policy: unpack header: %w", err)
	}
	p := New(vals[0].(string))

	i := 1
	for ; i < len(lines); i++ {
		line := lines[i]
		if strings.HasPrefix(line, depPrefix) {
			break
		}
		kind, err := resourceKindOf(line)
		if err != nil {
			return nil, err
		}
		r, err := resource.Unpack(kind, line)
		if err != nil {
			return nil, fmt.Errorf("policy: unpack resource: %w", err)
		}
		if err := p.AddResource(r); err != nil {
			return nil, err
		}
	}
	for ; i < len(lines); i++ {
		vals, err := packer.Unpack(lines[i], depPrefix, depFormat)
		if err != nil {
			return nil, fmt.Errorf("policy: unpack dependency: %w", err)
		}
		if err := p.AddDependency(vals[0].(string), vals[1].(string)); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// resourceKindOf extracts the kind named by a packed resource line's
// "res_<kind>::" prefix without needing to know the kind in advance.
func resourceKindOf(line string) (resource.Kind, error) {
	const p = "res_"
	if !strings.HasPrefix(line, p) {
		return "", fmt.Errorf("policy: unpack: line is not a resource: %q", line)
	}
	rest := line[len(p):]
	idx := strings.Index(rest, "::")
	if idx < 0 {
		return "", fmt.Errorf("policy: unpack: malformed resource line: %q", line)
	}
	kind := resource.Kind(rest[:idx])
	if !resource.ValidKind(kind) {
		return "", fmt.Errorf("policy: unpack: unknown resource kind %q", kind)
	}
	return kind, nil
}
