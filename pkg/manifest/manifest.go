// Package manifest implements the policy compiler: an arena-owned syntax
// tree, keyed by host and policy name, and the conditional-evaluating
// compile pass that turns a tree plus a fact set into a fully dependency-
// resolved, topologically sorted *policy.Policy.
//
// The spec-file lexer and grammar that would normally produce the syntax
// tree are out of scope; Manifest trees are built programmatically (by a
// loader, or by tests) and Compile operates purely on the in-memory Node
// arena.
package manifest

import (
	"fmt"
	"strings"

	"github.com/jameshunt/clockwork/pkg/facts"
	"github.com/jameshunt/clockwork/pkg/policy"
	"github.com/jameshunt/clockwork/pkg/resource"
)

// Op tags the closed set of syntax-tree node kinds.
type Op int

const (
	// OpPolicy is a named, top-level policy block. Its Children are
	// compiled in order when the policy is applied to a host.
	OpPolicy Op = iota
	// OpResourceDecl declares one resource: Kind/ID identify it, and its
	// Children are OpAttr/OpDependency nodes.
	OpResourceDecl
	// OpAttr assigns one attribute (Name=Value) on the enclosing
	// resource declaration.
	OpAttr
	// OpDependency declares that the enclosing resource depends on the
	// resource named by Value (a "kind:id" key).
	OpDependency
	// OpIf evaluates Name (a fact key) against Value using Cond
	// ("==" or "!="), compiling Then on success and Else otherwise.
	OpIf
	// OpInclude splices another named policy's compiled output in place.
	OpInclude
)

// Node is one arena-owned syntax tree node.
type Node struct {
	Op Op

	Kind resource.Kind // OpResourceDecl
	ID   string        // OpResourceDecl, OpInclude (policy name)
	Name string        // OpAttr (attribute name), OpIf (fact name)
	Value string       // OpAttr (value), OpDependency (target key), OpIf (comparand)
	Cond string         // OpIf: "==" or "!="

	Children []*Node
	Then     []*Node
	Else     []*Node
}

// Manifest is the arena: every policy tree the compiler knows about,
// indexed by name, so that OpInclude nodes can be resolved.
type Manifest struct {
	Policies map[string]*Node
}

// New returns an empty Manifest.
func New() *Manifest {
	return &Manifest{Policies: make(map[string]*Node)}
}

// AddPolicy registers a top-level policy tree under name.
func (m *Manifest) AddPolicy(name string, root *Node) {
	m.Policies[name] = root
}

// ErrKind enumerates the compiler's closed set of failure reasons.
type ErrKind int

const (
	ErrUnknownResourceKind ErrKind = iota
	ErrUnknownAttribute
	ErrUnresolvedDependency
	ErrCyclicDependency
	ErrUnknownFact
	ErrUnknownPolicy
	ErrDuplicateResource
)

// CompileError is returned by Compile for any failure, typed so callers
// can distinguish the closed set of reasons listed by ErrKind.
type CompileError struct {
	Kind    ErrKind
	Detail  string
	Wrapped error
}

func (e *CompileError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("manifest: %s: %v", e.Detail, e.Wrapped)
	}
	return fmt.Sprintf("manifest: %s", e.Detail)
}

func (e *CompileError) Unwrap() error { return e.Wrapped }

// Compile walks the tree rooted at policyName, evaluating every OpIf node
// against facts, instantiating every OpResourceDecl, resolving every
// OpDependency against the resources produced, and returns the resulting
// policy.Policy in topologically sorted order.
func (m *Manifest) Compile(host, policyName string, set facts.Set) (*policy.Policy, error) {
	root, ok := m.Policies[policyName]
	if !ok {
		return nil, &CompileError{Kind: ErrUnknownPolicy, Detail: fmt.Sprintf("unknown policy %q", policyName)}
	}

	pol := policy.New(host)
	c := &compiler{manifest: m, facts: set, pol: pol}
	if err := c.compileNodes(root.Children); err != nil {
		return nil, err
	}
	if err := c.injectImplicitDependencies(); err != nil {
		return nil, err
	}
	if err := c.resolveDependencies(); err != nil {
		return nil, err
	}

	ordered, err := pol.TopoSort()
	if err != nil {
		var cycleErr *policy.ErrCyclicDependency
		if ok := asCycle(err, &cycleErr); ok {
			return nil, &CompileError{Kind: ErrCyclicDependency, Detail: fmt.Sprintf("cyclic dependency: %v", cycleErr.Remaining)}
		}
		return nil, err
	}
	pol.Reorder(ordered)

	return pol, nil
}

func asCycle(err error, target **policy.ErrCyclicDependency) bool {
	ce, ok := err.(*policy.ErrCyclicDependency)
	if ok {
		*target = ce
	}
	return ok
}

// compiler holds the per-Compile-call state: the manifest (for resolving
// includes), the fact set conditionals are evaluated against, the policy
// being built, and the pending dependency edges that must be resolved
// once every resource declaration has been seen (declarations may
// reference resources that appear later in the tree).
type compiler struct {
	manifest *Manifest
	facts    facts.Set
	pol      *policy.Policy

	pendingDeps []pendingDep
}

type pendingDep struct {
	from, to string
}

func (c *compiler) compileNodes(nodes []*Node) error {
	for _, n := range nodes {
		if err := c.compileNode(n); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) compileNode(n *Node) error {
	switch n.Op {
	case OpResourceDecl:
		return c.compileResource(n)
	case OpIf:
		return c.compileIf(n)
	case OpInclude:
		return c.compileInclude(n)
	default:
		return &CompileError{Kind: ErrUnknownResourceKind, Detail: fmt.Sprintf("unexpected top-level node op %d", n.Op)}
	}
}

func (c *compiler) compileResource(n *Node) error {
	if !resource.ValidKind(n.Kind) {
		return &CompileError{Kind: ErrUnknownResourceKind, Detail: fmt.Sprintf("unknown resource kind %q", n.Kind)}
	}
	r, err := resource.New(n.Kind, n.ID)
	if err != nil {
		return &CompileError{Kind: ErrUnknownResourceKind, Detail: "resource.New failed", Wrapped: err}
	}

	for _, child := range n.Children {
		switch child.Op {
		case OpAttr:
			if err := r.Set(child.Name, child.Value); err != nil {
				var unknownAttr *resource.ErrUnknownAttribute
				if asUnknownAttr(err, &unknownAttr) {
					return &CompileError{Kind: ErrUnknownAttribute, Detail: unknownAttr.Error()}
				}
				return &CompileError{Kind: ErrUnknownAttribute, Detail: "attribute set failed", Wrapped: err}
			}
		case OpDependency:
			c.pendingDeps = append(c.pendingDeps, pendingDep{from: r.Key(), to: child.Value})
		default:
			return &CompileError{Kind: ErrUnknownResourceKind, Detail: fmt.Sprintf("unexpected child op %d in resource decl", child.Op)}
		}
	}

	if fileImpl, ok := r.Impl.(*resource.File); ok {
		fileImpl.WithFacts(c.facts)
	}
	if err := r.Norm(); err != nil {
		return &CompileError{Kind: ErrUnknownAttribute, Detail: "normalization failed", Wrapped: err}
	}
	if err := c.pol.AddResource(r); err != nil {
		return &CompileError{Kind: ErrDuplicateResource, Detail: err.Error()}
	}
	return nil
}

func asUnknownAttr(err error, target **resource.ErrUnknownAttribute) bool {
	ua, ok := err.(*resource.ErrUnknownAttribute)
	if ok {
		*target = ua
	}
	return ok
}

func (c *compiler) compileIf(n *Node) error {
	actual, hasFact := c.facts[n.Name]
	if !hasFact {
		return &CompileError{Kind: ErrUnknownFact, Detail: fmt.Sprintf("unknown fact %q", n.Name)}
	}

	matched := actual == n.Value
	if n.Cond == "!=" {
		matched = !matched
	}

	branch := n.Else
	if matched {
		branch = n.Then
	}
	return c.compileNodes(branch)
}

func (c *compiler) compileInclude(n *Node) error {
	included, ok := c.manifest.Policies[n.ID]
	if !ok {
		return &CompileError{Kind: ErrUnknownPolicy, Detail: fmt.Sprintf("unknown included policy %q", n.ID)}
	}
	return c.compileNodes(included.Children)
}

// injectImplicitDependencies adds the dependency edges the spec calls for
// without an explicit OpDependency node: a file or directory resource
// depends on the user/group resources that own it (so the account exists
// before ownership is set), and a file resource depends on the directory
// resource managing its parent path, if one is compiled into the same
// policy. Edges to resources the policy doesn't itself manage are skipped
// silently -- an owner of "root" rarely has a matching user{} declaration,
// and that's fine.
func (c *compiler) injectImplicitDependencies() error {
	for _, r := range c.pol.Resources() {
		switch impl := r.Impl.(type) {
		case *resource.File:
			c.maybeDependOnOwner(r, impl.Owner, impl.Group)
			c.maybeDependOnParentDir(r, impl.Path)
		case *resource.Dir:
			c.maybeDependOnOwner(r, impl.Owner, impl.Group)
			c.maybeDependOnParentDir(r, impl.Path)
		}
	}
	return nil
}

func (c *compiler) maybeDependOnOwner(r *resource.Resource, owner, group string) {
	if owner != "" {
		if _, ok := c.pol.Resource(fmt.Sprintf("%s:%s", resource.KindUser, owner)); ok {
			c.pol.AddDependency(r.Key(), fmt.Sprintf("%s:%s", resource.KindUser, owner))
		}
	}
	if group != "" {
		if _, ok := c.pol.Resource(fmt.Sprintf("%s:%s", resource.KindGroup, group)); ok {
			c.pol.AddDependency(r.Key(), fmt.Sprintf("%s:%s", resource.KindGroup, group))
		}
	}
}

// maybeDependOnParentDir walks every ancestor of path and adds a dependency
// on the first one that is itself a compiled dir resource, matching the
// spec's "file depends on each directory resource for an ancestor path of
// its location" wording -- the nearest managed ancestor is sufficient,
// since that resource in turn depends on its own parent if managed.
func (c *compiler) maybeDependOnParentDir(r *resource.Resource, path string) {
	for dir := parentDir(path); dir != "" && dir != "/" && dir != "."; dir = parentDir(dir) {
		key := fmt.Sprintf("%s:%s", resource.KindDir, dir)
		if _, ok := c.pol.Resource(key); ok {
			c.pol.AddDependency(r.Key(), key)
			return
		}
	}
}

func parentDir(path string) string {
	i := strings.LastIndex(strings.TrimRight(path, "/"), "/")
	if i <= 0 {
		if i == 0 {
			return "/"
		}
		return ""
	}
	return path[:i]
}

func (c *compiler) resolveDependencies() error {
	for _, d := range c.pendingDeps {
		if _, ok := c.pol.Resource(d.to); !ok {
			return &CompileError{Kind: ErrUnresolvedDependency, Detail: fmt.Sprintf("resource %q depends on unknown resource %q", d.from, d.to)}
		}
		if err := c.pol.AddDependency(d.from, d.to); err != nil {
			return &CompileError{Kind: ErrUnresolvedDependency, Detail: err.Error()}
		}
	}
	return nil
}
