package resource

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/jameshunt/clockwork/pkg/checksum"
	"github.com/jameshunt/clockwork/pkg/facts"
)

// File attribute bits.
const (
	FileOwner uint32 = 1 << iota
	FileGroup
	FileMode
	FileContent
	FilePresent
)

// fileFixupOrder fixes the order in which File.Fixup checks and remediates
// attributes, matching the original per-type deterministic action
// ordering: presence first (nothing else matters if the file should not
// exist), then content, then ownership, then mode.
var fileFixupOrder = []uint32{FilePresent, FileContent, FileOwner, FileGroup, FileMode}

// File is the file resource kind. It supports either a static Source path
// or a Template rendered against the compiling host's facts, but never
// both (validated in Norm) -- the superset of the two divergent upstream
// res_file variants.
type File struct {
	Path string

	Present  bool
	presentSet bool

	Owner string
	Group string
	Mode  uint32
	modeSet bool

	Source   string
	Template string
	facts    facts.Set

	enforced  uint32
	different uint32

	// wantSum is the expected content checksum, computed in Norm (for a
	// Template) or via ResolveSource (for a static Source path). content
	// holds the actual bytes once known -- either rendered directly from
	// the Template, or supplied by the agent session driver after a
	// FILE/DATA round trip keyed by wantSum.
	wantSum    checksum.Sum
	sumKnown   bool
	content    []byte
	sourceOpen bool

	// live state populated by Stat
	exists    bool
	liveOwner string
	liveGroup string
	liveMode  uint32
	liveSum   checksum.Sum
}

func (f *File) Set(attr, value string) error {
	switch attr {
	case "owner":
		f.Owner = value
		f.enforced |= FileOwner
	case "group":
		f.Group = value
		f.enforced |= FileGroup
	case "mode":
		var m uint32
		if _, err := fmt.Sscanf(value, "%o", &m); err != nil {
			return fmt.Errorf("resource: file: invalid mode %q: %w", value, err)
		}
		f.Mode = m
		f.modeSet = true
		f.enforced |= FileMode
	case "source":
		f.Source = value
		f.enforced |= FileContent
	case "template":
		f.Template = value
		f.enforced |= FileContent
	case "present":
		f.Present = value == "1" || value == "true"
		f.presentSet = true
		f.enforced |= FilePresent
	default:
		return &ErrUnknownAttribute{Kind: KindFile, Attr: attr}
	}
	return nil
}

func (f *File) Match(attr, value string) bool {
	switch attr {
	case "owner":
		return f.Owner == value
	case "group":
		return f.Group == value
	case "source":
		return f.Source == value
	case "template":
		return f.Template == value
	default:
		return false
	}
}

// WithFacts attaches the fact set used to render a Template. Called by the
// manifest compiler before Norm, since facts are only known at compile
// time.
func (f *File) WithFacts(s facts.Set) { f.facts = s }

func (f *File) Norm() error {
	if f.Source != "" && f.Template != "" {
		return fmt.Errorf("resource: file %s: source and template are mutually exclusive", f.Path)
	}
	if !f.presentSet {
		f.Present = true
	}
	if f.Template != "" {
		rendered, err := renderTemplate(f.Template, f.facts)
		if err != nil {
			return fmt.Errorf("resource: file %s: template: %w", f.Path, err)
		}
		f.content = []byte(rendered)
		f.wantSum = checksum.OfBytes(f.content)
		f.sumKnown = true
	} else if f.Source != "" {
		f.sourceOpen = true
	}
	return nil
}

// ResolveSource hashes the static Source path via read (a file-source
// tree, not the live target host) and caches the resulting checksum and
// bytes; a no-op for Template-backed resources, whose checksum is already
// known from Norm. Norm does not read a static Source, and pkg/master does
// not call ResolveSource, so a Source-backed file in a policy the master
// compiles carries no known checksum or content.
func (f *File) ResolveSource(read func(path string) ([]byte, error)) error {
	if !f.sourceOpen {
		return nil
	}
	data, err := read(f.Source)
	if err != nil {
		return fmt.Errorf("resource: file %s: resolve source %s: %w", f.Path, f.Source, err)
	}
	f.content = data
	f.wantSum = checksum.OfBytes(data)
	f.sumKnown = true
	f.sourceOpen = false
	return nil
}

// Checksum returns the expected content checksum, if known (i.e. after Norm
// for a Template, or after ResolveSource for a static Source).
func (f *File) Checksum() (checksum.Sum, bool) { return f.wantSum, f.sumKnown }

// Content returns the resource's cached content bytes, if known.
func (f *File) Content() ([]byte, bool) { return f.content, f.content != nil }

// SetContent installs content fetched from the master (via a FILE/DATA
// round trip) after verifying it hashes to the resource's expected
// checksum. Used by the agent session driver before calling Fixup on a
// file resource whose content is out of compliance.
func (f *File) SetContent(data []byte) error {
	sum := checksum.OfBytes(data)
	if !sum.Equal(f.wantSum) {
		return fmt.Errorf("resource: file %s: content checksum mismatch: got %s want %s", f.Path, sum, f.wantSum)
	}
	f.content = data
	return nil
}

func renderTemplate(text string, set facts.Set) (string, error) {
	tmpl, err := template.New("file").Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]string(set)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (f *File) Stat(env *Env) error {
	exists, mode, uid, gid, err := env.Files.Stat(f.Path)
	if err != nil {
		return fmt.Errorf("resource: file %s: stat: %w", f.Path, err)
	}
	f.exists = exists
	f.liveMode = mode
	f.liveOwner = fmt.Sprintf("%d", uid)
	f.liveGroup = fmt.Sprintf("%d", gid)

	f.different = 0
	if f.enforced&FilePresent != 0 && exists != f.Present {
		f.different |= FilePresent
	}
	if !f.Present {
		// ABSENT short-circuits every other attribute check.
		f.different &= FilePresent
		return nil
	}
	if exists {
		content, err := env.Files.ReadFile(f.Path)
		if err == nil {
			f.liveSum = checksum.OfBytes(content)
		}
	}
	if f.enforced&FileOwner != 0 && f.liveOwner != f.Owner {
		f.different |= FileOwner
	}
	if f.enforced&FileGroup != 0 && f.liveGroup != f.Group {
		f.different |= FileGroup
	}
	if f.enforced&FileMode != 0 && f.liveMode != f.Mode {
		f.different |= FileMode
	}
	if f.enforced&FileContent != 0 {
		want := f.wantSum
		// A Source that hasn't been resolved to a checksum yet (the
		// single-host case, where master and agent share a filesystem)
		// is read directly so Stat still works without a prior
		// ResolveSource call.
		if !f.sumKnown && f.Source != "" {
			if b, err := env.Files.ReadFile(f.Source); err == nil {
				want = checksum.OfBytes(b)
				f.content = b
			}
		}
		if !exists || !f.liveSum.Equal(want) {
			f.different |= FileContent
		}
	}
	return nil
}

func (f *File) Fixup(dryrun bool, env *Env) (*FixupResult, error) {
	res := &FixupResult{Compliant: f.different == 0}
	if res.Compliant {
		return res, nil
	}

	fixed := true
	for _, bit := range fileFixupOrder {
		if f.different&bit == 0 {
			continue
		}
		ok, summary := f.fixupOne(bit, dryrun, env)
		res.Actions = append(res.Actions, Action{Summary: summary, Ok: ok})
		if !ok {
			fixed = false
		}
		if bit == FilePresent && !f.Present {
			break
		}
	}
	res.Fixed = fixed
	return res, nil
}

func (f *File) fixupOne(bit uint32, dryrun bool, env *Env) (bool, string) {
	switch bit {
	case FilePresent:
		if !f.Present {
			summary := fmt.Sprintf("remove %s", f.Path)
			if dryrun {
				return true, "would " + summary
			}
			return env.Files.Remove(f.Path) == nil, summary
		}
		summary := fmt.Sprintf("create %s", f.Path)
		if dryrun {
			return true, "would " + summary
		}
		return env.Files.WriteFile(f.Path, f.content, 0644) == nil, summary
	case FileContent:
		summary := fmt.Sprintf("update content of %s", f.Path)
		if dryrun {
			return true, "would " + summary
		}
		if f.content == nil {
			return false, summary
		}
		return env.Files.WriteFile(f.Path, f.content, 0) == nil, summary
	case FileOwner, FileGroup:
		summary := fmt.Sprintf("chown %s to %s:%s", f.Path, f.Owner, f.Group)
		if dryrun {
			return true, "would " + summary
		}
		var uid, gid int
		fmt.Sscanf(f.Owner, "%d", &uid)
		fmt.Sscanf(f.Group, "%d", &gid)
		return env.Files.Chown(f.Path, uid, gid) == nil, summary
	case FileMode:
		summary := fmt.Sprintf("chmod %s to %o", f.Path, f.Mode)
		if dryrun {
			return true, "would " + summary
		}
		return env.Files.Chmod(f.Path, f.Mode) == nil, summary
	default:
		return false, "unknown attribute"
	}
}

func (f *File) Enforced() uint32  { return f.enforced }
func (f *File) Different() uint32 { return f.different }

func (f *File) PackedValues() []string {
	content := ""
	if f.sumKnown {
		content = f.wantSum.String()
	}
	return []string{
		f.Owner, f.Group, fmt.Sprintf("%o", f.Mode), f.Source, f.Template,
		content, boolStr(f.Present),
	}
}

func unpackFile(id string, enforced uint32, attrs []string) (Impl, error) {
	f := &File{Path: id, enforced: enforced}
	f.Owner, f.Group = attrs[0], attrs[1]
	if attrs[2] != "" {
		if _, err := fmt.Sscanf(attrs[2], "%o", &f.Mode); err != nil {
			return nil, fmt.Errorf("file: mode: %w", err)
		}
	}
	f.Source, f.Template = attrs[3], attrs[4]
	if attrs[5] != "" {
		f.wantSum = checksum.FromHex(attrs[5])
		f.sumKnown = true
	}
	f.Present = parseBoolAttr(attrs[6])
	f.presentSet = enforced&FilePresent != 0
	f.modeSet = enforced&FileMode != 0
	return f, nil
}
