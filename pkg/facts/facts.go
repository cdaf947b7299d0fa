// Package facts implements Clockwork's fact set: the flat string-to-string
// key/value map an agent gathers locally and sends to the master at the
// start of a session, and the master uses to evaluate policy conditionals.
package facts

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Set is a flat fact table. Keys and values are both plain strings; there
// is no nesting and no typed values, matching the wire format.
type Set map[string]string

// Read parses a fact set from r, one fact per line in "key=value" form.
// Only the first '=' on a line splits key from value; any remaining '='
// characters are preserved in the value. Blank lines are skipped. An EOF
// encountered between lines ends parsing cleanly; any other read error is
// returned to the caller.
func Read(r io.Reader) (Set, error) {
	set := make(Set)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return nil, fmt.Errorf("facts: malformed line %q: missing '='", line)
		}
		set[line[:idx]] = line[idx+1:]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("facts: read: %w", err)
	}
	return set, nil
}

// Write serializes set to w as "key=value" lines, one fact per line, keys
// sorted in ascending Unicode code point order so that the same fact set
// always produces byte-identical output.
func Write(w io.Writer, set Set) error {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bw := bufio.NewWriter(w)
	for _, k := range keys {
		if _, err := fmt.Fprintf(bw, "%s=%s\n", k, set[k]); err != nil {
			return fmt.Errorf("facts: write: %w", err)
		}
	}
	return bw.Flush()
}

// Merge returns a new Set containing all facts from base, overridden by
// any facts present in override.
func Merge(base, override Set) Set {
	out := make(Set, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
