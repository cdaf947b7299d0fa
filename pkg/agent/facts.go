package agent

import (
	"runtime"
	"time"

	"github.com/jameshunt/clockwork/pkg/facts"
)

// gatherFacts collects the local fact set cwa submits at the start of a
// session, standing in for the original agent's gather_facts (which ran
// an external facts-gathering script and parsed its key=value output).
// Clockwork gathers a fixed baseline itself; ExtraFacts on Config is
// where a caller layers in anything a real script would have added.
func gatherFacts(host string) facts.Set {
	return facts.Set{
		"host":     host,
		"os":       runtime.GOOS,
		"arch":     runtime.GOARCH,
		"gathered": time.Now().UTC().Format(time.RFC3339),
	}
}
