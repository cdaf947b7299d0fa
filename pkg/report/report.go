// Package report implements Clockwork's job/report/action model: the
// durable record of one enforcement run, assembled by the agent session
// driver and carried to the master over PDU.REPORT, then persisted by
// pkg/reportstore on both ends.
package report

import (
	"fmt"
	"time"

	"github.com/jameshunt/clockwork/pkg/packer"
)

// ActionResult is the closed outcome set for a single remediation action.
type ActionResult int

const (
	ActionSucceeded ActionResult = iota
	ActionFailed
	ActionSkipped
)

func (r ActionResult) String() string {
	switch r {
	case ActionSucceeded:
		return "succeeded"
	case ActionFailed:
		return "failed"
	case ActionSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Action is one human-readable remediation step taken (or skipped) against
// a single resource.
type Action struct {
	Summary string
	Result  ActionResult
}

// Report is the durable record of a single resource's remediation during a
// run. Compliant and Fixed are never assigned directly by callers: NewReport
// derives them from Actions, per the invariant in §3 -- compliant is the
// absence of any failed action, fixed is the presence of at least one
// succeeded action on a resource that started non-compliant.
type Report struct {
	Kind string
	Key  string

	Compliant bool
	Fixed     bool

	Actions []Action
}

// NewReport builds a Report from a resource's identity, whether it was
// already compliant before any action ran, and the actions taken.
// wasCompliant true with zero actions always reports Compliant=true,
// Fixed=false.
func NewReport(kind, key string, wasCompliant bool, actions []Action) *Report {
	r := &Report{Kind: kind, Key: key, Actions: actions}
	r.Compliant = true
	for _, a := range actions {
		if a.Result == ActionFailed {
			r.Compliant = false
		}
	}
	if !wasCompliant {
		for _, a := range actions {
			if a.Result == ActionSucceeded {
				r.Fixed = true
				break
			}
		}
	}
	return r
}

// Job is a single enforcement run: the reports for every resource in a
// compiled policy, plus overall timing.
type Job struct {
	Start   time.Time
	End     time.Time
	Reports []Report
}

// NewJob assembles a Job from its boundary times and the reports collected
// during the run.
func NewJob(start, end time.Time, reports []Report) *Job {
	return &Job{Start: start, End: end, Reports: reports}
}

// Duration returns the job's wall-clock run time.
func (j *Job) Duration() time.Duration { return j.End.Sub(j.Start) }

const jobPrefix = "job::"

// jobFormat packs start/end as Unix-seconds L fields and the report count
// as an L field; the reports and actions themselves are packed as separate
// lines (see PackReport/PackAction) since their count is variable and the
// packer format string is fixed-length by construction.
const jobFormat = "LLL"

// Pack serializes the job's timing header to a single packed line. The
// reports and their actions are packed independently via PackReport/
// PackAction, mirroring the three-table shape of the report store (jobs,
// resources, actions): a Job's wire representation is the header line
// followed by one PackReport line per report and one PackAction line per
// action within each report, in order.
func (j *Job) Pack() string {
	return packer.Pack(jobPrefix, jobFormat,
		uint32(j.Start.Unix()), uint32(j.End.Unix()), uint32(len(j.Reports)))
}

// JobHeader is the decoded form of Job.Pack's header line: the job's
// boundary times and how many report lines follow it on the wire.
type JobHeader struct {
	Start       time.Time
	End         time.Time
	ReportCount int
}

// UnpackJobHeader decodes a line produced by Job.Pack.
func UnpackJobHeader(packed string) (*JobHeader, error) {
	vals, err := packer.Unpack(packed, jobPrefix, jobFormat)
	if err != nil {
		return nil, fmt.Errorf("report: unpack job header: %w", err)
	}
	start := vals[0].(uint32)
	end := vals[1].(uint32)
	count := vals[2].(uint32)
	return &JobHeader{
		Start:       time.Unix(int64(start), 0).UTC(),
		End:         time.Unix(int64(end), 0).UTC(),
		ReportCount: int(count),
	}, nil
}

const reportPrefix = "report::"
const reportFormat = "aaSSL"

// PackReport serializes one report's header line: kind, key, compliant,
// fixed, and the number of action lines that follow it on the wire.
func (r *Report) PackReport() string {
	return packer.Pack(reportPrefix, reportFormat,
		r.Kind, r.Key, r.Compliant, r.Fixed, uint32(len(r.Actions)))
}

// ReportHeader is the decoded form of Report.PackReport.
type ReportHeader struct {
	Kind        string
	Key         string
	Compliant   bool
	Fixed       bool
	ActionCount int
}

// UnpackReportHeader decodes a line produced by Report.PackReport.
func UnpackReportHeader(packed string) (*ReportHeader, error) {
	vals, err := packer.Unpack(packed, reportPrefix, reportFormat)
	if err != nil {
		return nil, fmt.Errorf("report: unpack report header: %w", err)
	}
	return &ReportHeader{
		Kind:        vals[0].(string),
		Key:         vals[1].(string),
		Compliant:   vals[2].(uint16) != 0,
		Fixed:       vals[3].(uint16) != 0,
		ActionCount: int(vals[4].(uint32)),
	}, nil
}

const actionPrefix = "action::"
const actionFormat = "aC"

// resultCodes maps ActionResult to its packed byte, kept distinct from the
// enum's own int values so the wire format doesn't silently change meaning
// if the Go enum is ever reordered.
var resultCodes = map[ActionResult]uint8{
	ActionSucceeded: 0,
	ActionFailed:    1,
	ActionSkipped:   2,
}

var resultFromCode = map[uint8]ActionResult{
	0: ActionSucceeded,
	1: ActionFailed,
	2: ActionSkipped,
}

// PackAction serializes one action.
func (a *Action) PackAction() string {
	return packer.Pack(actionPrefix, actionFormat, a.Summary, resultCodes[a.Result])
}

// UnpackAction decodes a line produced by Action.PackAction.
func UnpackAction(packed string) (*Action, error) {
	vals, err := packer.Unpack(packed, actionPrefix, actionFormat)
	if err != nil {
		return nil, fmt.Errorf("report: unpack action: %w", err)
	}
	code := vals[1].(uint8)
	result, ok := resultFromCode[code]
	if !ok {
		return nil, fmt.Errorf("report: unpack action: unknown result code %d", code)
	}
	return &Action{Summary: vals[0].(string), Result: result}, nil
}

// Lines flattens a Job into the ordered sequence of packed lines its wire
// representation is made of: the job header, then for each report its
// header followed immediately by its actions. This is the shape
// PDU.REPORT transmits; pkg/reportstore.InsertJob takes the *Job itself.
func (j *Job) Lines() []string {
	lines := make([]string, 0, 1+len(j.Reports))
	lines = append(lines, j.Pack())
	for _, r := range j.Reports {
		lines = append(lines, r.PackReport())
		for _, a := range r.Actions {
			lines = append(lines, a.PackAction())
		}
	}
	return lines
}

// ParseLines reconstructs a Job from the flattened line sequence produced
// by Lines.
func ParseLines(lines []string) (*Job, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("report: parse: no lines")
	}
	header, err := UnpackJobHeader(lines[0])
	if err != nil {
		return nil, err
	}
	job := &Job{Start: header.Start, End: header.End}
	i := 1
	for r := 0; r < header.ReportCount; r++ {
		if i >= len(lines) {
			return nil, fmt.Errorf("report: parse: truncated report %d", r)
		}
		rh, err := UnpackReportHeader(lines[i])
		if err != nil {
			return nil, err
		}
		i++
		rep := Report{Kind: rh.Kind, Key: rh.Key, Compliant: rh.Compliant, Fixed: rh.Fixed}
		for a := 0; a < rh.ActionCount; a++ {
			if i >= len(lines) {
				return nil, fmt.Errorf("report: parse: truncated action %d of report %d", a, r)
			}
			act, err := UnpackAction(lines[i])
			if err != nil {
				return nil, err
			}
			rep.Actions = append(rep.Actions, *act)
			i++
		}
		job.Reports = append(job.Reports, rep)
	}
	return job, nil
}
