package pdu

import (
	"bytes"
	"testing"
	"time"

	"github.com/jameshunt/clockwork/pkg/checksum"
	"github.com/jameshunt/clockwork/pkg/facts"
	"github.com/jameshunt/clockwork/pkg/policy"
	"github.com/jameshunt/clockwork/pkg/report"
	"github.com/jameshunt/clockwork/pkg/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, OpFacts, []byte("os=linux\n")))

	op, payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, OpFacts, op)
	assert.Equal(t, "os=linux\n", string(payload))
}

func TestWriteFrameRejectsOversizePayload(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, OpData, make([]byte, 0x10000))
	assert.Error(t, err)
}

func TestErrorRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteError(&buf, ErrCodeAuthFailed, "no matching certificate"))

	op, payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, OpError, op)

	code, msg, err := DecodeError(payload)
	require.NoError(t, err)
	assert.Equal(t, ErrCodeAuthFailed, code)
	assert.Equal(t, "no matching certificate", msg)
}

func TestFactsRoundTrip(t *testing.T) {
	set := facts.Set{"os": "linux", "hostname": "web01"}
	payload, err := EncodeFacts(set)
	require.NoError(t, err)

	rt, err := DecodeFacts(payload)
	require.NoError(t, err)
	assert.Equal(t, set, rt)
}

func TestPolicyRoundTrip(t *testing.T) {
	p := policy.New("web01")
	r, err := resource.New(resource.KindService, "nginx")
	require.NoError(t, err)
	require.NoError(t, p.AddResource(r))

	payload := EncodePolicy(p)
	rt, err := DecodePolicy(payload)
	require.NoError(t, err)
	assert.Equal(t, "web01", rt.Host)
	require.Len(t, rt.Resources(), 1)
	assert.Equal(t, "service:nginx", rt.Resources()[0].Key())
}

func TestFileChecksumRoundTrip(t *testing.T) {
	sum := checksum.OfBytes([]byte("hello"))
	payload := EncodeFile(sum)
	assert.Len(t, payload, 40)
	assert.Equal(t, sum, DecodeFile(payload))
}

func TestReportRoundTrip(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	job := report.NewJob(start, start.Add(time.Second), []report.Report{
		*report.NewReport("service", "nginx", true, nil),
	})

	payload := EncodeReport(job)
	rt, err := DecodeReport(payload)
	require.NoError(t, err)
	require.Len(t, rt.Reports, 1)
	assert.Equal(t, "nginx", rt.Reports[0].Key)
}
