package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/divert/internal/packet"
)

type capturePort struct {
	pushed []*packet.Packet
}

func (c *capturePort) Push(p *packet.Packet) {
	c.pushed = append(c.pushed, p)
}

func makePacket(n int, ts time.Time) *packet.Packet {
	p := packet.Make(2, 0, 2046, 0)
	p.SetLen(n)
	p.Timestamp = ts
	return p
}

func TestSinkCountsAndForwards(t *testing.T) {
	next := &capturePort{}
	s := NewSink("divert0", next)

	ts := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	s.Push(makePacket(60, ts))
	s.Push(makePacket(1500, ts.Add(time.Second)))

	stats := s.Stats()
	assert.Equal(t, "divert0", stats.Element)
	assert.Equal(t, uint64(2), stats.Packets)
	assert.Equal(t, uint64(1560), stats.Bytes)
	assert.True(t, stats.LastPacket.Equal(ts.Add(time.Second)))
	require.Len(t, next.pushed, 2)

	r := Get()
	assert.Equal(t, float64(2), testutil.ToFloat64(r.PacketsTotal.WithLabelValues("divert0")))
	assert.Equal(t, float64(1560), testutil.ToFloat64(r.BytesTotal.WithLabelValues("divert0")))
}

func TestSinkTerminal(t *testing.T) {
	s := NewSink("divert1", nil)
	s.Push(makePacket(40, time.Now()))
	assert.Equal(t, uint64(1), s.Stats().Packets)
}

func TestRuleGauge(t *testing.T) {
	r := Get()
	base := testutil.ToFloat64(r.RulesInstalled)

	r.RuleInstalled()
	r.RuleInstalled()
	assert.Equal(t, base+2, testutil.ToFloat64(r.RulesInstalled))

	r.RuleRemoved()
	assert.Equal(t, base+1, testutil.ToFloat64(r.RulesInstalled))
}

func TestInstallFailureCounter(t *testing.T) {
	r := Get()
	r.RecordInstallFailure("divert2")
	assert.Equal(t, float64(1), testutil.ToFloat64(r.InstallFailures.WithLabelValues("divert2")))
}
