package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/playbook-resource/pkg/engine"
)

func testStats() *engine.RunStats {
	s := engine.NewRunStats()
	s.Record("web1", engine.HostStats{OK: 3, Changed: 1})
	s.Record("web2", engine.HostStats{OK: 1, Failures: 1, Skipped: 2})
	s.Record("db1", engine.HostStats{Unreachable: 1})
	return s
}

func TestSummarize(t *testing.T) {
	s := Summarize(testStats())

	assert.Equal(t, []string{"db1", "web1", "web2"}, s.HostsAll)
	assert.Equal(t, []string{"web2"}, s.HostsFailed)
	assert.Equal(t, []string{"db1"}, s.HostsUnreachable)
	assert.Equal(t, map[string]int{"db1": 1, "web1": 1, "web2": 1}, s.Processed)
	assert.Equal(t, map[string]int{"web1": 3, "web2": 1}, s.OK)
	assert.Equal(t, map[string]int{"db1": 1}, s.Dark)
	assert.Equal(t, map[string]int{"web2": 1}, s.Failures)
	assert.Equal(t, map[string]int{"web1": 1}, s.Changed)
	assert.Equal(t, map[string]int{"web2": 2}, s.Skipped)
}

func TestSummarizeHostInBothSets(t *testing.T) {
	stats := engine.NewRunStats()
	stats.Record("h1", engine.HostStats{Failures: 1, Unreachable: 1})

	s := Summarize(stats)
	assert.Equal(t, []string{"h1"}, s.HostsFailed)
	assert.Equal(t, []string{"h1"}, s.HostsUnreachable)
}

func TestStatusCodeTable(t *testing.T) {
	tests := []struct {
		name        string
		exitCode    int
		failed      []string
		unreachable []string
		want        int
	}{
		{"clean run", 0, nil, nil, 0},
		{"failed host", 0, []string{"h1"}, nil, 2},
		{"unreachable host", 0, nil, []string{"h2"}, 3},
		{"unreachable wins", 0, []string{"h1"}, []string{"h2"}, 3},
		{"engine error", 1, nil, nil, 1},
		{"engine error ignores hosts", 5, []string{"h1"}, []string{"h2"}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summary{HostsFailed: tt.failed, HostsUnreachable: tt.unreachable}
			status, md := Encode(tt.exitCode, s)
			assert.Equal(t, tt.want, status)

			last := md[len(md)-1]
			assert.Equal(t, "statuscode", last.Name)
			assert.Equal(t, itoa(tt.want), last.Value)
		})
	}
}

func TestEncodeMetadataOrder(t *testing.T) {
	status, md := Encode(0, Summarize(testStats()))
	require.Equal(t, 3, status)

	names := make([]string, 0, len(md))
	for _, p := range md {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{
		"hosts_all", "hosts_failed", "hosts_unreachable", "processed",
		"failures", "ok", "dark", "changed", "skipped", "statuscode",
	}, names)

	v, _ := md.Get("hosts_all")
	assert.Equal(t, `["db1","web1","web2"]`, v)
	v, _ = md.Get("ok")
	assert.Equal(t, `{"web1":3,"web2":1}`, v)
	v, _ = md.Get("statuscode")
	assert.Equal(t, "3", v)
}

func TestEncodeEmptyStats(t *testing.T) {
	status, md := Encode(1, Summarize(engine.NewRunStats()))
	assert.Equal(t, 1, status)

	v, _ := md.Get("hosts_all")
	assert.Equal(t, "[]", v)
	v, _ = md.Get("processed")
	assert.Equal(t, "{}", v)
}

func itoa(n int) string {
	return stringify(n)
}
