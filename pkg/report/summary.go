// Package report turns engine statistics into the put response metadata
// and the status code of the invocation.
package report

import (
	"encoding/json"
	"strconv"

	"github.com/openfroyo/playbook-resource/pkg/engine"
	"github.com/openfroyo/playbook-resource/pkg/resource"
)

// Status codes beyond the engine exit code.
const (
	StatusOK          = 0
	StatusFailed      = 2
	StatusUnreachable = 3
)

// Summary is the outcome of a run, host by host.
type Summary struct {
	HostsAll         []string
	HostsFailed      []string
	HostsUnreachable []string

	// Aggregate counters keyed by host. Processed holds every host with
	// the value 1; the others only hold hosts with a nonzero count.
	Processed map[string]int
	Failures  map[string]int
	OK        map[string]int
	Dark      map[string]int
	Changed   map[string]int
	Skipped   map[string]int
}

// Field is one named summary entry.
type Field struct {
	Name  string
	Value any
}

// Fields returns the summary entries in their fixed order.
func (s Summary) Fields() []Field {
	return []Field{
		{"hosts_all", s.HostsAll},
		{"hosts_failed", s.HostsFailed},
		{"hosts_unreachable", s.HostsUnreachable},
		{"processed", s.Processed},
		{"failures", s.Failures},
		{"ok", s.OK},
		{"dark", s.Dark},
		{"changed", s.Changed},
		{"skipped", s.Skipped},
	}
}

// Summarize derives the failed and unreachable host sets from stats and
// copies the aggregate counters through. A host may be in both sets.
func Summarize(stats engine.Stats) Summary {
	hosts := stats.Processed()
	s := Summary{
		HostsAll:         hosts,
		HostsFailed:      []string{},
		HostsUnreachable: []string{},
		Processed:        make(map[string]int, len(hosts)),
		Failures:         map[string]int{},
		OK:               map[string]int{},
		Dark:             map[string]int{},
		Changed:          map[string]int{},
		Skipped:          map[string]int{},
	}
	if s.HostsAll == nil {
		s.HostsAll = []string{}
	}

	for _, h := range hosts {
		hs := stats.Summarize(h)
		s.Processed[h] = 1
		if hs.Failures > 0 {
			s.HostsFailed = append(s.HostsFailed, h)
		}
		if hs.Unreachable > 0 {
			s.HostsUnreachable = append(s.HostsUnreachable, h)
		}
		count(s.Failures, h, hs.Failures)
		count(s.OK, h, hs.OK)
		count(s.Dark, h, hs.Unreachable)
		count(s.Changed, h, hs.Changed)
		count(s.Skipped, h, hs.Skipped)
	}
	return s
}

func count(m map[string]int, host string, n int) {
	if n > 0 {
		m[host] = n
	}
}

// StatusCode derives the invocation status. A nonzero exit code is passed
// through unchanged. Otherwise failed hosts give 2 and unreachable hosts 3,
// unreachable winning when both are present.
func StatusCode(exitCode int, s Summary) int {
	if exitCode != 0 {
		return exitCode
	}
	status := StatusOK
	if len(s.HostsFailed) > 0 {
		status = StatusFailed
	}
	if len(s.HostsUnreachable) > 0 {
		status = StatusUnreachable
	}
	return status
}

// Encode returns the status code and the metadata list: every summary
// field in order, then a final statuscode pair.
func Encode(exitCode int, s Summary) (int, resource.Metadata) {
	status := StatusCode(exitCode, s)
	fields := s.Fields()
	md := make(resource.Metadata, 0, len(fields)+1)
	for _, f := range fields {
		md = append(md, resource.MetadataPair{Name: f.Name, Value: stringify(f.Value)})
	}
	md = append(md, resource.MetadataPair{Name: "statuscode", Value: strconv.Itoa(status)})
	return status, md
}

// stringify renders numbers in decimal, strings as is and collections as
// JSON with sorted keys.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
