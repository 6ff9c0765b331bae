package stats

import (
	"time"

	"github.com/google/pprof/profile"
)

// ToProfile encodes s as a pprof profile.Profile with one sample per
// counter, each carrying the counter's name as a label — not a real
// CPU/heap profile, but pprof's sample/value-type shape is a
// convenient self-describing container for a flat counter table, and
// cmd/rvstats already needs `go tool pprof`-compatible output.
func (s Snapshot) ToProfile() *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "counter", Unit: "count"}},
		TimeNanos:  time.Now().UnixNano(),
	}
	for _, f := range s.Fields() {
		p.Sample = append(p.Sample, &profile.Sample{
			Value: []int64{f.Value},
			Label: map[string][]string{"name": {f.Name}},
		})
	}
	return p
}

// FromProfile reverses ToProfile, reading each sample's "name" label
// back into a name->value map. cmd/rvstats uses this to turn a dumped
// profile back into Prometheus gauges without needing a live Table.
func FromProfile(p *profile.Profile) map[string]int64 {
	out := make(map[string]int64, len(p.Sample))
	for _, s := range p.Sample {
		if len(s.Value) == 0 {
			continue
		}
		names := s.Label["name"]
		if len(names) == 0 {
			continue
		}
		out[names[0]] = s.Value[0]
	}
	return out
}
