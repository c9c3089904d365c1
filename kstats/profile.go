package kstats

import (
	"io"

	"github.com/google/pprof/profile"
)

// WriteProfile serializes the kernel counters as a pprof profile so they
// can be inspected with `go tool pprof` instead of the ad hoc
// Stats2String dump. Each counter becomes a zero-location sample labeled
// with its field name; the values all read zero while Enabled is false,
// same as Stats2String.
func WriteProfile(w io.Writer) error {
	st := &Kernel
	names, values := countersOf(st)

	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "count", Unit: "count"}},
		Sample:     make([]*profile.Sample, 0, len(names)),
	}
	for i, n := range names {
		p.Sample = append(p.Sample, &profile.Sample{
			Value: []int64{values[i]},
			Label: map[string][]string{"counter": {n}},
		})
	}
	return p.Write(w)
}
