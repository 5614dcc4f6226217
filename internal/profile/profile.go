// Package profile exports kernel-internal statistics in the pprof wire
// format (github.com/google/pprof/profile), the same dependency the
// teacher's outer repo carries for its own build-time profiling but never
// wires into the kernel itself; this package gives it a runtime home,
// behind File, a D_PROF pseudo-file whose Read returns the encoded bytes
// (§6 "profiling hook"). Boot builds a Collector but places no such file
// in the filesystem.
package profile

import (
	"bytes"
	"fmt"

	"github.com/google/pprof/profile"

	"github.com/biscuit-go/kernel/internal/pagealloc"
	"github.com/biscuit-go/kernel/internal/proc"
)

// Collector assembles pprof profiles from the live kernel state reachable
// through a page allocator and a process table; it holds no state of its
// own beyond those two references.
type Collector struct {
	Pages *pagealloc.Allocator
	Procs *proc.Table
}

// New returns a Collector reading from pages and procs.
func New(pages *pagealloc.Allocator, procs *proc.Table) *Collector {
	return &Collector{Pages: pages, Procs: procs}
}

// MemoryProfile returns a pprof profile with a single sample reporting the
// page allocator's current used and free frame counts, both in frames, at
// one synthetic "pagealloc" location, since pprof samples are scoped to
// one call stack but this kernel core has no stack to attribute allocator
// occupancy to.
func (c *Collector) MemoryProfile() *profile.Profile {
	totalFrames, freeFrames := c.Pages.Stats()
	usedFrames := totalFrames - freeFrames

	fn := &profile.Function{ID: 1, Name: "pagealloc", SystemName: "pagealloc", Filename: "internal/pagealloc"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn, Line: 0}}}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "frames_used", Unit: "count"},
			{Type: "frames_free", Unit: "count"},
		},
		Function: []*profile.Function{fn},
		Location: []*profile.Location{loc},
		Sample: []*profile.Sample{
			{
				Location: []*profile.Location{loc},
				Value:    []int64{int64(usedFrames), int64(freeFrames)},
				Label:    map[string][]string{"zone": {"all"}},
			},
		},
		PeriodType: &profile.ValueType{Type: "space", Unit: "count"},
		Period:     1,
	}
	return p
}

// ProcessProfile returns a pprof profile with one sample per live process,
// reporting its accumulated user and system CPU time — the nanosecond
// counters internal/accnt already keeps per internal/proc.Process, here
// just reshaped into pprof's sample/location/function tables rather than
// accumulated anew.
func (c *Collector) ProcessProfile() *profile.Profile {
	procs := c.Procs.Snapshot()

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "cpu_user", Unit: "nanoseconds"},
			{Type: "cpu_sys", Unit: "nanoseconds"},
		},
		PeriodType: &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:     1,
	}

	var nextID uint64 = 1
	for _, pr := range procs {
		pid := pr.Thread.PID
		name := fmt.Sprintf("pid-%d", pid)

		fn := &profile.Function{ID: nextID, Name: name, SystemName: name}
		loc := &profile.Location{ID: nextID, Line: []profile.Line{{Function: fn, Line: 0}}}
		nextID++

		usage := pr.Thread.Accnt.ToRusage()
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(usage.UserTime), int64(usage.SysTime)},
			Label:    map[string][]string{"pid": {fmt.Sprintf("%d", pid)}},
		})
	}
	return p
}

// WriteMemoryProfile writes the gzip-compressed pprof encoding of
// MemoryProfile, the form pprof's own tooling expects to read back.
func (c *Collector) WriteMemoryProfile() ([]byte, error) {
	return encode(c.MemoryProfile())
}

// WriteProcessProfile writes the gzip-compressed pprof encoding of
// ProcessProfile.
func (c *Collector) WriteProcessProfile() ([]byte, error) {
	return encode(c.ProcessProfile())
}

func encode(p *profile.Profile) ([]byte, error) {
	if err := p.CheckValid(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
