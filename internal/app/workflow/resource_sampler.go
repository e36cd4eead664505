package workflow

import (
	"os"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

// ResourceSampler stamps Metrics.CPUPercent/MemoryBytes onto a terminal
// execution record from the current process's own resource usage, since an
// adapter's remote engine runs out-of-process and the core cannot otherwise
// attribute CPU/memory to a single execution. A process-wide sample is the
// best attribution available for work handled on this host (the script
// engine adapter). Every terminal record is sampled this way, remote-engine
// executions included; Worker.finish copies only NetworkCalls from an
// adapter's ExecutionResult.Metrics.
type ResourceSampler struct {
	once sync.Once
	proc *process.Process
	err  error
}

// NewResourceSampler builds a sampler bound to the current process.
func NewResourceSampler() *ResourceSampler {
	return &ResourceSampler{}
}

func (r *ResourceSampler) self() (*process.Process, error) {
	r.once.Do(func() {
		r.proc, r.err = process.NewProcess(int32(os.Getpid()))
	})
	return r.proc, r.err
}

// Sample fills in rec.Metrics.CPUPercent and rec.Metrics.MemoryBytes in
// place, leaving them untouched (zero) if sampling fails; a sampling failure
// is never fatal to an otherwise-terminal execution.
func (r *ResourceSampler) Sample(rec *ExecutionRecord) {
	proc, err := r.self()
	if err != nil {
		return
	}
	if pct, err := proc.CPUPercent(); err == nil {
		rec.Metrics.CPUPercent = pct
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		rec.Metrics.MemoryBytes = mem.RSS
	}
}
