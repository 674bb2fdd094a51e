package mockcam

import (
	"os"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcStats samples this process's CPU and memory use.
type ProcStats struct {
	mu   sync.Mutex
	proc *process.Process
}

// NewProcStats returns a sampler for the current process. It returns a
// sampler that always reports zero if the process cannot be inspected.
func NewProcStats() *ProcStats {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return &ProcStats{}
	}
	return &ProcStats{proc: p}
}

// Sample returns CPU percent since the previous call and resident set
// size in bytes.
func (s *ProcStats) Sample() (cpu float64, rss uint64) {
	if s == nil || s.proc == nil {
		return 0, 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if pct, err := s.proc.Percent(0); err == nil {
		cpu = pct
	}
	if mem, err := s.proc.MemoryInfo(); err == nil && mem != nil {
		rss = mem.RSS
	}
	return cpu, rss
}
