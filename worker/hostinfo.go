package worker

import (
	"sync"

	linuxproc "github.com/c9s/goprocinfo/linux"
)

const procStatPath = "/proc/stat"

// cpuSampler reports host CPU utilisation for the health block. Utilisation
// is computed over the interval between two Sample calls; the first call and
// non-Linux hosts report zero.
type cpuSampler struct {
	mu       sync.Mutex
	prevBusy uint64
	prevAll  uint64
	primed   bool
}

func newCpuSampler() *cpuSampler {
	return &cpuSampler{}
}

// Sample returns utilisation in [0, 1] since the previous call.
func (s *cpuSampler) Sample() float64 {
	stat, err := linuxproc.ReadStat(procStatPath)
	if err != nil {
		return 0
	}

	c := stat.CPUStatAll
	busy := c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal
	all := busy + c.Idle + c.IOWait

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.primed || all <= s.prevAll {
		s.prevBusy, s.prevAll = busy, all
		s.primed = true
		return 0
	}

	util := float64(busy-s.prevBusy) / float64(all-s.prevAll)
	s.prevBusy, s.prevAll = busy, all

	if util < 0 {
		return 0
	}
	if util > 1 {
		return 1
	}

	return util
}
