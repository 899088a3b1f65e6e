// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package hoststats periodically samples host and process resource usage
// via gopsutil. The sampler runs in the background; INFO does not report
// its samples.
package hoststats

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is the most recent sample of host/process resource usage.
type Snapshot struct {
	RSSBytes      uint64
	SystemMemUsed float64 // percent
	CPUPercent    float64 // host-wide CPU usage percent since last sample
}

// Sampler holds the latest Snapshot, refreshed on a timer by Run.
type Sampler struct {
	proc    *process.Process
	current atomic.Pointer[Snapshot]
}

// New builds a Sampler bound to the current process.
func New(pid int32) (*Sampler, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}
	s := &Sampler{proc: p}
	s.current.Store(&Snapshot{})
	return s, nil
}

// Current returns the most recently collected Snapshot.
func (s *Sampler) Current() Snapshot {
	return *s.current.Load()
}

// Run samples on interval until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	snap := Snapshot{}

	if mi, err := s.proc.MemoryInfo(); err == nil && mi != nil {
		snap.RSSBytes = mi.RSS
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.SystemMemUsed = vm.UsedPercent
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		snap.CPUPercent = pct[0]
	}

	s.current.Store(&snap)
}
