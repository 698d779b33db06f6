package internal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultSweepInterval = time.Hour
	defaultWarnAfter     = 5 * 24 * time.Hour
	defaultArchiveAfter  = 7 * 24 * time.Hour
)

// SweeperConfig sets the inactivity thresholds. Zero values take defaults.
type SweeperConfig struct {
	Interval     time.Duration
	WarnAfter    time.Duration
	ArchiveAfter time.Duration
}

// SweepReport lists what a single pass did.
type SweepReport struct {
	Warned   []string
	Archived []string
	Skipped  bool
}

// Sweeper warns idle rooms and archives rooms idle past the archive
// threshold.
type Sweeper struct {
	hub    *Hub
	config SweeperConfig

	running atomic.Bool

	mu        sync.Mutex
	isRunning bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewSweeper(hub *Hub, config SweeperConfig) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = defaultSweepInterval
	}
	if config.WarnAfter <= 0 {
		config.WarnAfter = defaultWarnAfter
	}
	if config.ArchiveAfter <= 0 {
		config.ArchiveAfter = defaultArchiveAfter
	}
	return &Sweeper{hub: hub, config: config}
}

// Start runs a sweep on every tick until ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()
		slog.Info("sweeper started",
			"interval", s.config.Interval,
			"warn_after", s.config.WarnAfter,
			"archive_after", s.config.ArchiveAfter)
		for {
			select {
			case <-ticker.C:
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					s.Sweep(ctx)
				}()
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the ticker loop and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
	slog.Info("sweeper stopped")
}

// Sweep makes one pass over every live room. Concurrent calls are skipped.
func (s *Sweeper) Sweep(ctx context.Context) SweepReport {
	if !s.running.CompareAndSwap(false, true) {
		s.hub.metrics.IncSkippedSweep()
		slog.Warn("sweep skipped, previous sweep still running")
		return SweepReport{Skipped: true}
	}
	defer s.running.Store(false)

	var report SweepReport
	hub := s.hub
	for _, room := range hub.snapshotRooms() {
		room.mu.Lock()
		if room.archived {
			room.mu.Unlock()
			continue
		}
		now := hub.now()
		idle := now.Sub(room.lastActiveAt)
		switch {
		case idle > s.config.ArchiveAfter:
			hub.archiveLocked(ctx, room)
			report.Archived = append(report.Archived, room.name)
		case idle > s.config.WarnAfter && !room.warned:
			room.warned = true
			notice := "This room has been inactive for a while and will be archived unless someone posts soon."
			room.broadcastLocked(encodeEvent(systemEvent(room.name, notice, now)), nil)
			hub.metrics.IncWarning()
			report.Warned = append(report.Warned, room.name)
		}
		room.mu.Unlock()
	}
	if len(report.Archived) > 0 {
		hub.broadcastRoomList()
	}
	if len(report.Warned) > 0 || len(report.Archived) > 0 {
		slog.Info("sweep finished", "warned", len(report.Warned), "archived", len(report.Archived))
	}
	return report
}
