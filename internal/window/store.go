// Package window keeps the per-token price and volume history the
// detector scores against. One bounded window per token, created lazily
// on first sample, purged by a janitor once a token goes idle.
package window

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polyflash/internal/domain"
)

// Config tunes window sizes and the janitor.
type Config struct {
	Capacity        int           // price samples per token
	VolumeCapacity  int           // traded volumes per token
	JanitorInterval time.Duration // purge cadence
	TTL             time.Duration // idle time before a token is purged
}

func (c *Config) applyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = 30
	}
	if c.VolumeCapacity <= 0 {
		c.VolumeCapacity = 20
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = 5 * time.Minute
	}
	if c.TTL <= 0 {
		c.TTL = 10 * time.Minute
	}
}

// Observation is the atomic result of recording one sample: the
// post-update window plus the volume baseline that preceded the sample.
type Observation struct {
	// Window is a clone including the sample just recorded.
	Window *domain.TokenWindow
	// AvgVolume is the rolling average the sample's volume is compared
	// against, taken before recording. Zero without a full baseline.
	AvgVolume float64
}

// Store is the mutex-serialized window table.
type Store struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	windows map[string]*domain.TokenWindow

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewStore builds an empty store. Start launches the janitor.
func NewStore(cfg Config, logger *slog.Logger) *Store {
	cfg.applyDefaults()
	return &Store{
		cfg:     cfg,
		logger:  logger,
		windows: make(map[string]*domain.TokenWindow),
		done:    make(chan struct{}),
	}
}

// Observe records the sample (and its volume, when present) for the
// token and returns the post-update window clone together with the
// pre-update volume baseline over volumeAvgLen entries.
func (s *Store) Observe(tokenID string, sample domain.PriceSample, volumeAvgLen int) Observation {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[tokenID]
	if !ok {
		w = domain.NewTokenWindow(tokenID, s.cfg.Capacity, s.cfg.VolumeCapacity)
		s.windows[tokenID] = w
	}

	obs := Observation{AvgVolume: w.AvgRecentVolume(volumeAvgLen)}
	w.Push(sample)
	if sample.Volume > 0 {
		w.RecordVolume(sample.Volume)
	}
	obs.Window = w.Clone()
	return obs
}

// Snapshot returns a clone of the token's window, nil when untracked.
func (s *Store) Snapshot(tokenID string) *domain.TokenWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[tokenID]
	if !ok {
		return nil
	}
	return w.Clone()
}

// LastPrice returns the most recent recorded price for the token.
func (s *Store) LastPrice(tokenID string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[tokenID]
	if !ok {
		return 0, false
	}
	last, ok := w.Last()
	if !ok {
		return 0, false
	}
	return last.Price, true
}

// Tracked returns the number of tokens currently held.
func (s *Store) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Start launches the janitor loop.
func (s *Store) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.janitor(ctx)
}

// Close stops the janitor.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *Store) janitor(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if purged := s.purge(time.Now()); purged > 0 {
				s.logger.Debug("window: purged idle tokens", "purged", purged, "tracked", s.Tracked())
			}
		}
	}
}

// purge drops every token with no update within the TTL and returns how
// many were removed.
func (s *Store) purge(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for id, w := range s.windows {
		if now.Sub(w.LastUpdate) > s.cfg.TTL {
			delete(s.windows, id)
			purged++
		}
	}
	return purged
}
