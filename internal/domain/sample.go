package domain

import "time"

// PriceSample is one observed tick for a token. Volume, BestBid and BestAsk
// are optional; zero means the originating feed event did not carry them.
type PriceSample struct {
	Price     float64
	Volume    float64
	BestBid   float64
	BestAsk   float64
	Timestamp time.Time
}

// HasBook reports whether the sample carries top-of-book quotes.
func (s PriceSample) HasBook() bool {
	return s.BestBid > 0 && s.BestAsk > 0
}

// TokenWindow holds the recent activity for one token: a bounded FIFO of
// price samples plus a shorter bounded FIFO of traded volumes used for
// spike baselining. Once a buffer is full the oldest entry is evicted.
// Not safe for concurrent use; the window store serializes access.
type TokenWindow struct {
	TokenID    string
	Samples    []PriceSample
	Volumes    []float64
	LastUpdate time.Time

	capacity  int
	volumeCap int
}

// NewTokenWindow creates an empty window with the given buffer capacities.
func NewTokenWindow(tokenID string, capacity, volumeCap int) *TokenWindow {
	return &TokenWindow{
		TokenID:   tokenID,
		Samples:   make([]PriceSample, 0, capacity),
		Volumes:   make([]float64, 0, volumeCap),
		capacity:  capacity,
		volumeCap: volumeCap,
	}
}

// Push appends a sample, evicting the oldest when the buffer is full.
func (w *TokenWindow) Push(s PriceSample) {
	if len(w.Samples) == w.capacity {
		copy(w.Samples, w.Samples[1:])
		w.Samples[len(w.Samples)-1] = s
	} else {
		w.Samples = append(w.Samples, s)
	}
	w.LastUpdate = s.Timestamp
}

// RecordVolume appends a traded volume, evicting the oldest when full.
func (w *TokenWindow) RecordVolume(v float64) {
	if len(w.Volumes) == w.volumeCap {
		copy(w.Volumes, w.Volumes[1:])
		w.Volumes[len(w.Volumes)-1] = v
		return
	}
	w.Volumes = append(w.Volumes, v)
}

// Len returns the number of stored samples.
func (w *TokenWindow) Len() int {
	return len(w.Samples)
}

// Last returns the most recent sample.
func (w *TokenWindow) Last() (PriceSample, bool) {
	if len(w.Samples) == 0 {
		return PriceSample{}, false
	}
	return w.Samples[len(w.Samples)-1], true
}

// OldestWithin returns the oldest sample no older than maxAge relative to
// now. Used as the baseline for velocity (wide window) and micro-velocity
// (sub-second window).
func (w *TokenWindow) OldestWithin(now time.Time, maxAge time.Duration) (PriceSample, bool) {
	cutoff := now.Add(-maxAge)
	for _, s := range w.Samples {
		if !s.Timestamp.Before(cutoff) {
			return s, true
		}
	}
	return PriceSample{}, false
}

// LastK returns up to the k most recent samples, oldest first.
// The returned slice aliases the window buffer.
func (w *TokenWindow) LastK(k int) []PriceSample {
	if k <= 0 || len(w.Samples) == 0 {
		return nil
	}
	if k > len(w.Samples) {
		k = len(w.Samples)
	}
	return w.Samples[len(w.Samples)-k:]
}

// Span returns the time covered between the oldest and newest samples.
func (w *TokenWindow) Span() time.Duration {
	if len(w.Samples) < 2 {
		return 0
	}
	return w.Samples[len(w.Samples)-1].Timestamp.Sub(w.Samples[0].Timestamp)
}

// AvgRecentVolume returns the average of up to the k most recent volumes.
// Returns 0 with fewer than k recorded volumes.
func (w *TokenWindow) AvgRecentVolume(k int) float64 {
	if k <= 0 || len(w.Volumes) < k {
		return 0
	}
	sum := 0.0
	for _, v := range w.Volumes[len(w.Volumes)-k:] {
		sum += v
	}
	return sum / float64(k)
}

// Clone returns a deep copy safe to read outside the store lock.
func (w *TokenWindow) Clone() *TokenWindow {
	c := &TokenWindow{
		TokenID:    w.TokenID,
		Samples:    make([]PriceSample, len(w.Samples)),
		Volumes:    make([]float64, len(w.Volumes)),
		LastUpdate: w.LastUpdate,
		capacity:   w.capacity,
		volumeCap:  w.volumeCap,
	}
	copy(c.Samples, w.Samples)
	copy(c.Volumes, w.Volumes)
	return c
}
