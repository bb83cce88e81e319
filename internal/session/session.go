// Package session owns the track/region arrangement and hands out immutable
// per-tick snapshots. The playback core only ever reads snapshots; all
// mutation goes through the Store.
package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mixxaudio/mixxcore/internal/audio"
)

// Region places a window of a decoded buffer on the timeline.
type Region struct {
	ID           string
	TrackID      string
	Name         string
	StartTime    float64 // timeline seconds
	Duration     float64 // seconds
	BufferOffset float64 // seconds into the buffer
	Gain         float64 // linear, usually 0..1
	Muted        bool
	Buffer       *audio.Buffer // shared, read-only
}

// EndTime derives the region end from the live start/duration; it is never
// cached so edits take effect on the next scheduler pass.
func (r *Region) EndTime() float64 {
	return r.StartTime + r.Duration
}

// PlayableDuration clamps the region duration to what the buffer can
// actually supply past the offset.
func (r *Region) PlayableDuration() float64 {
	if r.Buffer == nil {
		return 0
	}
	remaining := r.Buffer.Duration() - r.BufferOffset
	if remaining < 0 {
		return 0
	}
	if r.Duration < remaining {
		return r.Duration
	}
	return remaining
}

// Validate reports why a region cannot be scheduled, nil when it can.
func (r *Region) Validate() error {
	if r.Buffer == nil {
		return fmt.Errorf("region %s: no decoded buffer", r.ID)
	}
	if r.Duration <= 0 {
		return fmt.Errorf("region %s: non-positive duration %v", r.ID, r.Duration)
	}
	if r.BufferOffset < 0 {
		return fmt.Errorf("region %s: negative buffer offset %v", r.ID, r.BufferOffset)
	}
	if r.BufferOffset >= r.Buffer.Duration() {
		return fmt.Errorf("region %s: buffer offset %v past buffer end %v",
			r.ID, r.BufferOffset, r.Buffer.Duration())
	}
	return nil
}

// Track is a mixer lane holding regions.
type Track struct {
	ID     string
	Name   string
	Volume float64 // linear 0..1
	Muted  bool
}

// TrackView is one track plus its regions inside a snapshot.
type TrackView struct {
	Track
	Regions []Region
}

// Snapshot is the internally-consistent read-only view the scheduler
// evaluates each tick.
type Snapshot struct {
	Tracks []TrackView
}

// Store is the mutable arrangement.
type Store struct {
	mu      sync.RWMutex
	order   []string // track IDs in lane order
	tracks  map[string]*Track
	regions map[string][]Region // by track ID, sorted by StartTime
}

// NewStore creates an empty arrangement.
func NewStore() *Store {
	return &Store{
		tracks:  make(map[string]*Track),
		regions: make(map[string][]Region),
	}
}

// AddTrack appends a lane and returns its ID.
func (s *Store) AddTrack(name string) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.tracks[id] = &Track{ID: id, Name: name, Volume: 1.0}
	s.order = append(s.order, id)
	s.mu.Unlock()
	return id
}

// AddRegion places a buffer window on a track and returns the region ID.
func (s *Store) AddRegion(trackID string, r Region) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tracks[trackID]; !ok {
		return "", fmt.Errorf("unknown track %s", trackID)
	}
	r.ID = uuid.NewString()
	r.TrackID = trackID
	if r.Gain == 0 {
		r.Gain = 1.0
	}
	s.regions[trackID] = append(s.regions[trackID], r)
	s.sortTrack(trackID)
	return r.ID, nil
}

// SetTrackVolume clamps to [0,1].
func (s *Store) SetTrackVolume(trackID string, volume float64) {
	if volume < 0 {
		volume = 0
	} else if volume > 1 {
		volume = 1
	}
	s.mu.Lock()
	if t, ok := s.tracks[trackID]; ok {
		t.Volume = volume
	}
	s.mu.Unlock()
}

// SetTrackMuted mutes or unmutes a lane.
func (s *Store) SetTrackMuted(trackID string, muted bool) {
	s.mu.Lock()
	if t, ok := s.tracks[trackID]; ok {
		t.Muted = muted
	}
	s.mu.Unlock()
}

// SetRegionMuted mutes or unmutes one region.
func (s *Store) SetRegionMuted(regionID string, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for trackID, regions := range s.regions {
		for i := range regions {
			if regions[i].ID == regionID {
				s.regions[trackID][i].Muted = muted
				return
			}
		}
	}
}

// MoveRegion changes a region's timeline start. Callers that move regions
// behind the playhead must route the jump through the scheduler's Seek.
func (s *Store) MoveRegion(regionID string, newStart float64) {
	if newStart < 0 {
		newStart = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for trackID, regions := range s.regions {
		for i := range regions {
			if regions[i].ID == regionID {
				s.regions[trackID][i].StartTime = newStart
				s.sortTrack(trackID)
				return
			}
		}
	}
}

// RemoveRegion deletes a region.
func (s *Store) RemoveRegion(regionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for trackID, regions := range s.regions {
		for i := range regions {
			if regions[i].ID == regionID {
				s.regions[trackID] = append(regions[:i], regions[i+1:]...)
				return
			}
		}
	}
}

// Snapshot copies the arrangement into an immutable view. Region values are
// copied; the decoded buffers they point at are shared and read-only.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Tracks: make([]TrackView, 0, len(s.order))}
	for _, id := range s.order {
		t := s.tracks[id]
		view := TrackView{Track: *t}
		view.Regions = append(view.Regions, s.regions[id]...)
		snap.Tracks = append(snap.Tracks, view)
	}
	return snap
}

// Duration returns the timeline end of the last region, zero when empty.
func (s *Store) Duration() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	end := 0.0
	for _, regions := range s.regions {
		for i := range regions {
			if e := regions[i].EndTime(); e > end {
				end = e
			}
		}
	}
	return end
}

// sortTrack keeps a lane's regions ordered by start time. Must be called
// with mu held.
func (s *Store) sortTrack(trackID string) {
	regions := s.regions[trackID]
	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].StartTime < regions[j].StartTime
	})
}
