package status

import (
	"sort"
	"time"
)

// LastUpdateKey is the name under which the poll time is reported alongside
// the channels when a snapshot is flattened.
const LastUpdateKey = "last_update"

// Snapshot is the complete status from one poll cycle. A Snapshot is never
// modified after it is built; readers may share it freely.
type Snapshot struct {
	lastUpdate int64
	channels   map[ChannelID]Reading
}

var empty = &Snapshot{channels: map[ChannelID]Reading{}}

// Empty returns the snapshot of a device that was never polled successfully.
func Empty() *Snapshot {
	return empty
}

// NewSnapshot builds a snapshot taken at t. The snapshot takes ownership of
// channels; the caller must not modify the map afterwards.
func NewSnapshot(channels map[ChannelID]Reading, t time.Time) *Snapshot {
	if channels == nil {
		channels = map[ChannelID]Reading{}
	}
	return &Snapshot{
		lastUpdate: t.Unix(),
		channels:   channels,
	}
}

// LastUpdate returns the poll time in Unix seconds and false if the device
// has not been polled yet.
func (s *Snapshot) LastUpdate() (int64, bool) {
	if s == nil || s.lastUpdate == 0 {
		return 0, false
	}
	return s.lastUpdate, true
}

// IsEmpty reports whether the snapshot holds no poll result.
func (s *Snapshot) IsEmpty() bool {
	_, ok := s.LastUpdate()
	return !ok
}

// Len returns the number of channels.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.channels)
}

// Channels returns the channel IDs in display order.
func (s *Snapshot) Channels() []ChannelID {
	if s == nil {
		return nil
	}
	ids := make([]ChannelID, 0, len(s.channels))
	for id := range s.channels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// Reading returns a copy of the reading for id.
func (s *Snapshot) Reading(id ChannelID) (Reading, bool) {
	if s == nil {
		return nil, false
	}
	r, ok := s.channels[id]
	return r.Clone(), ok
}

// Map flattens the snapshot into an independent map of channel fields plus
// the LastUpdateKey entry. An empty snapshot yields an empty map.
func (s *Snapshot) Map() map[string]any {
	m := make(map[string]any, s.Len()+1)
	if s.IsEmpty() {
		return m
	}
	for id, r := range s.channels {
		m[string(id)] = []string(r.Clone())
	}
	m[LastUpdateKey] = s.lastUpdate
	return m
}
