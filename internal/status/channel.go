// Package status models the per-channel status reported by a controller and
// parses the reply to the status query.
package status

import (
	"strconv"
	"strings"
)

// Group is the kind of channel encoded in a ChannelID prefix.
type Group string

const (
	GroupFan    Group = "fan"
	GroupMBFan  Group = "mbfan"
	GroupSensor Group = "sensor"
)

// groups is ordered longest prefix first so "mbfan" is never read as "fan".
var groups = []struct {
	group Group
	label string
	order int
}{
	{GroupSensor, "Sensor", 2},
	{GroupMBFan, "MB Fan", 1},
	{GroupFan, "Fan", 0},
}

// Label returns a human-readable name for the group.
func (g Group) Label() string {
	for _, entry := range groups {
		if entry.group == g {
			return entry.label
		}
	}
	return "Channel"
}

// IsFan reports whether the group carries RPM and duty values.
func (g Group) IsFan() bool {
	return g == GroupFan || g == GroupMBFan
}

func (g Group) order() int {
	for _, entry := range groups {
		if entry.group == g {
			return entry.order
		}
	}
	return len(groups)
}

// ChannelID identifies one channel, e.g. "fan1", "mbfan2" or "sensor1".
type ChannelID string

// Parse splits the ID into its group and index. ok is false for IDs that do
// not belong to a tracked group or whose index is not a positive decimal
// number without sign or leading zeros. Group prefixes are case-sensitive.
func (id ChannelID) Parse() (group Group, index int, ok bool) {
	for _, entry := range groups {
		rest, found := strings.CutPrefix(string(id), string(entry.group))
		if !found {
			continue
		}
		if !isIndex(rest) {
			return "", 0, false
		}
		n, err := strconv.Atoi(rest)
		if err != nil {
			return "", 0, false
		}
		return entry.group, n, true
	}
	return "", 0, false
}

func isIndex(s string) bool {
	if s == "" || s[0] == '0' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Group returns the channel group, or "" for untracked IDs.
func (id ChannelID) Group() Group {
	g, _, _ := id.Parse()
	return g
}

// Less orders IDs by group (fan, mbfan, sensor) and then numerically by index.
// Untracked IDs sort last, by name.
func (id ChannelID) Less(other ChannelID) bool {
	g1, n1, ok1 := id.Parse()
	g2, n2, ok2 := other.Parse()
	switch {
	case ok1 && !ok2:
		return true
	case !ok1 && ok2:
		return false
	case !ok1 && !ok2:
		return id < other
	}
	if g1 != g2 {
		return g1.order() < g2.order()
	}
	return n1 < n2
}
