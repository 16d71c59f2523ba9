package status

import (
	"strings"
	"unicode/utf8"
)

// Parse parses the multi-line reply to the status query. Each line is
// "<channel>,<field>,..."; lines with fewer than two fields or that are not
// valid UTF-8 (line noise, wrong baud rate) are dropped and counted in
// malformed.
func Parse(reply string) (channels map[ChannelID]Reading, malformed int) {
	channels = make(map[ChannelID]Reading)
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !utf8.ValidString(line) {
			malformed++
			continue
		}

		fields := SplitFields(line)
		if len(fields) < 2 {
			malformed++
			continue
		}

		id := ChannelID(strings.TrimSpace(fields[0]))
		if id == "" {
			malformed++
			continue
		}
		channels[id] = Reading(fields[1:])
	}
	return channels, malformed
}

// SplitFields splits a status line on commas. Commas inside double quotes do
// not split, and quotes are kept in the field.
func SplitFields(line string) []string {
	var (
		fields  []string
		start   int
		inQuote bool
	)
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				fields = append(fields, line[start:i])
				start = i + 1
			}
		}
	}
	return append(fields, line[start:])
}
