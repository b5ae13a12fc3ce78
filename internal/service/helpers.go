package service

import (
	"sort"

	"github.com/google/uuid"
)

func newConnID() string {
	return uuid.NewString()
}

// sortedCopy returns a sorted copy of names, or nil for an empty input, so
// handler responses are stable (channelstream's original sorts channel
// lists in connect/subscribe/unsubscribe replies the same way).
func sortedCopy(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, len(names))
	copy(out, names)
	sort.Strings(out)
	return out
}
