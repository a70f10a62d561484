package transport

import "strings"

// MatchTopic reports whether topic matches an MQTT filter with optional
// + and # wildcards.
func MatchTopic(filter, topic string) bool {
	filters := strings.Split(filter, "/")
	names := strings.Split(topic, "/")

	for i, f := range filters {
		if f == "#" {
			return i == len(filters)-1
		}
		if f == "+" {
			if i >= len(names) {
				return false
			}
			continue
		}
		if i >= len(names) || f != names[i] {
			return false
		}
	}
	return len(filters) == len(names)
}
