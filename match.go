package fanout

import "strings"

// MatchTopic returns true if the subscription pattern matches the event
// topic. Two forms are supported: exact equality, or the topic's namespace
// wildcard; ie. pattern "inventory.*" matches topic "inventory.low_stock".
// There is no nested wildcard or multi-level globbing, so "inventory.*" does
// not match "warehouse.inventory.low_stock".
func MatchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	return pattern == Wildcard(topic)
}

// Wildcard returns the single wildcard pattern that matches the topic; the
// topic's first dot-separated segment followed by ".*". The first segment of
// a dot-free topic is the whole topic.
func Wildcard(topic string) string {
	ns, _, found := strings.Cut(topic, ".")
	if !found {
		ns = topic
	}
	return ns + ".*"
}
