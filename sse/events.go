package sse

import (
	"strings"
	"time"
)

// Event types.
const (
	// EventTypeConnected is sent when a client successfully connects.
	EventTypeConnected = "connected"

	// EventTypeServiceChanged carries the diff of a watched service.
	EventTypeServiceChanged = "service.changed"

	// EventTypeConfigRefreshed carries the previous values of changed properties.
	EventTypeConfigRefreshed = "config.refreshed"
)

// Topic prefixes.
const (
	TopicService = "service:"
	TopicConfig  = "config:"
)

// ServiceTopic returns the topic of a watched service.
func ServiceTopic(name string) string { return TopicService + name }

// ConfigTopic returns the topic of a config key.
func ConfigTopic(key string) string { return TopicConfig + key }

// Event is one message on the stream.
type Event struct {
	ID    uint64    `json:"id"`
	Type  string    `json:"type"`
	Topic string    `json:"topic"`
	Data  any       `json:"data"`
	At    time.Time `json:"at"`
}

// MatchTopic reports whether filter selects topic. "" and "*" select
// everything; a trailing "*" matches any suffix.
func MatchTopic(filter, topic string) bool {
	if filter == "" || filter == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(filter, "*"); ok {
		return strings.HasPrefix(topic, prefix)
	}
	return filter == topic
}
