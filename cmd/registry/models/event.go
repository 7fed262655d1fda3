package models

import (
	"time"

	"github.com/google/uuid"
)

// PluginEventType identifies the kind of lifecycle mutation
type PluginEventType string

const (
	EventPluginCreated    PluginEventType = "plugin.created"
	EventPluginUpdated    PluginEventType = "plugin.updated"
	EventPluginDeleted    PluginEventType = "plugin.deleted"
	EventReleaseCreated   PluginEventType = "release.created"
	EventReleaseReplaced  PluginEventType = "release.replaced"
	EventReleaseDeleted   PluginEventType = "release.deleted"
	EventReleasePreferred PluginEventType = "release.preferred"
)

// PluginEvent is published on the event stream after every successful
// mutation of a plugin record
type PluginEvent struct {
	EventID   uuid.UUID       `json:"event_id"`
	Type      PluginEventType `json:"type"`
	PluginID  string          `json:"plugin_id"`
	Version   string          `json:"version,omitempty"`
	Actor     string          `json:"actor"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewPluginEvent creates an event with a fresh ID and current timestamp
func NewPluginEvent(eventType PluginEventType, pluginID, version, actor string) *PluginEvent {
	return &PluginEvent{
		EventID:   uuid.New(),
		Type:      eventType,
		PluginID:  pluginID,
		Version:   version,
		Actor:     actor,
		Timestamp: time.Now(),
	}
}
