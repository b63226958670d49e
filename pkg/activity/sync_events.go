package activity

import (
	"strings"
	"time"
)

// Sync event verbs.
const (
	VerbSyncInitial = "querystate.sync.initial"
	VerbSyncForward = "querystate.sync.forward"
	VerbSyncReverse = "querystate.sync.reverse"
)

// ObjectTypeBridge is the object type of every sync event.
const ObjectTypeBridge = "querystate.bridge"

// SyncEventInput describes one sync pass performed by a bridge.
type SyncEventInput struct {
	ActorID    string
	UserID     string
	TenantID   string
	BridgeID   string
	App        string
	Channel    string
	Keys       []string
	Version    uint64
	Err        error
	Metadata   map[string]any
	OccurredAt time.Time
}

// BuildInitialSyncEvent describes the reconciliation run when a bridge connects.
func BuildInitialSyncEvent(input SyncEventInput) Event {
	return buildSyncEvent(VerbSyncInitial, input)
}

// BuildForwardSyncEvent describes a service → container write.
func BuildForwardSyncEvent(input SyncEventInput) Event {
	return buildSyncEvent(VerbSyncForward, input)
}

// BuildReverseSyncEvent describes a container → services pass.
func BuildReverseSyncEvent(input SyncEventInput) Event {
	return buildSyncEvent(VerbSyncReverse, input)
}

func buildSyncEvent(verb string, input SyncEventInput) Event {
	metadata := cloneMap(input.Metadata)
	if len(input.Keys) > 0 {
		metadata = ensureMetadata(metadata)
		metadata["keys"] = append([]string{}, input.Keys...)
	}
	if app := strings.TrimSpace(input.App); app != "" {
		metadata = ensureMetadata(metadata)
		metadata["app"] = app
	}
	if input.Version > 0 {
		metadata = ensureMetadata(metadata)
		metadata["version"] = input.Version
	}
	if input.Err != nil {
		metadata = ensureMetadata(metadata)
		metadata["error"] = input.Err.Error()
	}

	objectID := strings.TrimSpace(input.BridgeID)
	if objectID == "" {
		objectID = ObjectTypeBridge
	}

	return Event{
		Verb:       verb,
		ActorID:    strings.TrimSpace(input.ActorID),
		UserID:     strings.TrimSpace(input.UserID),
		TenantID:   strings.TrimSpace(input.TenantID),
		ObjectType: ObjectTypeBridge,
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(input.Channel),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
