// Package usersink forwards bridge sync events to a go-users activity sink.
package usersink

import (
	"context"
	"slices"
	"strings"

	"github.com/goliatone/go-query-state/pkg/activity"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

// Hook records sync events as go-users activity records.
type Hook struct {
	Sink usertypes.ActivitySink
	// Verbs limits forwarding to the listed verbs. Empty forwards everything.
	Verbs []string
	// FailuresOnly forwards only passes that ended with an error.
	FailuresOnly bool
}

// Notify converts event and logs it to the sink. Events the hook filters out
// and invalid events are dropped without error.
func (h Hook) Notify(ctx context.Context, event activity.Event) error {
	if h.Sink == nil {
		return nil
	}
	record, ok := h.record(activity.NormalizeEvent(event))
	if !ok {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return h.Sink.Log(ctx, record)
}

func (h Hook) record(event activity.Event) (usertypes.ActivityRecord, bool) {
	if !event.Valid() || !h.accepts(event) {
		return usertypes.ActivityRecord{}, false
	}
	return usertypes.ActivityRecord{
		ActorID:    toUUID(event.ActorID),
		UserID:     toUUID(event.UserID),
		TenantID:   toUUID(event.TenantID),
		Verb:       event.Verb,
		ObjectType: event.ObjectType,
		ObjectID:   event.ObjectID,
		Channel:    event.Channel,
		Data:       recordData(event.Metadata),
		OccurredAt: event.OccurredAt,
	}, true
}

func (h Hook) accepts(event activity.Event) bool {
	if h.FailuresOnly {
		if _, failed := event.Metadata["error"]; !failed {
			return false
		}
	}
	if len(h.Verbs) == 0 {
		return true
	}
	return slices.ContainsFunc(h.Verbs, func(verb string) bool {
		return strings.TrimSpace(verb) == event.Verb
	})
}

// recordData flattens the synced key list so sinks that store Data as flat
// JSON columns can index it.
func recordData(metadata map[string]any) map[string]any {
	if keys, ok := metadata["keys"].([]string); ok {
		metadata["keys"] = strings.Join(keys, ",")
	}
	return metadata
}

func toUUID(value string) uuid.UUID {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil
	}
	return id
}
