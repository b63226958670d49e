package state

import (
	"encoding/json"
	"fmt"
)

// record is the persisted form used by the Badger and Redis stores.
type record[T any] struct {
	Snapshot T    `json:"snapshot"`
	Meta     Meta `json:"meta"`
}

func encodeRecord[T any](snapshot T, meta Meta) ([]byte, error) {
	data, err := json.Marshal(record[T]{Snapshot: snapshot, Meta: meta})
	if err != nil {
		return nil, fmt.Errorf("state: encode record: %w", err)
	}
	return data, nil
}

func decodeRecord[T any](data []byte) (T, Meta, error) {
	var rec record[T]
	if err := json.Unmarshal(data, &rec); err != nil {
		var zero T
		return zero, Meta{}, fmt.Errorf("state: decode record: %w", err)
	}
	return rec.Snapshot, rec.Meta, nil
}
