// README: Firebase Realtime Database mirror of provider positions, read
// directly by the requester app to animate the provider marker.
package location

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/db"
)

const rtdbProviderNode = "provider_locations"

// rtdbEntry mirrors a single provider entry under /provider_locations.
type rtdbEntry struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Timestamp int64   `json:"timestamp"`
}

type RTDBMirror struct {
	set func(ctx context.Context, path string, v interface{}) error
}

func NewRTDBMirror(client *db.Client) *RTDBMirror {
	return &RTDBMirror{set: func(ctx context.Context, path string, v interface{}) error {
		return client.NewRef(path).Set(ctx, v)
	}}
}

func (m *RTDBMirror) Mirror(ctx context.Context, s Sample) error {
	entry := rtdbEntry{
		Lat:       s.Position.Lat,
		Lng:       s.Position.Lng,
		Timestamp: s.Timestamp.UnixMilli(),
	}
	if err := m.set(ctx, rtdbProviderNode+"/"+string(s.ProviderID), entry); err != nil {
		return fmt.Errorf("location: rtdb set: %w", err)
	}
	return nil
}
