package attendance

import (
	"context"
)

// Local Durable Store keys.
const (
	KeySessions     = "eduTrackerSessions"
	KeyGroups       = "eduTrackerGroups"
	KeyStudents     = "eduTrackerStudents"
	KeyRemoteConfig = "eduTrackerJsonBinConfig"
)

type (
	// Store is a key-based durable store. It holds no business logic.
	Store interface {
		// Load decodes the value stored under key into dst and reports whether the key exists.
		Load(ctx context.Context, key string, dst interface{}) (bool, error)
		Save(ctx context.Context, key string, v interface{}) error
		Delete(ctx context.Context, key string) error
	}

	// RemoteStore addresses the single shared document. There are no partial updates.
	RemoteStore interface {
		// Fetch returns the raw latest document; nil when the document is empty.
		Fetch(ctx context.Context) ([]byte, error)
		// Replace overwrites the whole document.
		Replace(ctx context.Context, payload SyncPayload) error
	}

	// RemoteDialer builds a RemoteStore for the given credentials.
	RemoteDialer func(ctx context.Context, cfg RemoteConfig) (RemoteStore, error)
)
