// Package firestore stores the shared attendance document in Cloud Firestore.
//
// The document lives at <collection>/<binId>. The payload is kept as a JSON string so
// that it round-trips byte-compatible with the other providers.
package firestore

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/firestore"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/trezcool/edutracker/core/attendance"
)

type (
	document struct {
		Payload   string `firestore:"payload"`
		UpdatedAt int64  `firestore:"updatedAt"`
	}

	// StatusError wraps a gRPC failure of the Firestore API.
	StatusError struct {
		err error
	}

	Store struct {
		client *firestore.Client
		doc    *firestore.DocumentRef
	}
)

func (e *StatusError) Error() string { return "firestore: " + e.err.Error() }
func (e *StatusError) Unwrap() error { return e.err }

func (e *StatusError) StatusDescription() string {
	switch status.Code(e.err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return "credentials invalid (" + status.Code(e.err).String() + ")"
	case codes.NotFound:
		return "project or database not found"
	default:
		return "connection failed: " + status.Convert(e.err).Message()
	}
}

var _ attendance.RemoteStore = (*Store)(nil)

// Dial opens a client for the project of the given credentials. cfg.APIKey holds a
// service account JSON key; when empty, application default credentials are used.
func Dial(ctx context.Context, collection string, cfg attendance.RemoteConfig, opts ...option.ClientOption) (*Store, error) {
	if cfg.APIKey != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.APIKey)))
	}
	client, err := firestore.NewClient(ctx, firestore.DetectProjectID, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating firestore client")
	}
	return &Store{client: client, doc: client.Collection(collection).Doc(cfg.BinID)}, nil
}

// Fetch returns nil when the document does not exist yet.
func (s *Store) Fetch(ctx context.Context) ([]byte, error) {
	snap, err := s.doc.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	} else if err != nil {
		return nil, &StatusError{err}
	}

	var d document
	if err := snap.DataTo(&d); err != nil {
		return nil, errors.Wrap(err, "decoding firestore document")
	}
	if d.Payload == "" {
		return nil, nil
	}
	return []byte(d.Payload), nil
}

func (s *Store) Replace(ctx context.Context, payload attendance.SyncPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encoding payload")
	}
	if _, err := s.doc.Set(ctx, document{Payload: string(data), UpdatedAt: payload.UpdatedAt}); err != nil {
		return &StatusError{err}
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
