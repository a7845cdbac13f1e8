// Package remote picks the Remote Blob Store implementation of a RemoteConfig.
package remote

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/trezcool/edutracker/core"
	"github.com/trezcool/edutracker/core/attendance"
	"github.com/trezcool/edutracker/services/remote/firestore"
	"github.com/trezcool/edutracker/services/remote/jsonbin"
)

// NewDialer returns the dialer used by the tracker. httpClient may be nil.
func NewDialer(conf *core.Config, httpClient *http.Client) attendance.RemoteDialer {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return func(ctx context.Context, cfg attendance.RemoteConfig) (attendance.RemoteStore, error) {
		switch cfg.Provider {
		case attendance.ProviderJSONBin, "":
			return jsonbin.NewClient(conf.Sync.JSONBinBaseURL, cfg, httpClient), nil
		case attendance.ProviderFirestore:
			store, err := firestore.Dial(ctx, conf.Sync.FirestoreCollection, cfg)
			if err != nil {
				return nil, err
			}
			return store, nil
		default:
			return nil, errors.Errorf("unknown remote provider %q", cfg.Provider)
		}
	}
}
