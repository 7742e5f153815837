package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/sentinel/internal/storage"
)

// persister writes in-memory state to the store. Save failures are logged
// and never interrupt the caller; memory stays authoritative.
type persister struct {
	store  storage.Store
	logger *zap.Logger
}

func (p persister) save(ctx context.Context, key string, v interface{}) {
	if p.store == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("Failed to marshal state", zap.String("key", key), zap.Error(err))
		return
	}
	if err := p.store.Save(ctx, key, data); err != nil {
		p.logger.Error("Failed to persist state", zap.String("key", key), zap.Error(err))
	}
}

// load decodes the blob under key into v. A missing key leaves v untouched.
func (p persister) load(ctx context.Context, key string, v interface{}) error {
	if p.store == nil {
		return nil
	}
	data, err := p.store.Load(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}
