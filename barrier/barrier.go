// Package barrier implements an "everyone ready" check across groups that
// run their own orchestrated inputs against shared storage.
package barrier

import (
	"context"
	"errors"
	"fmt"

	"github.com/labstack/gommon/log"
	"github.com/patrickmn/go-cache"

	"github.com/vultisig/vultisig-gather/orchestrator"
	"github.com/vultisig/vultisig-gather/storage"
)

var logger = log.New("barrier")

const doneValue = "true"

// Barrier checks a group in under "complete-<id>" once it is locally done and
// agrees when every expected group has checked in. Agreement is persisted so
// later calls keep returning true.
type Barrier struct {
	store    storage.Storage
	group    string
	expected []string
	verdicts *cache.Cache
}

var _ orchestrator.SyncFunc = (*Barrier)(nil).Sync

func New(store storage.Storage, group string, expected []string) *Barrier {
	return &Barrier{
		store:    store,
		group:    group,
		expected: expected,
		verdicts: cache.New(cache.NoExpiration, 0),
	}
}

func doneKey(id string) string {
	return storage.PrefixedKey("barrier", id) + "-done"
}

// Sync has the orchestrator.SyncFunc shape.
func (b *Barrier) Sync(ctx context.Context, id string, local bool) (bool, error) {
	if _, ok := b.verdicts.Get(id); ok {
		return true, nil
	}
	value, err := b.store.GetValue(ctx, doneKey(id))
	switch {
	case err == nil && value == doneValue:
		b.verdicts.Set(id, true, cache.NoExpiration)
		return true, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return false, fmt.Errorf("fail to get barrier %s, err: %w", id, err)
	}
	if !local {
		return false, nil
	}

	key := storage.PrefixedKey("complete", id)
	if err := b.store.SetSession(ctx, key, []string{b.group}); err != nil {
		return false, fmt.Errorf("fail to check in %s at barrier %s, err: %w", b.group, id, err)
	}
	groups, err := b.store.GetSession(ctx, key)
	if err != nil {
		return false, fmt.Errorf("fail to get barrier %s, err: %w", id, err)
	}
	if missing := b.missing(groups); len(missing) > 0 {
		logger.Debugf("barrier %s waiting for %v", id, missing)
		return false, nil
	}
	if err := b.store.SetValue(ctx, doneKey(id), doneValue); err != nil {
		return false, fmt.Errorf("fail to persist barrier %s, err: %w", id, err)
	}
	b.verdicts.Set(id, true, cache.NoExpiration)
	logger.Infof("barrier %s released", id)
	return true, nil
}

func (b *Barrier) missing(present []string) []string {
	seen := make(map[string]struct{}, len(present))
	for _, g := range present {
		seen[g] = struct{}{}
	}
	var out []string
	for _, g := range b.expected {
		if _, ok := seen[g]; !ok {
			out = append(out, g)
		}
	}
	return out
}
