package marketauth

import (
	"context"
	"fmt"
	"strings"
)

// PurgeExpired prunes index entries whose underlying records already
// expired: refresh-token hashes in per-user sets and admin-session hashes in
// per-admin sets. Records themselves carry TTLs and clean up on their own;
// only the index membership can outlive them. Intended for a periodic
// maintenance job, not the request path. Returns how many index entries
// were removed.
func (e *Engine) PurgeExpired(ctx context.Context) (int64, error) {
	if e == nil || e.refreshStore == nil || e.adminStore == nil {
		return 0, ErrEngineNotReady
	}

	var removed int64

	n, err := e.pruneIndexSets(ctx,
		e.config.KeyPrefix+":rtu:", e.refreshStore.recordKeyPrefix(), ErrRefreshUnavailable)
	if err != nil {
		return removed, err
	}
	removed += n

	n, err = e.pruneIndexSets(ctx,
		e.config.KeyPrefix+":admu:", e.adminStore.recordKeyPrefix(), ErrSessionUnavailable)
	if err != nil {
		return removed, err
	}
	removed += n

	return removed, nil
}

func (e *Engine) pruneIndexSets(ctx context.Context, indexPrefix, recordPrefix string, unavailable error) (int64, error) {
	client := e.refreshStore.redis

	var removed int64
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, indexPrefix+"*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", unavailable, err)
		}

		for _, key := range keys {
			if !strings.HasPrefix(key, indexPrefix) {
				continue
			}

			members, err := client.SMembers(ctx, key).Result()
			if err != nil {
				return removed, fmt.Errorf("%w: %v", unavailable, err)
			}

			for _, member := range members {
				exists, err := client.Exists(ctx, recordPrefix+member).Result()
				if err != nil {
					return removed, fmt.Errorf("%w: %v", unavailable, err)
				}
				if exists == 0 {
					n, err := client.SRem(ctx, key, member).Result()
					if err != nil {
						return removed, fmt.Errorf("%w: %v", unavailable, err)
					}
					removed += n
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return removed, nil
}
