package localstore

import (
	"context"
	"encoding/json"
	"time"
)

// KeySyncLease holds the reconciliation lease shared by every process on the device.
const KeySyncLease = "treniren_sync_lock"

type syncLease struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AcquireSyncLease claims the reconciliation lease for owner until ttl elapses. It
// reports false while another owner holds an unexpired lease. Re-acquiring a lease
// already held by owner extends it.
func (s *Store) AcquireSyncLease(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	if s.backend == nil {
		return true, nil
	}
	now := s.now().UTC()
	acquired := false
	err := s.backend.Update(ctx, func(tx Tx) error {
		raw, ok, err := tx.Get(KeySyncLease)
		if err != nil {
			return err
		}
		if ok {
			var held syncLease
			// An unreadable lease is treated as expired.
			if json.Unmarshal([]byte(raw), &held) == nil && held.Owner != owner && now.Before(held.ExpiresAt) {
				return nil
			}
		}
		body, err := json.Marshal(syncLease{Owner: owner, ExpiresAt: now.Add(ttl)})
		if err != nil {
			return err
		}
		acquired = true
		return tx.Set(KeySyncLease, string(body))
	})
	if err != nil {
		return false, s.degradeWrite("acquire_sync_lease", err, "owner", owner)
	}
	return acquired, nil
}

// ReleaseSyncLease drops the lease if owner still holds it.
func (s *Store) ReleaseSyncLease(ctx context.Context, owner string) error {
	if s.backend == nil {
		return nil
	}
	err := s.backend.Update(ctx, func(tx Tx) error {
		raw, ok, err := tx.Get(KeySyncLease)
		if err != nil || !ok {
			return err
		}
		var held syncLease
		if json.Unmarshal([]byte(raw), &held) == nil && held.Owner != owner {
			return nil
		}
		return tx.Remove(KeySyncLease)
	})
	return s.degradeWrite("release_sync_lease", err, "owner", owner)
}
