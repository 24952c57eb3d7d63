// internal/onboarding/lease.go
package onboarding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	leaseTTL    = 60 * time.Second
	stateMarker = 10 * time.Minute
)

// releaseScript deletes the lease only if we still hold it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`)

// acquireLease takes a short-lived advisory lease for one tenant's
// provisioning run. Returns a release func and whether the lease was won.
// Without Redis every caller "wins": the check-before-create idempotency in
// the provisioner remains the correctness backstop either way.
func (s *Service) acquireLease(ctx context.Context, tenantID string) (func(), bool) {
	if s.rdb == nil {
		return func() {}, true
	}
	key := "agentmail:provlease:" + tenantID
	val := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, key, val, leaseTTL).Result()
	if err != nil {
		s.log.Warnw("lease acquire failed, proceeding unlocked", "tenant", tenantID, "err", err)
		return func() {}, true
	}
	if !ok {
		return func() {}, false
	}
	return func() {
		_, _ = releaseScript.Run(context.Background(), s.rdb, []string{key}, val).Result()
	}, true
}

// markStateUsed records a signed state as consumed so a replay inside the
// validity window is rejected. Best-effort: without Redis the short window
// is the accepted residual risk.
func (s *Service) markStateUsed(ctx context.Context, state string) bool {
	if s.rdb == nil {
		return true
	}
	sum := sha256.Sum256([]byte(state))
	key := "agentmail:state:" + hex.EncodeToString(sum[:])
	ok, err := s.rdb.SetNX(ctx, key, "1", stateMarker).Result()
	if err != nil {
		s.log.Warnw("state marker write failed", "err", err)
		return true
	}
	return ok
}
