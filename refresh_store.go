package marketauth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// refreshTokenStore persists refresh-token records keyed by the caller's
// token hash. The plaintext token never reaches this store. A per-user index
// set makes revoke-all a single script.
type refreshTokenStore struct {
	redis  *redis.Client
	prefix string
}

const (
	refreshStatusInvalid int64 = 0
	refreshStatusOK      int64 = 1
)

const refreshValidateScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {0, ""}
end
local rec = redis.call("HMGET", KEYS[1], "user", "exp", "revoked")
if rec[3] == "1" then
  return {0, ""}
end
if tonumber(rec[2]) < tonumber(ARGV[1]) then
  return {0, ""}
end
return {1, rec[1]}
`

// Revoked records stay until their natural TTL so replays keep failing the
// same way instead of looking like unknown tokens.
const refreshRevokeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "revoked", "1")
return 1
`

const refreshRevokeAllScript = `
local hashes = redis.call("SMEMBERS", KEYS[1])
local n = 0
for i = 1, #hashes do
  local rec_key = ARGV[1] .. hashes[i]
  if redis.call("EXISTS", rec_key) == 1 then
    if redis.call("HGET", rec_key, "revoked") ~= "1" then
      redis.call("HSET", rec_key, "revoked", "1")
      n = n + 1
    end
  else
    redis.call("SREM", KEYS[1], hashes[i])
  end
end
return n
`

var (
	refreshValidateLua  = redis.NewScript(refreshValidateScript)
	refreshRevokeLua    = redis.NewScript(refreshRevokeScript)
	refreshRevokeAllLua = redis.NewScript(refreshRevokeAllScript)
)

func newRefreshTokenStore(redisClient *redis.Client, prefix string) *refreshTokenStore {
	return &refreshTokenStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *refreshTokenStore) recordKeyPrefix() string {
	return s.prefix + ":rt:"
}

func (s *refreshTokenStore) recordKey(tokenHash string) string {
	return s.recordKeyPrefix() + tokenHash
}

func (s *refreshTokenStore) userKey(userID string) string {
	return s.prefix + ":rtu:" + userID
}

// Save writes the record and adds it to the user's index. Both keys expire
// with the token so abandoned entries clean themselves up.
func (s *refreshTokenStore) Save(
	ctx context.Context,
	userID, tokenHash, device, origin string,
	expiresAt time.Time,
	now time.Time,
) error {
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return fmt.Errorf("%w: token already expired", ErrRefreshInvalid)
	}

	pipe := s.redis.TxPipeline()
	recKey := s.recordKey(tokenHash)
	pipe.HSet(ctx, recKey,
		"user", userID,
		"device", device,
		"origin", origin,
		"exp", strconv.FormatInt(expiresAt.Unix(), 10),
		"revoked", "0",
	)
	pipe.PExpire(ctx, recKey, ttl)
	userKey := s.userKey(userID)
	pipe.SAdd(ctx, userKey, tokenHash)
	// NX seeds a TTL on a fresh index, GT stretches an existing one; GT alone
	// never fires on a key without a TTL
	pipe.ExpireNX(ctx, userKey, ttl)
	pipe.ExpireGT(ctx, userKey, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}
	return nil
}

// Validate returns the owning user when the record exists, is unrevoked,
// and is unexpired.
func (s *refreshTokenStore) Validate(ctx context.Context, tokenHash string, now time.Time) (string, int64, error) {
	res, err := refreshValidateLua.Run(ctx, s.redis,
		[]string{s.recordKey(tokenHash)},
		strconv.FormatInt(now.Unix(), 10),
	).Slice()
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}
	if len(res) != 2 {
		return "", 0, fmt.Errorf("%w: malformed validate reply", ErrRefreshUnavailable)
	}

	status, _ := res[0].(int64)
	userID, _ := res[1].(string)
	return userID, status, nil
}

// Revoke marks a single record revoked. Idempotent; revoking an unknown
// token is not an error.
func (s *refreshTokenStore) Revoke(ctx context.Context, tokenHash string) error {
	if err := refreshRevokeLua.Run(ctx, s.redis, []string{s.recordKey(tokenHash)}).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}
	return nil
}

// RevokeAll marks every live record of the user revoked and prunes index
// entries whose records already expired. Returns how many were newly
// revoked.
func (s *refreshTokenStore) RevokeAll(ctx context.Context, userID string) (int64, error) {
	n, err := refreshRevokeAllLua.Run(ctx, s.redis,
		[]string{s.userKey(userID)},
		s.recordKeyPrefix(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}
	return n, nil
}
