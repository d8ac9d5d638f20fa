package marketauth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// adminSessionStore holds administrative sessions under a sliding idle
// window. Records are keyed by token hash; a session-ID alias key lets the
// management surface terminate sessions it only knows by ID.
type adminSessionStore struct {
	redis  *redis.Client
	prefix string
}

const (
	adminStatusGone  int64 = 0
	adminStatusValid int64 = 1
)

// adminSessionRecord mirrors the Redis hash fields of one session.
type adminSessionRecord struct {
	SessionID    string
	AdminID      string
	OriginAddr   string
	UserAgent    string
	LastActiveAt int64
	ExpiresAt    int64
	TokenHash    string
}

// Validation re-checks expiry and extends the window in the same script, so
// a concurrent terminate that already deleted the record always wins: the
// script sees no key and reports the session gone rather than resurrecting
// it.
const adminValidateScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {0, "", ""}
end
local rec = redis.call("HMGET", KEYS[1], "sid", "admin", "exp")
if tonumber(rec[3]) < tonumber(ARGV[1]) then
  redis.call("DEL", KEYS[1])
  redis.call("DEL", ARGV[3] .. rec[1])
  redis.call("SREM", ARGV[4] .. rec[2], ARGV[5])
  return {0, "", ""}
end
local new_exp = tonumber(ARGV[1]) + math.floor(tonumber(ARGV[2]) / 1000)
redis.call("HSET", KEYS[1], "last", ARGV[1], "exp", tostring(new_exp))
redis.call("PEXPIRE", KEYS[1], ARGV[2])
redis.call("PEXPIRE", ARGV[3] .. rec[1], ARGV[2])
local user_key = ARGV[4] .. rec[2]
if redis.call("PTTL", user_key) < tonumber(ARGV[2]) then
  redis.call("PEXPIRE", user_key, ARGV[2])
end
return {1, rec[2], rec[1]}
`

const adminTerminateBySIDScript = `
local hash = redis.call("GET", KEYS[1])
if not hash then
  return 0
end
local rec_key = ARGV[1] .. hash
local admin = redis.call("HGET", rec_key, "admin")
redis.call("DEL", rec_key)
redis.call("DEL", KEYS[1])
if admin then
  redis.call("SREM", ARGV[2] .. admin, hash)
end
return 1
`

const adminTerminateAllScript = `
local hashes = redis.call("SMEMBERS", KEYS[1])
local n = 0
for i = 1, #hashes do
  if hashes[i] ~= ARGV[3] then
    local rec_key = ARGV[1] .. hashes[i]
    local sid = redis.call("HGET", rec_key, "sid")
    if sid then
      redis.call("DEL", ARGV[2] .. sid)
    end
    if redis.call("DEL", rec_key) == 1 then
      n = n + 1
    end
    redis.call("SREM", KEYS[1], hashes[i])
  end
end
return n
`

var (
	adminValidateLua       = redis.NewScript(adminValidateScript)
	adminTerminateBySIDLua = redis.NewScript(adminTerminateBySIDScript)
	adminTerminateAllLua   = redis.NewScript(adminTerminateAllScript)
)

func newAdminSessionStore(redisClient *redis.Client, prefix string) *adminSessionStore {
	return &adminSessionStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *adminSessionStore) recordKeyPrefix() string {
	return s.prefix + ":adm:"
}

func (s *adminSessionStore) recordKey(tokenHash string) string {
	return s.recordKeyPrefix() + tokenHash
}

func (s *adminSessionStore) sidKeyPrefix() string {
	return s.prefix + ":admsid:"
}

func (s *adminSessionStore) sidKey(sessionID string) string {
	return s.sidKeyPrefix() + sessionID
}

func (s *adminSessionStore) userKeyPrefix() string {
	return s.prefix + ":admu:"
}

func (s *adminSessionStore) userKey(adminID string) string {
	return s.userKeyPrefix() + adminID
}

func (s *adminSessionStore) Save(
	ctx context.Context,
	rec *adminSessionRecord,
	timeout time.Duration,
	now time.Time,
) error {
	pipe := s.redis.TxPipeline()

	recKey := s.recordKey(rec.TokenHash)
	pipe.HSet(ctx, recKey,
		"sid", rec.SessionID,
		"admin", rec.AdminID,
		"ip", rec.OriginAddr,
		"ua", rec.UserAgent,
		"created", strconv.FormatInt(now.Unix(), 10),
		"last", strconv.FormatInt(rec.LastActiveAt, 10),
		"exp", strconv.FormatInt(rec.ExpiresAt, 10),
	)
	pipe.PExpire(ctx, recKey, timeout)

	pipe.Set(ctx, s.sidKey(rec.SessionID), rec.TokenHash, timeout)

	userKey := s.userKey(rec.AdminID)
	pipe.SAdd(ctx, userKey, rec.TokenHash)
	pipe.ExpireNX(ctx, userKey, timeout)
	pipe.ExpireGT(ctx, userKey, timeout)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return nil
}

// Validate checks liveness and slides the idle window forward atomically.
// Returns the owning admin and the session ID on success.
func (s *adminSessionStore) Validate(
	ctx context.Context,
	tokenHash string,
	timeout time.Duration,
	now time.Time,
) (adminID, sessionID string, status int64, err error) {
	res, err := adminValidateLua.Run(ctx, s.redis,
		[]string{s.recordKey(tokenHash)},
		strconv.FormatInt(now.Unix(), 10),
		strconv.FormatInt(timeout.Milliseconds(), 10),
		s.sidKeyPrefix(),
		s.userKeyPrefix(),
		tokenHash,
	).Slice()
	if err != nil {
		return "", "", 0, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	if len(res) != 3 {
		return "", "", 0, fmt.Errorf("%w: malformed validate reply", ErrSessionUnavailable)
	}

	status, _ = res[0].(int64)
	adminID, _ = res[1].(string)
	sessionID, _ = res[2].(string)
	return adminID, sessionID, status, nil
}

// TerminateBySessionID removes one session by its public ID. Idempotent.
func (s *adminSessionStore) TerminateBySessionID(ctx context.Context, sessionID string) (bool, error) {
	n, err := adminTerminateBySIDLua.Run(ctx, s.redis,
		[]string{s.sidKey(sessionID)},
		s.recordKeyPrefix(),
		s.userKeyPrefix(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return n == 1, nil
}

// TerminateAll removes every session of the admin, sparing keepTokenHash
// when non-empty. Returns how many sessions were removed.
func (s *adminSessionStore) TerminateAll(ctx context.Context, adminID, keepTokenHash string) (int64, error) {
	n, err := adminTerminateAllLua.Run(ctx, s.redis,
		[]string{s.userKey(adminID)},
		s.recordKeyPrefix(),
		s.sidKeyPrefix(),
		keepTokenHash,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return n, nil
}

// List returns the admin's live sessions, pruning index entries whose
// records already expired.
func (s *adminSessionStore) List(ctx context.Context, adminID string, now time.Time) ([]adminSessionRecord, error) {
	hashes, err := s.redis.SMembers(ctx, s.userKey(adminID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	out := make([]adminSessionRecord, 0, len(hashes))
	for _, hash := range hashes {
		fields, err := s.redis.HGetAll(ctx, s.recordKey(hash)).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
		}
		if len(fields) == 0 {
			_ = s.redis.SRem(ctx, s.userKey(adminID), hash).Err()
			continue
		}

		exp, _ := strconv.ParseInt(fields["exp"], 10, 64)
		if exp < now.Unix() {
			continue
		}
		last, _ := strconv.ParseInt(fields["last"], 10, 64)

		out = append(out, adminSessionRecord{
			SessionID:    fields["sid"],
			AdminID:      fields["admin"],
			OriginAddr:   fields["ip"],
			UserAgent:    fields["ua"],
			LastActiveAt: last,
			ExpiresAt:    exp,
			TokenHash:    hash,
		})
	}

	return out, nil
}
