package marketauth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ephemeralTokenStore backs both password-reset and email-verification
// tokens. Tokens are purpose-tagged so one purpose can never consume the
// other's records.
//
// Two keys per token: the record itself, and a per-subject pending pointer
// naming the latest issued token for that (purpose, subject). Issuing marks
// the previous pending record used, so an older link answers "already used"
// rather than silently working. Record TTL is twice the logical TTL so a
// consumed or superseded record can still distinguish "already used" from
// plain "not found" for a while.
type ephemeralTokenStore struct {
	redis  *redis.Client
	prefix string
}

const (
	tokenPurposeReset        = "pwreset"
	tokenPurposeVerification = "emailverify"
)

const (
	tokenConsumeNotFound int64 = 0
	tokenConsumeOK       int64 = 1
	tokenConsumeUsed     int64 = 2
	tokenConsumeExpired  int64 = 3
)

const tokenIssueScript = `
local prev = redis.call("GET", KEYS[2])
if prev then
  local prev_key = ARGV[6] .. prev
  if redis.call("EXISTS", prev_key) == 1 then
    redis.call("HSET", prev_key, "used", "1")
  end
end
redis.call("HSET", KEYS[1], "h", ARGV[1], "sub", ARGV[2], "payload", ARGV[3], "exp", ARGV[4], "used", "0")
redis.call("PEXPIRE", KEYS[1], ARGV[8])
redis.call("SET", KEYS[2], ARGV[7])
redis.call("PEXPIRE", KEYS[2], ARGV[5])
return 1
`

const tokenConsumeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {0, "", ""}
end
local rec = redis.call("HMGET", KEYS[1], "h", "sub", "payload", "exp", "used")
if rec[5] == "1" then
  return {2, "", ""}
end
if rec[1] ~= ARGV[1] then
  return {0, "", ""}
end
if tonumber(rec[4]) < tonumber(ARGV[2]) then
  redis.call("HSET", KEYS[1], "used", "1")
  return {3, "", ""}
end
redis.call("HSET", KEYS[1], "used", "1")
local pending_key = ARGV[3] .. rec[2]
if redis.call("GET", pending_key) == ARGV[4] then
  redis.call("DEL", pending_key)
end
return {1, rec[2], rec[3]}
`

var (
	tokenIssueLua   = redis.NewScript(tokenIssueScript)
	tokenConsumeLua = redis.NewScript(tokenConsumeScript)
)

func newEphemeralTokenStore(redisClient *redis.Client, prefix string) *ephemeralTokenStore {
	return &ephemeralTokenStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *ephemeralTokenStore) recordKeyPrefix(purpose string) string {
	return s.prefix + ":tok:" + purpose + ":"
}

func (s *ephemeralTokenStore) recordKey(purpose, tokenID string) string {
	return s.recordKeyPrefix(purpose) + tokenID
}

func (s *ephemeralTokenStore) pendingKey(purpose, subjectID string) string {
	return s.prefix + ":tokp:" + purpose + ":" + subjectID
}

// Issue stores a new token record and supersedes the subject's previous
// pending token in the same script. tokenID names the record; secretHash is
// what consumption will compare against; payload rides along opaque.
func (s *ephemeralTokenStore) Issue(
	ctx context.Context,
	purpose, tokenID, subjectID string,
	secretHash [32]byte,
	payload string,
	ttl time.Duration,
	now time.Time,
) error {
	keys := []string{
		s.recordKey(purpose, tokenID),
		s.pendingKey(purpose, subjectID),
	}
	argv := []interface{}{
		string(secretHash[:]),
		subjectID,
		payload,
		strconv.FormatInt(now.Add(ttl).Unix(), 10),
		strconv.FormatInt(ttl.Milliseconds(), 10),
		s.recordKeyPrefix(purpose),
		tokenID,
		strconv.FormatInt(2*ttl.Milliseconds(), 10),
	}

	if err := tokenIssueLua.Run(ctx, s.redis, keys, argv...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	return nil
}

// Consume validates and burns a token in one round trip. On success it
// returns the subject and payload stored at issue time.
func (s *ephemeralTokenStore) Consume(
	ctx context.Context,
	purpose, tokenID string,
	secretHash [32]byte,
	now time.Time,
) (subjectID, payload string, status int64, err error) {
	res, err := tokenConsumeLua.Run(ctx, s.redis,
		[]string{s.recordKey(purpose, tokenID)},
		string(secretHash[:]),
		strconv.FormatInt(now.Unix(), 10),
		s.prefix+":tokp:"+purpose+":",
		tokenID,
	).Slice()
	if err != nil {
		return "", "", 0, fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	if len(res) != 3 {
		return "", "", 0, fmt.Errorf("%w: malformed consume reply", ErrTokenUnavailable)
	}

	status, _ = res[0].(int64)
	subjectID, _ = res[1].(string)
	payload, _ = res[2].(string)
	return subjectID, payload, status, nil
}
