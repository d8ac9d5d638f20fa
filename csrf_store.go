package marketauth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// csrfStore maps one-time form tokens to the session they were issued for.
type csrfStore struct {
	redis  *redis.Client
	prefix string
}

const (
	csrfStatusMissing  int64 = 0
	csrfStatusOK       int64 = 1
	csrfStatusMismatch int64 = 2
)

// Lookup, session comparison, and deletion happen in one script so two
// concurrent submissions of the same form cannot both pass. A session
// mismatch leaves the token in place; it may still be spent by its real
// owner.
const csrfValidateScript = `
local bound = redis.call("GET", KEYS[1])
if not bound then
  return 0
end
if bound ~= ARGV[1] then
  return 2
end
redis.call("DEL", KEYS[1])
return 1
`

var csrfValidateLua = redis.NewScript(csrfValidateScript)

func newCSRFStore(redisClient *redis.Client, prefix string) *csrfStore {
	return &csrfStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *csrfStore) key(token string) string {
	return s.prefix + ":csrf:" + token
}

func (s *csrfStore) Save(ctx context.Context, token, sessionID string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(token), sessionID, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCSRFUnavailable, err)
	}
	return nil
}

func (s *csrfStore) Validate(ctx context.Context, token, sessionID string) (int64, error) {
	status, err := csrfValidateLua.Run(ctx, s.redis, []string{s.key(token)}, sessionID).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCSRFUnavailable, err)
	}
	return status, nil
}
