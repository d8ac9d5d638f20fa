package marketauth

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// totpCredentialStore keeps one second-factor credential per user. The
// credential hash holds the keychain-sealed secret and an enabled flag;
// backup-code digests live in a companion set so consumption is a single
// SREM.
type totpCredentialStore struct {
	redis  *redis.Client
	prefix string
}

const (
	totpStateDisabled = "0"
	totpStateEnabled  = "1"
)

const (
	totpSaveStatusBlocked int64 = 0
	totpSaveStatusSaved   int64 = 1
)

const (
	totpConfirmStatusMissing int64 = 0
	totpConfirmStatusOK      int64 = 1
	totpConfirmStatusEnabled int64 = 2
)

// Overwriting a pending enrollment is allowed; overwriting an enabled
// credential is not.
const totpSavePendingScript = `
if redis.call("HGET", KEYS[1], "enabled") == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "secret", ARGV[1], "enabled", "0")
redis.call("DEL", KEYS[2])
for i = 2, #ARGV do
  redis.call("SADD", KEYS[2], ARGV[i])
end
return 1
`

const totpConfirmScript = `
local enabled = redis.call("HGET", KEYS[1], "enabled")
if not enabled then
  return 0
end
if enabled == "1" then
  return 2
end
redis.call("HSET", KEYS[1], "enabled", "1")
return 1
`

const totpReplaceCodesScript = `
if redis.call("HGET", KEYS[1], "enabled") ~= "1" then
  return 0
end
redis.call("DEL", KEYS[2])
for i = 1, #ARGV do
  redis.call("SADD", KEYS[2], ARGV[i])
end
return 1
`

var (
	totpSavePendingLua  = redis.NewScript(totpSavePendingScript)
	totpConfirmLua      = redis.NewScript(totpConfirmScript)
	totpReplaceCodesLua = redis.NewScript(totpReplaceCodesScript)
)

func newTOTPCredentialStore(redisClient *redis.Client, prefix string) *totpCredentialStore {
	return &totpCredentialStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *totpCredentialStore) credKey(userID string) string {
	return s.prefix + ":2fa:" + userID
}

func (s *totpCredentialStore) codesKey(userID string) string {
	return s.prefix + ":2fa:codes:" + userID
}

// SavePending writes a fresh disabled credential plus its backup-code
// digests, refusing to touch an enabled one.
func (s *totpCredentialStore) SavePending(ctx context.Context, userID string, sealedSecret []byte, digests []string) (bool, error) {
	argv := make([]interface{}, 0, 1+len(digests))
	argv = append(argv, sealedSecret)
	for _, d := range digests {
		argv = append(argv, d)
	}

	status, err := totpSavePendingLua.Run(ctx, s.redis,
		[]string{s.credKey(userID), s.codesKey(userID)}, argv...).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}
	return status == totpSaveStatusSaved, nil
}

// Get returns the sealed secret and whether the credential is enabled.
func (s *totpCredentialStore) Get(ctx context.Context, userID string) ([]byte, bool, error) {
	vals, err := s.redis.HMGet(ctx, s.credKey(userID), "secret", "enabled").Result()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}

	secretRaw, ok := vals[0].(string)
	if !ok || secretRaw == "" {
		return nil, false, nil
	}
	enabledRaw, _ := vals[1].(string)

	return []byte(secretRaw), enabledRaw == totpStateEnabled, nil
}

// Confirm flips a pending credential to enabled.
func (s *totpCredentialStore) Confirm(ctx context.Context, userID string) (int64, error) {
	status, err := totpConfirmLua.Run(ctx, s.redis, []string{s.credKey(userID)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}
	return status, nil
}

// Delete removes the credential and all backup codes. Idempotent.
func (s *totpCredentialStore) Delete(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.credKey(userID), s.codesKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}
	return nil
}

// ConsumeCode removes the digest from the user's backup-code set. The SREM
// return value decides the race: exactly one concurrent caller gets true.
func (s *totpCredentialStore) ConsumeCode(ctx context.Context, userID, digest string) (bool, error) {
	removed, err := s.redis.SRem(ctx, s.codesKey(userID), digest).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}
	return removed == 1, nil
}

// ReplaceCodes swaps the full backup-code set in one step, but only while
// the credential is enabled.
func (s *totpCredentialStore) ReplaceCodes(ctx context.Context, userID string, digests []string) (bool, error) {
	argv := make([]interface{}, 0, len(digests))
	for _, d := range digests {
		argv = append(argv, d)
	}

	status, err := totpReplaceCodesLua.Run(ctx, s.redis,
		[]string{s.credKey(userID), s.codesKey(userID)}, argv...).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}
	return status == 1, nil
}

// CodesRemaining counts unused backup codes.
func (s *totpCredentialStore) CodesRemaining(ctx context.Context, userID string) (int64, error) {
	n, err := s.redis.SCard(ctx, s.codesKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}
	return n, nil
}
