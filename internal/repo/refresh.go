package repo

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redeemScript removes a fingerprint and reports it together with the user's
// current revocation epoch, so a later rotation can tell whether the family
// was revoked in between.
var redeemScript = redis.NewScript(`
local removed = redis.call("SREM", KEYS[1], ARGV[1])
local epoch = tonumber(redis.call("GET", KEYS[2]) or "0")
return {removed, epoch}
`)

// rotateScript registers a fingerprint only while the epoch is unchanged.
var rotateScript = redis.NewScript(`
local epoch = tonumber(redis.call("GET", KEYS[2]) or "0")
if epoch ~= tonumber(ARGV[2]) then
  return 0
end
redis.call("SADD", KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
end
return 1
`)

// RegisterRefresh records a freshly issued refresh token for the user and
// pushes the set's expiry out to the refresh TTL.
func (r *RedisRepo) RegisterRefresh(ctx context.Context, userID int64, token string) error {
	key := refreshKey(userID)
	_, err := r.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, key, Sha256Hex(token))
		if r.RefreshTTL > 0 {
			p.Expire(ctx, key, r.RefreshTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("register refresh for %d: %w", userID, err)
	}
	return nil
}

// RedeemRefresh removes the token and reports whether it was present, along
// with the epoch to hand to RotateRefresh.
// Of two concurrent calls with the same token at most one sees true.
func (r *RedisRepo) RedeemRefresh(ctx context.Context, userID int64, token string) (int64, bool, error) {
	res, err := redeemScript.Run(ctx, r.Client,
		[]string{refreshKey(userID), epochKey(userID)},
		Sha256Hex(token),
	).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("redeem refresh for %d: %w", userID, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("redeem refresh for %d: unexpected reply %v", userID, res)
	}
	return res[1], res[0] == 1, nil
}

// RotateRefresh registers the successor of a redeemed token. It returns false
// and registers nothing when RevokeAllRefresh ran after the redemption.
func (r *RedisRepo) RotateRefresh(ctx context.Context, userID int64, token string, epoch int64) (bool, error) {
	n, err := rotateScript.Run(ctx, r.Client,
		[]string{refreshKey(userID), epochKey(userID)},
		Sha256Hex(token), epoch, r.RefreshTTL.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("rotate refresh for %d: %w", userID, err)
	}
	return n == 1, nil
}

func (r *RedisRepo) RevokeRefresh(ctx context.Context, userID int64, token string) error {
	if err := r.Client.SRem(ctx, refreshKey(userID), Sha256Hex(token)).Err(); err != nil {
		return fmt.Errorf("revoke refresh for %d: %w", userID, err)
	}
	return nil
}

// RevokeAllRefresh drops every session of the user and bumps the epoch so
// in-flight rotations cannot re-register.
func (r *RedisRepo) RevokeAllRefresh(ctx context.Context, userID int64) error {
	ek := epochKey(userID)
	_, err := r.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, refreshKey(userID))
		p.Incr(ctx, ek)
		if r.RefreshTTL > 0 {
			p.Expire(ctx, ek, r.RefreshTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("revoke all refresh for %d: %w", userID, err)
	}
	return nil
}
