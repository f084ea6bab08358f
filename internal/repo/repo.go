package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	usersKey      = "users"
	nextIDKey     = "next_user_id"
	userPrefix    = "user:"
	refreshPrefix = "refresh:"
	epochPrefix   = "refresh_epoch:"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// RedisRepo is the credential store and the refresh session registry.
type RedisRepo struct {
	Client     redis.UniversalClient
	RefreshTTL time.Duration
}

func New(client redis.UniversalClient, refreshTTL time.Duration) *RedisRepo {
	return &RedisRepo{Client: client, RefreshTTL: refreshTTL}
}

func (r *RedisRepo) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

func userKey(id int64) string {
	return userPrefix + strconv.FormatInt(id, 10)
}

func refreshKey(id int64) string {
	return refreshPrefix + strconv.FormatInt(id, 10)
}

func epochKey(id int64) string {
	return epochPrefix + strconv.FormatInt(id, 10)
}

func Sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
