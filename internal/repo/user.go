package repo

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/Skotchmaster/lunch_list/internal/models"
)

// createUserScript allocates the next id and writes both hashes, or returns
// 0 when the username is taken.
var createUserScript = redis.NewScript(`
local users = KEYS[1]
local counter = KEYS[2]
local prefix = ARGV[1]
local username = ARGV[2]
local hash = ARGV[3]

if redis.call("HEXISTS", users, username) == 1 then
  return 0
end

local id = redis.call("INCR", counter)
redis.call("HSET", users, username, id)
redis.call("HSET", prefix .. id, "username", username, "password", hash)
return id
`)

func (r *RedisRepo) UserExists(ctx context.Context, username string) (bool, error) {
	ok, err := r.Client.HExists(ctx, usersKey, username).Result()
	if err != nil {
		return false, fmt.Errorf("hexists %s: %w", usersKey, err)
	}
	return ok, nil
}

func (r *RedisRepo) UserID(ctx context.Context, username string) (int64, error) {
	raw, err := r.Client.HGet(ctx, usersKey, username).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("hget %s: %w", usersKey, err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt user id %q: %w", raw, err)
	}
	return id, nil
}

func (r *RedisRepo) GetUser(ctx context.Context, id int64) (*models.User, error) {
	vals, err := r.Client.HMGet(ctx, userKey(id), "username", "password").Result()
	if err != nil {
		return nil, fmt.Errorf("hmget %s: %w", userKey(id), err)
	}
	name, _ := vals[0].(string)
	hash, _ := vals[1].(string)
	if name == "" {
		return nil, ErrUserNotFound
	}
	return &models.User{ID: id, Username: name, PasswordHash: hash}, nil
}

// CreateUser stores a new user atomically and returns its id.
func (r *RedisRepo) CreateUser(ctx context.Context, username, passwordHash string) (int64, error) {
	id, err := createUserScript.Run(ctx, r.Client,
		[]string{usersKey, nextIDKey},
		userPrefix, username, passwordHash,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	if id == 0 {
		return 0, ErrUserExists
	}
	return id, nil
}
