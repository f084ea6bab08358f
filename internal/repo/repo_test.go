package repo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) (*RedisRepo, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Hour), m
}

func TestCreateUser_WritesSchema(t *testing.T) {
	t.Parallel()

	r, m := newTestRepo(t)
	ctx := context.Background()

	id, err := r.CreateUser(ctx, "alice", "$argon2id$hash")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	assert.Equal(t, "1", m.HGet("users", "alice"))
	assert.Equal(t, "alice", m.HGet("user:1", "username"))
	assert.Equal(t, "$argon2id$hash", m.HGet("user:1", "password"))
	got, err := m.Get("next_user_id")
	require.NoError(t, err)
	assert.Equal(t, "1", got)

	id, err = r.CreateUser(ctx, "bob", "h2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
}

func TestCreateUser_Duplicate(t *testing.T) {
	t.Parallel()

	r, m := newTestRepo(t)
	ctx := context.Background()

	_, err := r.CreateUser(ctx, "alice", "h1")
	require.NoError(t, err)
	_, err = r.CreateUser(ctx, "alice", "h2")
	require.ErrorIs(t, err, ErrUserExists)

	assert.Equal(t, "h1", m.HGet("user:1", "password"))
	got, err := m.Get("next_user_id")
	require.NoError(t, err)
	assert.Equal(t, "1", got, "a rejected signup must not consume an id")
}

func TestCreateUser_ConcurrentSameName(t *testing.T) {
	t.Parallel()

	r, _ := newTestRepo(t)
	ctx := context.Background()

	const n = 16
	var ok, dup atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.CreateUser(ctx, "alice", "h")
			switch {
			case err == nil:
				ok.Add(1)
			case assert.ErrorIs(t, err, ErrUserExists):
				dup.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(n-1), dup.Load())
}

func TestLookups(t *testing.T) {
	t.Parallel()

	r, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := r.UserID(ctx, "ghost")
	require.ErrorIs(t, err, ErrUserNotFound)
	_, err = r.GetUser(ctx, 99)
	require.ErrorIs(t, err, ErrUserNotFound)

	exists, err := r.UserExists(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, exists)

	id, err := r.CreateUser(ctx, "alice", "h")
	require.NoError(t, err)

	exists, err = r.UserExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := r.UserID(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	u, err := r.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "h", u.PasswordHash)
}

func TestUserID_Corrupt(t *testing.T) {
	t.Parallel()

	r, m := newTestRepo(t)
	m.HSet("users", "alice", "not-a-number")

	_, err := r.UserID(context.Background(), "alice")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUserNotFound)
}

func TestRefreshRegistry(t *testing.T) {
	t.Parallel()

	r, m := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.RegisterRefresh(ctx, 1, "tok-a"))
	require.NoError(t, r.RegisterRefresh(ctx, 1, "tok-b"))

	members, err := m.Members("refresh:1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{Sha256Hex("tok-a"), Sha256Hex("tok-b")}, members)
	assert.Equal(t, time.Hour, m.TTL("refresh:1"))

	_, ok, err := r.RedeemRefresh(ctx, 1, "tok-a")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = r.RedeemRefresh(ctx, 1, "tok-a")
	require.NoError(t, err)
	assert.False(t, ok, "second redemption must fail")

	_, ok, err = r.RedeemRefresh(ctx, 2, "tok-b")
	require.NoError(t, err)
	assert.False(t, ok, "tokens are scoped per user")

	require.NoError(t, r.RevokeRefresh(ctx, 1, "tok-b"))
	require.NoError(t, r.RevokeRefresh(ctx, 1, "tok-b"))
	assert.False(t, m.Exists("refresh:1"))
}

func TestRotateRefresh(t *testing.T) {
	t.Parallel()

	r, m := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, r.RegisterRefresh(ctx, 1, "old"))

	epoch, ok, err := r.RedeemRefresh(ctx, 1, "old")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, epoch)

	ok, err = r.RotateRefresh(ctx, 1, "new", epoch)
	require.NoError(t, err)
	assert.True(t, ok)

	members, err := m.Members("refresh:1")
	require.NoError(t, err)
	assert.Equal(t, []string{Sha256Hex("new")}, members)
	assert.Equal(t, time.Hour, m.TTL("refresh:1"))
}

func TestRotateRefresh_RefusedAfterRevokeAll(t *testing.T) {
	t.Parallel()

	r, m := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, r.RegisterRefresh(ctx, 1, "old"))

	epoch, ok, err := r.RedeemRefresh(ctx, 1, "old")
	require.NoError(t, err)
	require.True(t, ok)

	// A replay of "old" lands between redemption and rotation.
	_, ok, err = r.RedeemRefresh(ctx, 1, "old")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, r.RevokeAllRefresh(ctx, 1))

	ok, err = r.RotateRefresh(ctx, 1, "new", epoch)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, m.Exists("refresh:1"), "the successor must not survive the revocation")

	next, _, err := r.RedeemRefresh(ctx, 1, "new")
	require.NoError(t, err)
	assert.Equal(t, epoch+1, next)
}

func TestRevokeAllRefresh(t *testing.T) {
	t.Parallel()

	r, m := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, r.RegisterRefresh(ctx, 5, fmt.Sprintf("tok-%d", i)))
	}
	require.NoError(t, r.RegisterRefresh(ctx, 6, "other"))

	require.NoError(t, r.RevokeAllRefresh(ctx, 5))
	assert.False(t, m.Exists("refresh:5"))
	assert.True(t, m.Exists("refresh:6"))
	epoch, err := m.Get("refresh_epoch:5")
	require.NoError(t, err)
	assert.Equal(t, "1", epoch)
	assert.Equal(t, time.Hour, m.TTL("refresh_epoch:5"))

	require.NoError(t, r.RevokeAllRefresh(ctx, 5))
}

func TestRedeemRefresh_Concurrent(t *testing.T) {
	t.Parallel()

	r, _ := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, r.RegisterRefresh(ctx, 1, "tok"))

	const n = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := r.RedeemRefresh(ctx, 1, "tok")
			if assert.NoError(t, err) && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestRegisterRefresh_StoreDown(t *testing.T) {
	t.Parallel()

	r, m := newTestRepo(t)
	m.Close()

	err := r.RegisterRefresh(context.Background(), 1, "tok")
	require.Error(t, err)
	require.Error(t, r.Ping(context.Background()))
}
