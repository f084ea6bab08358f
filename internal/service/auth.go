package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/Skotchmaster/lunch_list/internal/logging"
	"github.com/Skotchmaster/lunch_list/internal/models"
	"github.com/Skotchmaster/lunch_list/internal/obs"
	"github.com/Skotchmaster/lunch_list/internal/repo"
	"github.com/Skotchmaster/lunch_list/internal/tokens"
)

type CredentialStore interface {
	UserExists(ctx context.Context, username string) (bool, error)
	UserID(ctx context.Context, username string) (int64, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	CreateUser(ctx context.Context, username, passwordHash string) (int64, error)
}

type SessionRegistry interface {
	RegisterRefresh(ctx context.Context, userID int64, token string) error
	RedeemRefresh(ctx context.Context, userID int64, token string) (int64, bool, error)
	RotateRefresh(ctx context.Context, userID int64, token string, epoch int64) (bool, error)
	RevokeRefresh(ctx context.Context, userID int64, token string) error
	RevokeAllRefresh(ctx context.Context, userID int64) error
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Check(password, encoded string) (bool, error)
}

type TokenManager interface {
	IssueAccess(uid int64, name string) (string, time.Time, error)
	IssueRefresh(uid int64) (string, time.Time, error)
	ParseAccess(token string) (*tokens.AccessClaims, error)
	ParseRefresh(token string) (*tokens.RefreshClaims, error)
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, key string, event any) error
}

type AttemptStore interface {
	Record(ctx context.Context, username, ip string, success bool) error
	RecentFailures(ctx context.Context, username string, since time.Time) (int64, error)
}

// AuthService keeps no session state of its own; everything lives behind
// Users and Sessions, so one instance serves all requests concurrently.
type AuthService struct {
	Users    CredentialStore
	Sessions SessionRegistry
	Hasher   PasswordHasher
	Tokens   TokenManager

	// Optional.
	Events   EventPublisher
	Attempts AttemptStore

	// Empty means open signup.
	SignupSecret  string
	MaxFailures   int
	FailureWindow time.Duration
	Now           func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

type LoginResult struct {
	UserID       int64
	Username     string
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

func (s *AuthService) SignUp(ctx context.Context, username, password, secret string) (int64, error) {
	username = NormalizeUsername(username)
	l := logging.FromContext(ctx).With("svc", "auth.signup", "username", username)

	verr := validateCredentials(username, password)
	if s.SignupSecret != "" && subtle.ConstantTimeCompare([]byte(secret), []byte(s.SignupSecret)) != 1 {
		if verr == nil {
			verr = &ValidationError{}
		}
		verr.add("secret", msgSignupSecret)
	}
	if verr != nil {
		l.Warn("signup_rejected", "status", 400, "fields", verr.Fields)
		countOp("signup", "invalid")
		return 0, verr
	}

	exists, err := s.Users.UserExists(ctx, username)
	if err != nil {
		return 0, s.internal(l, "signup", err)
	}
	if exists {
		l.Warn("signup_rejected", "status", 400, "reason", "user already exists")
		countOp("signup", "conflict")
		return 0, &ConflictError{Username: username}
	}

	pwHash, err := s.Hasher.Hash(password)
	if err != nil {
		return 0, s.internal(l, "signup", err)
	}

	id, err := s.Users.CreateUser(ctx, username, pwHash)
	if errors.Is(err, repo.ErrUserExists) {
		l.Warn("signup_rejected", "status", 400, "reason", "lost race for username")
		countOp("signup", "conflict")
		return 0, &ConflictError{Username: username}
	}
	if err != nil {
		return 0, s.internal(l, "signup", err)
	}

	l.Info("signup_successful", "user_id", id)
	countOp("signup", "success")
	s.publish(ctx, l, models.EventSignedUp, id, username)
	return id, nil
}

func (s *AuthService) Login(ctx context.Context, username, password, ip string) (*LoginResult, error) {
	username = NormalizeUsername(username)
	l := logging.FromContext(ctx).With("svc", "auth.login", "username", username)

	if verr := validateCredentials(username, password); verr != nil {
		l.Warn("login_failed", "status", 400, "fields", verr.Fields)
		countOp("login", "invalid")
		return nil, verr
	}

	if s.throttled(ctx, l, username) {
		l.Warn("login_failed", "status", 429, "reason", "too many failed attempts")
		countOp("login", "throttled")
		return nil, ErrTooManyAttempts
	}

	id, err := s.Users.UserID(ctx, username)
	if errors.Is(err, repo.ErrUserNotFound) {
		s.burnHash(password)
		return nil, s.rejectLogin(ctx, l, username, ip, "unknown user")
	}
	if err != nil {
		return nil, s.internal(l, "login", err)
	}

	user, err := s.Users.GetUser(ctx, id)
	if errors.Is(err, repo.ErrUserNotFound) {
		s.burnHash(password)
		return nil, s.rejectLogin(ctx, l, username, ip, "dangling user index")
	}
	if err != nil {
		return nil, s.internal(l, "login", err)
	}

	ok, err := s.Hasher.Check(password, user.PasswordHash)
	if err != nil {
		l.Error("stored_hash_unusable", "user_id", id, "error", err)
	}
	if !ok {
		return nil, s.rejectLogin(ctx, l, username, ip, "wrong password")
	}

	res, err := s.issuePair(user.ID, user.Username, func(token string) error {
		return s.Sessions.RegisterRefresh(ctx, user.ID, token)
	})
	if err != nil {
		return nil, s.internal(l, "login", err)
	}

	s.recordAttempt(ctx, l, username, ip, true)
	l.Info("login_successful", "user_id", id)
	countOp("login", "success")
	s.publish(ctx, l, models.EventLoggedIn, id, user.Username)
	return res, nil
}

// Refresh redeems a refresh token and rotates it. Presenting a token that is
// not registered, for example one already redeemed, revokes every session of
// its user, including successors whose rotation is still in flight.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	claims, err := s.Tokens.ParseRefresh(refreshToken)
	if err != nil {
		l.Warn("refresh_failed", "status", 401, "error", err)
		countOp("refresh", "unauthorized")
		return nil, ErrUnauthorized
	}
	uid := claims.UID
	l = l.With("user_id", uid)

	epoch, redeemed, err := s.Sessions.RedeemRefresh(ctx, uid, refreshToken)
	if err != nil {
		return nil, s.internal(l, "refresh", err)
	}
	if !redeemed {
		l.Warn("refresh_reuse_detected", "status", 401, "jti", claims.ID)
		obs.RefreshReuse.Inc()
		countOp("refresh", "reuse")
		if err := s.Sessions.RevokeAllRefresh(ctx, uid); err != nil {
			return nil, s.internal(l, "refresh", err)
		}
		s.publish(ctx, l, models.EventReuseDetected, uid, "")
		return nil, ErrUnauthorized
	}

	user, err := s.Users.GetUser(ctx, uid)
	if errors.Is(err, repo.ErrUserNotFound) {
		l.Warn("refresh_failed", "status", 401, "reason", "user not found")
		countOp("refresh", "unauthorized")
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, s.internal(l, "refresh", err)
	}

	// A replay that revoked the family after our redemption leaves the
	// successor unregistered; it is refused on its first use.
	res, err := s.issuePair(uid, user.Username, func(token string) error {
		ok, err := s.Sessions.RotateRefresh(ctx, uid, token, epoch)
		if err == nil && !ok {
			l.Warn("refresh_successor_dropped", "reason", "sessions revoked during rotation")
		}
		return err
	})
	if err != nil {
		return nil, s.internal(l, "refresh", err)
	}

	l.Info("refresh_successful")
	countOp("refresh", "success")
	s.publish(ctx, l, models.EventRefreshed, uid, user.Username)
	return res, nil
}

// LogOut revokes the presented refresh token, or every session of its user
// when all is set. An unverifiable token is not an error.
func (s *AuthService) LogOut(ctx context.Context, refreshToken string, all bool) error {
	l := logging.FromContext(ctx).With("svc", "auth.logout", "all", all)

	claims, err := s.Tokens.ParseRefresh(refreshToken)
	if err != nil {
		l.Debug("logout_without_valid_token", "error", err)
		countOp("logout", "noop")
		return nil
	}
	uid := claims.UID
	l = l.With("user_id", uid)

	if all {
		err = s.Sessions.RevokeAllRefresh(ctx, uid)
	} else {
		err = s.Sessions.RevokeRefresh(ctx, uid, refreshToken)
	}
	if err != nil {
		return s.internal(l, "logout", err)
	}

	l.Info("logout_successful")
	countOp("logout", "success")
	s.publish(ctx, l, models.EventLoggedOut, uid, "")
	return nil
}

// issuePair registers the refresh token before handing it out.
func (s *AuthService) issuePair(uid int64, name string, register func(token string) error) (*LoginResult, error) {
	access, accessExp, err := s.Tokens.IssueAccess(uid, name)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.Tokens.IssueRefresh(uid)
	if err != nil {
		return nil, err
	}
	if err := register(refresh); err != nil {
		return nil, err
	}
	return &LoginResult{
		UserID:       uid,
		Username:     name,
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

func (s *AuthService) rejectLogin(ctx context.Context, l *slog.Logger, username, ip, reason string) error {
	s.recordAttempt(ctx, l, username, ip, false)
	l.Warn("login_failed", "status", 401, "reason", reason)
	countOp("login", "unauthorized")
	return ErrUnauthorized
}

func (s *AuthService) throttled(ctx context.Context, l *slog.Logger, username string) bool {
	if s.Attempts == nil || s.MaxFailures <= 0 {
		return false
	}
	n, err := s.Attempts.RecentFailures(ctx, username, s.now().Add(-s.FailureWindow))
	if err != nil {
		l.Error("throttle_check_failed", "error", err)
		return false
	}
	return n >= int64(s.MaxFailures)
}

func (s *AuthService) recordAttempt(ctx context.Context, l *slog.Logger, username, ip string, success bool) {
	if s.Attempts == nil {
		return
	}
	if err := s.Attempts.Record(ctx, username, ip, success); err != nil {
		l.Error("record_login_attempt_failed", "error", err)
	}
}

// burnHash spends roughly the cost of a real verification so unknown
// usernames cannot be told apart by latency.
func (s *AuthService) burnHash(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.Hasher.Hash("lunch-list")
	})
	if s.dummyHash != "" {
		_, _ = s.Hasher.Check(password, s.dummyHash)
	}
}

func (s *AuthService) publish(ctx context.Context, l *slog.Logger, typ string, uid int64, username string) {
	if s.Events == nil {
		return
	}
	ev := models.AuthEvent{Type: typ, UserID: uid, Username: username, At: s.now().UTC()}
	if err := s.Events.PublishEvent(ctx, strconv.FormatInt(uid, 10), ev); err != nil {
		l.Warn("event_publish_failed", "event", typ, "error", err)
	}
}

func (s *AuthService) internal(l *slog.Logger, op string, err error) error {
	l.Error(op+"_failed", "status", 500, "error", err)
	countOp(op, "error")
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func countOp(op, result string) {
	obs.AuthOperations.WithLabelValues(op, result).Inc()
}
