package tokens

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	Issuer = "lunch-list"

	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var ErrInvalidToken = errors.New("invalid token")

type AccessClaims struct {
	UID  int64  `json:"uid"`
	Name string `json:"name"`
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	UID  int64  `json:"uid"`
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Manager signs and verifies HS256 tokens with a single shared secret.
// It never touches storage.
type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration

	Now func() time.Time
}

func NewManager(secret []byte, accessTTL, refreshTTL time.Duration) *Manager {
	return &Manager{
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		Now:        time.Now,
	}
}

func (m *Manager) IssueAccess(uid int64, name string) (string, time.Time, error) {
	now := m.Now()
	exp := now.Add(m.accessTTL)
	claims := AccessClaims{
		UID:  uid,
		Name: name,
		Type: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   strconv.FormatInt(uid, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return token, exp, nil
}

func (m *Manager) IssueRefresh(uid int64) (string, time.Time, error) {
	now := m.Now()
	exp := now.Add(m.refreshTTL)
	claims := RefreshClaims{
		UID:  uid,
		Type: TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    Issuer,
			Subject:   strconv.FormatInt(uid, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return token, exp, nil
}

func (m *Manager) ParseAccess(token string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := m.parse(token, &claims); err != nil {
		return nil, err
	}
	if claims.Type != TypeAccess {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrInvalidToken, TypeAccess, claims.Type)
	}
	if err := checkSubject(claims.Subject, claims.UID); err != nil {
		return nil, err
	}
	return &claims, nil
}

func (m *Manager) ParseRefresh(token string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := m.parse(token, &claims); err != nil {
		return nil, err
	}
	if claims.Type != TypeRefresh {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrInvalidToken, TypeRefresh, claims.Type)
	}
	if err := checkSubject(claims.Subject, claims.UID); err != nil {
		return nil, err
	}
	return &claims, nil
}

func (m *Manager) parse(token string, claims jwt.Claims) error {
	if token == "" {
		return fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.Now),
	)
	tkn, err := p.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !tkn.Valid {
		return ErrInvalidToken
	}
	return nil
}

func checkSubject(sub string, uid int64) error {
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 || id != uid {
		return fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return nil
}
