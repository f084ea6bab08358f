package audit

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Skotchmaster/lunch_list/internal/models"
)

// Store keeps one row per login attempt and answers the throttle query.
type Store struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db, Now: time.Now}
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.DB.WithContext(ctx).AutoMigrate(&models.LoginAttempt{}); err != nil {
		return fmt.Errorf("migrate login_attempts: %w", err)
	}
	return nil
}

func (s *Store) Record(ctx context.Context, username, ip string, success bool) error {
	attempt := models.LoginAttempt{
		Username:  username,
		Success:   success,
		IPAddress: ip,
		CreatedAt: s.Now().UTC(),
	}
	if err := s.DB.WithContext(ctx).Create(&attempt).Error; err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}

// RecentFailures counts failed attempts for username after since. A
// successful login inside the window resets the count.
func (s *Store) RecentFailures(ctx context.Context, username string, since time.Time) (int64, error) {
	db := s.DB.WithContext(ctx)
	since = since.UTC()

	var last []models.LoginAttempt
	if err := db.Where("username = ? AND success = ? AND created_at >= ?", username, true, since).
		Order("created_at desc").Limit(1).Find(&last).Error; err != nil {
		return 0, fmt.Errorf("last successful login: %w", err)
	}

	q := db.Model(&models.LoginAttempt{}).Where("username = ? AND success = ?", username, false)
	if len(last) == 1 {
		q = q.Where("created_at > ?", last[0].CreatedAt.UTC())
	} else {
		q = q.Where("created_at >= ?", since)
	}

	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count failed logins: %w", err)
	}
	return n, nil
}
