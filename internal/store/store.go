// Package store is the client's local persistence layer: the stored session
// credential and an offline snapshot of the feed. It plays the role a secure
// keystore plays on a phone, backed by a single sqlite file.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tailtrail/internal/models"
)

// credential is the single persisted session row.
type credential struct {
	ID        uint   `gorm:"primaryKey"`
	Token     string `gorm:"not null"`
	Profile   []byte // JSON-encoded models.User, may be empty
	UpdatedAt time.Time
}

// cachedPost is one row of the offline feed snapshot.
type cachedPost struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	Position int    `gorm:"index"`
	Body     []byte `gorm:"not null"` // JSON-encoded models.Post
}

// DB wraps the sqlite-backed local state.
type DB struct {
	db *gorm.DB
}

// Open opens (creating if needed) the local state database at path.
// Use ":memory:" for tests.
func Open(path string) (*DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open local state: %w", err)
	}
	if err := db.AutoMigrate(&credential{}, &cachedPost{}); err != nil {
		return nil, fmt.Errorf("migrate local state: %w", err)
	}
	return &DB{db: db}, nil
}

// SaveCredential stores the token and optional profile, replacing any previous
// credential.
func (d *DB) SaveCredential(token string, user *models.User) error {
	var profile []byte
	if user != nil {
		var err error
		profile, err = json.Marshal(user)
		if err != nil {
			return fmt.Errorf("encode profile: %w", err)
		}
	}
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&credential{}).Error; err != nil {
			return err
		}
		return tx.Create(&credential{ID: 1, Token: token, Profile: profile}).Error
	})
}

// LoadCredential returns the stored token and profile. A missing credential is
// not an error: it returns an empty token and nil profile.
func (d *DB) LoadCredential() (string, *models.User, error) {
	var cred credential
	err := d.db.First(&cred, 1).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("load credential: %w", err)
	}
	var user *models.User
	if len(cred.Profile) > 0 {
		user = &models.User{}
		if err := json.Unmarshal(cred.Profile, user); err != nil {
			// A corrupt cached profile is recoverable; the session refetches.
			user = nil
		}
	}
	return cred.Token, user, nil
}

// ClearCredential deletes the stored credential. Idempotent.
func (d *DB) ClearCredential() error {
	return d.db.Where("1 = 1").Delete(&credential{}).Error
}

// ReplaceFeedSnapshot replaces the offline feed snapshot with the given posts.
func (d *DB) ReplaceFeedSnapshot(posts []models.Post) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&cachedPost{}).Error; err != nil {
			return err
		}
		for i := range posts {
			body, err := json.Marshal(&posts[i])
			if err != nil {
				return fmt.Errorf("encode post: %w", err)
			}
			if err := tx.Create(&cachedPost{Position: i, Body: body}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadFeedSnapshot returns the offline feed snapshot in stored order. An empty
// snapshot yields a nil slice.
func (d *DB) LoadFeedSnapshot() ([]models.Post, error) {
	var rows []cachedPost
	if err := d.db.Order("position asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load feed snapshot: %w", err)
	}
	var posts []models.Post
	for _, row := range rows {
		var p models.Post
		if err := json.Unmarshal(row.Body, &p); err != nil {
			continue // skip corrupt rows rather than failing the whole cache
		}
		posts = append(posts, p)
	}
	return posts, nil
}

// Close closes the underlying database handle.
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
