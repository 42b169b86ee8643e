package adminapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// AdminUser is the single operator account that can authenticate against
// the monitoring API. Unlike the teacher's multi-tenant User table, LLP
// has exactly one administrator per daemon instance.
type AdminUser struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Username  string    `gorm:"uniqueIndex;not null" json:"username"`
	Password  string    `gorm:"not null" json:"-"` // bcrypt hash
	CreatedAt time.Time `json:"created_at"`
}

// SessionRecord is the audit-log row for one LLP session's lifetime: one
// row is created when the session is established, then updated with its
// end time and reason when it closes.
type SessionRecord struct {
	ID             string     `gorm:"primarykey" json:"id"` // uuid
	SessionID      string     `gorm:"index;not null" json:"session_id"` // hex session id
	RemoteAddr     string     `json:"remote_addr"`
	Profile        string     `json:"profile"`
	EstablishedAt  time.Time  `json:"established_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	CloseReason    string     `json:"close_reason,omitempty"`
	RecordsSent    uint64     `json:"records_sent"`
	RecordsDropped uint64     `json:"records_dropped"`
}

// InitDB opens the admin database and runs migrations. dsn follows the
// teacher's "sqlite:///path" convention; only sqlite is supported, since
// the monitoring API is meant to run embedded alongside a single daemon
// rather than as a shared multi-instance service.
func InitDB(dsn string) (*gorm.DB, error) {
	if !strings.HasPrefix(dsn, "sqlite://") {
		return nil, fmt.Errorf("adminapi: unsupported database DSN: %s (only sqlite:// supported)", dsn)
	}
	dbPath := strings.TrimPrefix(dsn, "sqlite://")

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("adminapi: open database: %w", err)
	}

	if err := db.AutoMigrate(&AdminUser{}, &SessionRecord{}); err != nil {
		return nil, fmt.Errorf("adminapi: migrate database: %w", err)
	}
	return db, nil
}

// recordSessionEstablished inserts a new audit row for a freshly-established
// session.
func recordSessionEstablished(db *gorm.DB, sessionID, remoteAddr, profile string) error {
	rec := SessionRecord{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		RemoteAddr:    remoteAddr,
		Profile:       profile,
		EstablishedAt: time.Now(),
	}
	return db.Create(&rec).Error
}

// recordSessionClosed stamps the most recent open audit row for sessionID
// with its close time, reason, and final record counters.
func recordSessionClosed(db *gorm.DB, sessionID, reason string, sent, dropped uint64) error {
	now := time.Now()
	return db.Model(&SessionRecord{}).
		Where("session_id = ? AND closed_at IS NULL", sessionID).
		Updates(map[string]interface{}{
			"closed_at":       now,
			"close_reason":    reason,
			"records_sent":    sent,
			"records_dropped": dropped,
		}).Error
}
