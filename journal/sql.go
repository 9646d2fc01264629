package journal

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/user/blelink/link"
	"github.com/user/blelink/logger"
)

// EventRecord is one persisted lifecycle event
type EventRecord struct {
	ID          uint   `gorm:"primaryKey"`
	Kind        string `gorm:"index"`
	Device      string `gorm:"index"`
	Role        string
	Peer        string
	FromState   string
	ToState     string
	Reason      int
	RoundTripNs int64
	Bytes       int
	Detail      string
	OccurredAt  int64 `gorm:"index"` // Nanoseconds since epoch
}

func recordFor(e link.Event) EventRecord {
	return EventRecord{
		Kind:        string(e.Kind),
		Device:      e.Device,
		Role:        e.Role,
		Peer:        e.Peer,
		FromState:   e.From,
		ToState:     e.To,
		Reason:      e.Reason,
		RoundTripNs: int64(e.RoundTrip),
		Bytes:       e.Bytes,
		Detail:      e.Detail,
		OccurredAt:  e.Time.UnixNano(),
	}
}

// Event converts the row back into a lifecycle event
func (r EventRecord) Event() link.Event {
	return link.Event{
		Kind:      link.EventKind(r.Kind),
		Time:      time.Unix(0, r.OccurredAt),
		Device:    r.Device,
		Role:      r.Role,
		Peer:      r.Peer,
		From:      r.FromState,
		To:        r.ToState,
		Reason:    r.Reason,
		RoundTrip: time.Duration(r.RoundTripNs),
		Bytes:     r.Bytes,
		Detail:    r.Detail,
	}
}

// SQLJournal stores lifecycle events in SQLite
type SQLJournal struct {
	DB     *gorm.DB
	prefix string
}

// NewSQLJournal opens the database at path and migrates the schema.
// ":memory:" gives a private in-memory database.
func NewSQLJournal(path string) (*SQLJournal, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal db %s: %w", path, err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate journal db: %w", err)
	}
	return &SQLJournal{DB: db, prefix: "journal"}, nil
}

// Record inserts e. Failures are logged, never returned.
func (j *SQLJournal) Record(e link.Event) {
	rec := recordFor(e)
	if err := j.DB.Create(&rec).Error; err != nil {
		logger.Warn(j.prefix, "failed to store %s event: %v", e.Kind, err)
	}
}

// Recent returns up to limit events, newest first
func (j *SQLJournal) Recent(limit int) ([]link.Event, error) {
	var rows []EventRecord
	err := j.DB.Order("occurred_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	events := make([]link.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.Event())
	}
	return events, nil
}

// CountByKind returns how many events of kind were stored
func (j *SQLJournal) CountByKind(kind link.EventKind) (int64, error) {
	var n int64
	err := j.DB.Model(&EventRecord{}).Where("kind = ?", string(kind)).Count(&n).Error
	return n, err
}

func (j *SQLJournal) Close() error {
	sqlDB, err := j.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
