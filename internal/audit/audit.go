// Package audit is the administrative audit trail supplement described
// in SPEC_FULL.md's DOMAIN STACK: a durable record of mint/refresh/
// revoke/rotate actions, distinct from the (never persisted) tokens
// themselves. Grounded on auth/store/store.go's GormStore/AutoMigrate
// pattern and auth/audit/service.go's Service.Log.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"tokensapi/internal/apperr"
	"tokensapi/internal/core"
	"tokensapi/internal/logging"
)

// Event is the GORM model for one audit row.
type Event struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	TenantID  string `gorm:"not null;index"`
	ActorType string `gorm:"not null"`
	ActorID   string `gorm:"not null"`
	EventType string `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null;index"`
	Detail    string `gorm:"type:text"`
}

func (Event) TableName() string { return "audit_events" }

// Store wraps a *gorm.DB the same way auth/store/store.go's GormStore
// wraps one, exposing AutoMigrate and an accessor that implements
// core.AuditSink.
type Store struct {
	db *gorm.DB
}

// New opens a connection per databaseURL's scheme: "sqlite://path" for
// local/test use, anything else passed straight to the Postgres driver
// (same pairing the teacher's store.New/NewWithDB split supports).
func New(databaseURL string) (*Store, error) {
	var dialector gorm.Dialector
	if isSqliteURL(databaseURL) {
		dialector = sqlite.Open(sqlitePath(databaseURL))
	} else {
		dialector = postgres.Open(databaseURL)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, apperr.Internal("failed to open audit database", err)
	}
	return &Store{db: db}, nil
}

func NewWithDB(db *gorm.DB) *Store { return &Store{db: db} }

func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Event{})
}

func isSqliteURL(url string) bool {
	return len(url) >= len("sqlite://") && url[:len("sqlite://")] == "sqlite://"
}

func sqlitePath(url string) string {
	return url[len("sqlite://"):]
}

// Sink implements core.AuditSink against the audit_events table.
type Sink struct {
	store *Store
}

func NewSink(store *Store) *Sink { return &Sink{store: store} }

func (s *Sink) Log(ctx context.Context, event core.AuditEvent) error {
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	row := Event{
		ID: id, TenantID: event.TenantID, ActorType: event.ActorType,
		ActorID: event.ActorID, EventType: event.EventType, CreatedAt: event.CreatedAt,
		Detail: detailToJSON(event.Detail),
	}
	if err := s.store.db.WithContext(ctx).Create(&row).Error; err != nil {
		logging.Audit().Error().Err(err).Str("event_type", event.EventType).Msg("failed to persist audit event")
		return apperr.Internal("failed to persist audit event", err)
	}
	return nil
}

func detailToJSON(detail map[string]interface{}) string {
	if len(detail) == 0 {
		return "{}"
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return "{}"
	}
	return string(b)
}
