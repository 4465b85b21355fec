package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"inferpay/core/events"
	"inferpay/core/types"
	"inferpay/observability"
)

// DefaultLimit caps Query results when the filter leaves Limit unset.
const DefaultLimit = 100

// MaxLimit is the largest page Query returns.
const MaxLimit = 1000

// ErrUnknownDriver is returned by Open for unsupported drivers.
var ErrUnknownDriver = errors.New("auditlog: unknown driver")

// Record is one committed audit event.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Height     uint64    `gorm:"index"`
	Type       string    `gorm:"size:64;index"`
	RequestID  string    `gorm:"size:66;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// Event rebuilds the broadcast form of the record.
func (r Record) Event() *types.Event {
	evt := &types.Event{Type: r.Type, Height: r.Height, Attributes: map[string]string{}}
	if r.Attributes != "" {
		_ = json.Unmarshal([]byte(r.Attributes), &evt.Attributes)
	}
	return evt
}

// Filter narrows Query results. Zero values match everything.
type Filter struct {
	Type       string
	RequestID  string
	FromHeight uint64
	Limit      int
}

// Open connects to the configured backend.
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), cfg)
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// AutoMigrate creates or updates the audit table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{})
}

// Store persists committed events. It implements events.Emitter so it can sit
// directly behind the node's event sink.
type Store struct {
	db      *gorm.DB
	logger  *slog.Logger
	metrics *observability.NodeMetrics
	now     func() time.Time
}

// New migrates db and returns a store over it.
func New(db *gorm.DB, log *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("auditlog: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auditlog: migrate: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		db:      db,
		logger:  log.With(slog.String("component", "auditlog")),
		metrics: observability.Node(),
		now:     time.Now,
	}, nil
}

// Emit implements events.Emitter. Write failures are logged and counted; the
// node has already committed the unit that produced the event.
func (s *Store) Emit(e events.Event) {
	if s == nil || e == nil {
		return
	}
	err := s.Append(context.Background(), e.Event())
	s.metrics.RecordAuditWrite(err)
	if err != nil {
		s.logger.Error("audit write failed",
			slog.String("type", e.EventType()),
			slog.String("error", err.Error()))
	}
}

// Append stores evt.
func (s *Store) Append(ctx context.Context, evt *types.Event) error {
	if evt == nil {
		return nil
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return fmt.Errorf("auditlog: encode attributes: %w", err)
	}
	rec := Record{
		ID:         uuid.New(),
		Height:     evt.Height,
		Type:       evt.Type,
		RequestID:  evt.Attr("requestId"),
		Attributes: string(attrs),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("auditlog: insert: %w", err)
	}
	return nil
}

// Query returns records matching f in commit order.
func (s *Store) Query(ctx context.Context, f Filter) ([]Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	q := s.db.WithContext(ctx).Model(&Record{})
	if t := strings.TrimSpace(f.Type); t != "" {
		q = q.Where("type = ?", t)
	}
	if id := strings.ToLower(strings.TrimSpace(f.RequestID)); id != "" {
		q = q.Where("request_id = ?", id)
	}
	if f.FromHeight > 0 {
		q = q.Where("height >= ?", f.FromHeight)
	}
	var out []Record
	if err := q.Order("height asc").Order("created_at asc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("auditlog: query: %w", err)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
