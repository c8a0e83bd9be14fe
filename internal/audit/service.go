package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/elskow/portal/internal/metrics"
)

// Event describes something worth auditing. Old and New are marshalled to
// JSON snapshots.
type Event struct {
	UserID   *uuid.UUID
	Action   string
	Table    string
	RecordID string
	Old      interface{}
	New      interface{}
	Origin   Origin
	Severity Severity
	Success  bool
	Error    string
}

// Recorder is what other components depend on to write audit entries.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

type Service struct {
	repo Repository
	node *snowflake.Node
	log  *zap.Logger
	now  func() time.Time
}

func NewService(repo Repository, nodeID int64, log *zap.Logger) (*Service, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit id generator: %w", err)
	}
	return &Service{
		repo: repo,
		node: node,
		log:  log.Named("audit"),
		now:  time.Now,
	}, nil
}

// Record persists the event synchronously. Failures are logged and counted
// but never returned, so auditing cannot fail the operation being audited.
func (s *Service) Record(ctx context.Context, event Event) {
	entry, err := s.buildEntry(event)
	if err != nil {
		s.log.Error("failed to build audit entry",
			zap.String("action", event.Action),
			zap.Error(err))
		metrics.AuditWriteFailuresTotal.Inc()
		return
	}

	// Outlives the request context.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.repo.Create(writeCtx, entry); err != nil {
		s.log.Error("failed to write audit entry",
			zap.String("action", entry.Action),
			zap.String("severity", string(entry.Severity)),
			zap.Error(err))
		metrics.AuditWriteFailuresTotal.Inc()
		return
	}

	fields := []zap.Field{
		zap.String("action", entry.Action),
		zap.String("severity", string(entry.Severity)),
		zap.Bool("success", entry.Success),
	}
	if entry.RecordID != "" {
		fields = append(fields, zap.String("record_id", entry.RecordID))
	}
	switch entry.Severity {
	case SeverityWarning:
		s.log.Warn("audit event", fields...)
	case SeverityError, SeverityCritical:
		s.log.Error("audit event", fields...)
	default:
		s.log.Debug("audit event", fields...)
	}
}

func (s *Service) List(ctx context.Context, filter Filter) ([]Entry, int64, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) buildEntry(event Event) (*Entry, error) {
	severity := event.Severity
	if !severity.Valid() {
		severity = SeverityInfo
	}

	oldValues, err := snapshot(event.Old)
	if err != nil {
		return nil, fmt.Errorf("old values: %w", err)
	}
	newValues, err := snapshot(event.New)
	if err != nil {
		return nil, fmt.Errorf("new values: %w", err)
	}

	entry := &Entry{
		ID:        s.node.Generate().Int64(),
		UserID:    event.UserID,
		Action:    event.Action,
		Table:     event.Table,
		RecordID:  event.RecordID,
		OldValues: oldValues,
		NewValues: newValues,
		IPAddress: optional(event.Origin.IP),
		UserAgent: optional(event.Origin.UserAgent),
		Severity:  severity,
		Success:   event.Success,
		CreatedAt: s.now(),
	}
	if event.Error != "" {
		entry.ErrorMessage = &event.Error
	}
	return entry, nil
}

func snapshot(v interface{}) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(datatypes.JSON); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
