package audit

import (
	"time"

	"github.com/banglalekha/backend/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type AuditEvent struct {
	Timestamp      time.Time         `json:"timestamp"`
	EventType      string            `json:"event_type"`
	EntryID        string            `json:"entry_id,omitempty"`
	AccountID      string            `json:"account_id"`
	Kind           string            `json:"kind,omitempty"`
	Amount         int64             `json:"amount"`
	BalanceAfter   int64             `json:"balance_after"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Status         string            `json:"status"`
	Details        map[string]string `json:"details,omitempty"`
}

// AuditLogger writes one structured line per ledger-relevant event.
type AuditLogger struct {
	logger zerolog.Logger
}

func NewAuditLogger() *AuditLogger {
	return &AuditLogger{logger: log.With().Str("component", "audit").Logger()}
}

// NewAuditLoggerWith uses an explicit logger, mainly for tests.
func NewAuditLoggerWith(logger zerolog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

func (a *AuditLogger) LogEntry(entry *models.LedgerEntry, replayed bool) {
	status := "COMMITTED"
	eventType := "APPLY"
	if replayed {
		status = "REPLAYED"
		eventType = "REPLAY"
	}
	event := AuditEvent{
		Timestamp:      time.Now(),
		EventType:      eventType,
		EntryID:        entry.ID,
		AccountID:      entry.AccountID,
		Kind:           string(entry.Kind),
		Amount:         entry.Amount,
		BalanceAfter:   entry.BalanceAfter,
		IdempotencyKey: entry.IdempotencyKey,
		Status:         status,
	}
	if entry.ExternalRef != nil {
		event.Details = map[string]string{"external_ref": *entry.ExternalRef}
	}
	a.log(event)
}

func (a *AuditLogger) LogRejection(accountID, kind, idempotencyKey string, amount int64, err error) {
	event := AuditEvent{
		Timestamp:      time.Now(),
		EventType:      "REJECT",
		AccountID:      accountID,
		Kind:           kind,
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
		Status:         "FAILED",
		Details:        map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *AuditLogger) LogOperation(accountID, operation string, details map[string]string) {
	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: operation,
		AccountID: accountID,
		Status:    "SUCCESS",
		Details:   details,
	}
	a.log(event)
}

func (a *AuditLogger) log(event AuditEvent) {
	e := a.logger.Info().
		Time("event_time", event.Timestamp).
		Str("event_type", event.EventType).
		Str("account_id", event.AccountID).
		Str("status", event.Status).
		Int64("amount", event.Amount)
	if event.EntryID != "" {
		e = e.Str("entry_id", event.EntryID).Int64("balance_after", event.BalanceAfter)
	}
	if event.Kind != "" {
		e = e.Str("kind", event.Kind)
	}
	if event.IdempotencyKey != "" {
		e = e.Str("idempotency_key", event.IdempotencyKey)
	}
	if len(event.Details) > 0 {
		d := zerolog.Dict()
		for k, v := range event.Details {
			d = d.Str(k, v)
		}
		e = e.Dict("details", d)
	}
	e.Msg("audit")
}
