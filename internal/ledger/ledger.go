package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"payment-reconciler/internal/models"

	"github.com/jmoiron/sqlx"
)

// ClaimResult is the outcome of attempting to claim an event id.
type ClaimResult int

const (
	// Claimed means this caller won the claim and must run business logic.
	Claimed ClaimResult = iota
	// AlreadyProcessed means the event reached a processed terminal state;
	// callers must acknowledge without side effects.
	AlreadyProcessed
	// AlreadyInFlight means another worker holds a fresh claim; callers
	// acknowledge and rely on the provider's retry policy.
	AlreadyInFlight
)

func (r ClaimResult) String() string {
	switch r {
	case Claimed:
		return "claimed"
	case AlreadyProcessed:
		return "already_processed"
	case AlreadyInFlight:
		return "already_in_flight"
	}
	return "unknown"
}

// Outcome is the terminal state recorded for a claimed event.
type Outcome struct {
	Status  string
	Message string
}

// Processed marks an event as successfully reconciled.
func Processed() Outcome {
	return Outcome{Status: models.EventStatusProcessed}
}

// Errored marks an event as failed; the business mutation was rolled
// back, so a later delivery of the same id may retry.
func Errored(message string) Outcome {
	return Outcome{Status: models.EventStatusError, Message: message}
}

// Ledger is the durable record of every inbound payment-event id and its
// processing outcome. Uniqueness of event_id is enforced by the storage
// layer, never by application locking.
type Ledger struct {
	db         *sqlx.DB
	claimLease time.Duration
}

// Config holds the retention windows for the ledger purge.
type Config struct {
	Retention      time.Duration
	ErrorRetention time.Duration
	PurgeBatch     int
}

// New creates a ledger backed by the given database.
func New(db *sqlx.DB, claimLease time.Duration) *Ledger {
	return &Ledger{db: db, claimLease: claimLease}
}

// Claim attempts to register intent to process an event id. Exactly one
// of two concurrent claims for the same id wins; the unique constraint
// on event_id resolves the race. A processing row older than the claim
// lease is treated as abandoned and taken over, so a crash mid-transaction
// cannot wedge an event id forever. An error row is always reclaimable
// because the business mutation rolled back with it.
func (l *Ledger) Claim(ctx context.Context, eventID, eventType string) (ClaimResult, error) {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO payment_events (event_id, event_type, status, claimed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType, models.EventStatusProcessing)
	if err != nil {
		return AlreadyInFlight, fmt.Errorf("failed to insert claim: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return Claimed, nil
	}

	var row models.PaymentEventRecord
	err = l.db.GetContext(ctx, &row,
		"SELECT * FROM payment_events WHERE event_id = $1", eventID)
	if err == sql.ErrNoRows {
		// Row purged between insert and read; next delivery restarts cleanly.
		return AlreadyInFlight, nil
	}
	if err != nil {
		return AlreadyInFlight, fmt.Errorf("failed to read existing claim: %w", err)
	}

	switch row.Status {
	case models.EventStatusProcessed:
		return AlreadyProcessed, nil

	case models.EventStatusError:
		return l.takeOver(ctx, eventID, models.EventStatusError, time.Time{})

	default:
		staleBefore := time.Now().Add(-l.claimLease)
		if row.ClaimedAt.After(staleBefore) {
			return AlreadyInFlight, nil
		}
		return l.takeOver(ctx, eventID, models.EventStatusProcessing, staleBefore)
	}
}

// takeOver reclaims a row left in a retryable state. The conditional
// update keeps the claim atomic against concurrent claimants.
func (l *Ledger) takeOver(ctx context.Context, eventID, fromStatus string, staleBefore time.Time) (ClaimResult, error) {
	query := `
		UPDATE payment_events
		SET status = $2, claimed_at = NOW(), error = NULL
		WHERE event_id = $1 AND status = $3`
	args := []interface{}{eventID, models.EventStatusProcessing, fromStatus}
	if !staleBefore.IsZero() {
		query += " AND claimed_at < $4"
		args = append(args, staleBefore)
	}

	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return AlreadyInFlight, fmt.Errorf("failed to take over claim: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return Claimed, nil
	}
	return AlreadyInFlight, nil
}

// Commit transitions a claimed event to its terminal state and stamps
// processed_at. Called exactly once per successful claim, on both
// success and failure paths.
func (l *Ledger) Commit(ctx context.Context, eventID string, outcome Outcome) error {
	var message *string
	if outcome.Message != "" {
		message = &outcome.Message
	}

	_, err := l.db.ExecContext(ctx, `
		UPDATE payment_events
		SET status = $2, error = $3, processed_at = NOW()
		WHERE event_id = $1`,
		eventID, outcome.Status, message)
	if err != nil {
		return fmt.Errorf("failed to commit event outcome: %w", err)
	}
	return nil
}

// Get retrieves a ledger row by event id.
func (l *Ledger) Get(ctx context.Context, eventID string) (*models.PaymentEventRecord, error) {
	var row models.PaymentEventRecord
	err := l.db.GetContext(ctx, &row,
		"SELECT * FROM payment_events WHERE event_id = $1", eventID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event not found: %s", eventID)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// PurgeExpired deletes terminal ledger rows past their retention window,
// in batches so a large backlog never holds long locks. Processed rows
// expire sooner than error rows, which stay visible for operator follow-up.
func (l *Ledger) PurgeExpired(ctx context.Context, cfg Config) (int64, error) {
	processed, err := l.purgeStatus(ctx, models.EventStatusProcessed, cfg.Retention, cfg.PurgeBatch)
	if err != nil {
		return processed, err
	}

	errored, err := l.purgeStatus(ctx, models.EventStatusError, cfg.ErrorRetention, cfg.PurgeBatch)
	return processed + errored, err
}

func (l *Ledger) purgeStatus(ctx context.Context, status string, retention time.Duration, batch int) (int64, error) {
	if batch <= 0 {
		batch = 1000
	}
	cutoff := time.Now().Add(-retention)

	var total int64
	for {
		res, err := l.db.ExecContext(ctx, `
			DELETE FROM payment_events
			WHERE event_id IN (
				SELECT event_id FROM payment_events
				WHERE status = $1 AND processed_at < $2
				LIMIT $3
			)`, status, cutoff, batch)
		if err != nil {
			return total, fmt.Errorf("failed to purge %s events: %w", status, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(batch) {
			return total, nil
		}
	}
}
