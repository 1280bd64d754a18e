package queue

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/deemkeen/stegodon/db"
	"github.com/deemkeen/stegodon/domain"
)

// Broker is the work-queue contract the producer and delivery engine use
// to hand off outbound delivery jobs: one method to publish and one to
// consume, with the concrete transport left to the implementation. Only
// outbound delivery is modeled; there are no methods for inbound
// processing, delivery reports or admin messages.
type Broker interface {
	PublishDelivery(job domain.DeliveryJob) error
	// NextDelivery claims the next due job. The returned ack func must be
	// called exactly once with the outcome: success=true deletes the job,
	// success=false reschedules it with backoff. retryAfter, when nonzero,
	// overrides the backoff schedule with that exact delay (honoring a
	// peer's Retry-After on a 429).
	NextDelivery() (*domain.DeliveryJob, func(success bool, retryAfter time.Duration), error)
}

// StoreBroker is a Broker backed by a SQLite table rather than a
// standalone message broker process. Jobs are claimed by polling
// next_attempt_at, the same pattern the delivery worker already used for
// its retry queue.
type StoreBroker struct {
	db          *db.DB
	maxAttempts int
	baseBackoff time.Duration
}

// BrokerConfig carries the retry policy knobs from util.AppConfig
// (RetryAttempts/RetryBaseMs): how many times a job is retried before it
// is given up on, and the unit the backoff ladder is scaled by.
type BrokerConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

// NewStoreBroker builds a StoreBroker. A zero-value cfg falls back to the
// teacher's original fixed policy (10 attempts, one-minute base).
func NewStoreBroker(database *db.DB, cfg BrokerConfig) *StoreBroker {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxDeliveryAttempts
	}
	baseBackoff := cfg.BaseBackoff
	if baseBackoff == 0 {
		baseBackoff = time.Minute
	}
	return &StoreBroker{db: database, maxAttempts: maxAttempts, baseBackoff: baseBackoff}
}

const sqlInsertDeliveryJob = `INSERT INTO delivery_jobs(activity_id, recipient, inbox_url, attempts, next_attempt_at)
	VALUES (?, '', '', 0, ?)`

// PublishDelivery enqueues one job per activity; the delivery engine
// expands the activity's audience into individual recipients itself.
func (b *StoreBroker) PublishDelivery(job domain.DeliveryJob) error {
	return b.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDeliveryJob, job.ActivityID, time.Now().UTC())
		return err
	})
}

const (
	sqlSelectNextDeliveryJob = `SELECT id, activity_id, attempts FROM delivery_jobs
		WHERE next_attempt_at <= ? ORDER BY next_attempt_at ASC LIMIT 1`
	sqlClaimDeliveryJob  = `UPDATE delivery_jobs SET next_attempt_at = ? WHERE id = ? AND next_attempt_at <= ?`
	sqlDeleteDeliveryJob = `DELETE FROM delivery_jobs WHERE id = ?`
	sqlDeferDeliveryJob  = `UPDATE delivery_jobs SET attempts = attempts + 1, next_attempt_at = ?, last_error = ? WHERE id = ?`
)

// backoffMultipliers mirrors the teacher's minute-based retry ladder,
// expressed as multiples of baseBackoff rather than fixed minutes so
// RetryBaseMs can rescale the whole schedule: the delay grows with each
// attempt and tops out at a day between tries at the default base.
var backoffMultipliers = []int{1, 5, 15, 60, 240, 1440}

const defaultMaxDeliveryAttempts = 10

func (b *StoreBroker) backoffFor(attempt int) time.Duration {
	idx := attempt
	if idx >= len(backoffMultipliers) {
		idx = len(backoffMultipliers) - 1
	}
	return time.Duration(backoffMultipliers[idx]) * b.baseBackoff
}

// NextDelivery claims the oldest due job, returning an ack function the
// caller must invoke with the outcome: true deletes the job, false
// reschedules it with backoff (or gives up and deletes it once
// maxAttempts is reached).
func (b *StoreBroker) NextDelivery() (*domain.DeliveryJob, func(success bool, retryAfter time.Duration), error) {
	var id int64
	var activityID string
	var attempts int
	now := time.Now().UTC()
	err := b.db.Conn().QueryRow(sqlSelectNextDeliveryJob, now).Scan(&id, &activityID, &attempts)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("claim delivery job: %w", err)
	}
	// Move the job out of the due window so no other worker selects it
	// while this one holds it; ack overwrites next_attempt_at either way.
	res, err := b.db.Conn().Exec(sqlClaimDeliveryJob, now.Add(10*time.Minute), id, now)
	if err != nil {
		return nil, nil, fmt.Errorf("claim delivery job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil, nil
	}

	ack := func(success bool, retryAfter time.Duration) {
		if success || attempts+1 >= b.maxAttempts {
			b.db.WithTx(func(tx *sql.Tx) error {
				_, err := tx.Exec(sqlDeleteDeliveryJob, id)
				return err
			})
			return
		}
		delay := b.backoffFor(attempts)
		if retryAfter > 0 {
			delay = retryAfter
		}
		next := time.Now().UTC().Add(delay)
		b.db.WithTx(func(tx *sql.Tx) error {
			_, err := tx.Exec(sqlDeferDeliveryJob, next, "delivery incomplete, retrying", id)
			return err
		})
	}

	return &domain.DeliveryJob{ActivityID: activityID}, ack, nil
}
