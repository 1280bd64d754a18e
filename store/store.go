package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/stegodon/db"
	"github.com/deemkeen/stegodon/domain"
)

// ErrAlreadyExists is returned by the idempotent insert operations when a
// row with the same primary key is already present.
var ErrAlreadyExists = errors.New("already exists")

// ErrNotFound is returned by the single-row lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Store is a typed CRUD layer over the shared sqlite connection pool.
type Store struct {
	db *db.DB
}

func New(database *db.DB) *Store {
	return &Store{db: database}
}

const (
	sqlUpsertActor = `INSERT INTO actors(
		actor_id, domain, preferred_username, actor_type, inbox, outbox,
		followers, following, shared_inbox, public_key_id, public_key_pem,
		private_key_ref, manually_approves, published, last_fetched, local
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT(actor_id) DO UPDATE SET
		domain=excluded.domain, preferred_username=excluded.preferred_username,
		actor_type=excluded.actor_type, inbox=excluded.inbox, outbox=excluded.outbox,
		followers=excluded.followers, following=excluded.following,
		shared_inbox=excluded.shared_inbox, public_key_id=excluded.public_key_id,
		public_key_pem=excluded.public_key_pem, private_key_ref=excluded.private_key_ref,
		manually_approves=excluded.manually_approves, last_fetched=excluded.last_fetched`

	sqlSelectActorByID = `SELECT actor_id, domain, preferred_username, actor_type, inbox,
		outbox, followers, following, shared_inbox, public_key_id, public_key_pem,
		private_key_ref, manually_approves, published, last_fetched, local
		FROM actors WHERE actor_id = ?`

	sqlSelectActorByUsername = `SELECT actor_id, domain, preferred_username, actor_type, inbox,
		outbox, followers, following, shared_inbox, public_key_id, public_key_pem,
		private_key_ref, manually_approves, published, last_fetched, local
		FROM actors WHERE preferred_username = ? AND local = 1`
)

func (s *Store) UpsertActor(a *domain.Actor) error {
	local := 0
	if a.Local {
		local = 1
	}
	manually := 0
	if a.ManuallyApproves {
		manually = 1
	}
	return s.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertActor,
			a.ActorID, a.Domain, a.PreferredUsername, string(a.ActorType), a.Inbox, a.Outbox,
			a.Followers, a.Following, a.SharedInbox, a.PublicKeyID, a.PublicKeyPem,
			a.PrivateKeyRef, manually, a.Published, a.LastFetched, local,
		)
		return err
	})
}

func (s *Store) FindActorByID(actorID string) (error, *domain.Actor) {
	return s.scanActor(s.db.Conn().QueryRow(sqlSelectActorByID, actorID))
}

func (s *Store) FindActorByUsername(username string) (error, *domain.Actor) {
	return s.scanActor(s.db.Conn().QueryRow(sqlSelectActorByUsername, username))
}

func (s *Store) scanActor(row *sql.Row) (error, *domain.Actor) {
	var a domain.Actor
	var actorType, followers, following, sharedInbox, pubKeyID, pubKeyPem, privKeyRef string
	var manually, local int
	var published, lastFetched sql.NullTime

	err := row.Scan(&a.ActorID, &a.Domain, &a.PreferredUsername, &actorType, &a.Inbox, &a.Outbox,
		&followers, &following, &sharedInbox, &pubKeyID, &pubKeyPem, &privKeyRef,
		&manually, &published, &lastFetched, &local)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound, nil
	}
	if err != nil {
		return fmt.Errorf("scan actor: %w", err), nil
	}

	a.ActorType = domain.ActorType(actorType)
	a.Followers, a.Following, a.SharedInbox = followers, following, sharedInbox
	a.PublicKeyID, a.PublicKeyPem, a.PrivateKeyRef = pubKeyID, pubKeyPem, privKeyRef
	a.ManuallyApproves = manually != 0
	a.Local = local != 0
	if published.Valid {
		a.Published = published.Time
	}
	if lastFetched.Valid {
		a.LastFetched = lastFetched.Time
	}
	return nil, &a
}

const (
	sqlInsertObject = `INSERT INTO objects(
		object_id, object_type, attributed_to, content, summary, in_reply_to,
		to_json, cc_json, bto_json, bcc_json, published, updated, deleted_at
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`

	sqlSelectObjectByID = `SELECT object_id, object_type, attributed_to, content, summary,
		in_reply_to, to_json, cc_json, bto_json, bcc_json, published, updated, deleted_at
		FROM objects WHERE object_id = ?`

	sqlMarkObjectDeleted = `UPDATE objects SET deleted_at = ? WHERE object_id = ?`
)

func (s *Store) InsertObject(o *domain.Object) error {
	toJSON, _ := json.Marshal(o.To)
	ccJSON, _ := json.Marshal(o.Cc)
	btoJSON, _ := json.Marshal(o.Bto)
	bccJSON, _ := json.Marshal(o.Bcc)

	return s.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertObject,
			o.ObjectID, o.ObjectType, o.AttributedTo, o.Content, o.Summary, o.InReplyTo,
			string(toJSON), string(ccJSON), string(btoJSON), string(bccJSON),
			o.Published, o.Updated, o.DeletedAt,
		)
		if isUniqueConstraintErr(err) {
			return ErrAlreadyExists
		}
		return err
	})
}

func (s *Store) FindObjectByID(objectID string) (error, *domain.Object) {
	row := s.db.Conn().QueryRow(sqlSelectObjectByID, objectID)
	var o domain.Object
	var toJSON, ccJSON, btoJSON, bccJSON string
	var published sql.NullTime
	var updated, deletedAt sql.NullTime

	err := row.Scan(&o.ObjectID, &o.ObjectType, &o.AttributedTo, &o.Content, &o.Summary,
		&o.InReplyTo, &toJSON, &ccJSON, &btoJSON, &bccJSON, &published, &updated, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound, nil
	}
	if err != nil {
		return fmt.Errorf("scan object: %w", err), nil
	}

	json.Unmarshal([]byte(toJSON), &o.To)
	json.Unmarshal([]byte(ccJSON), &o.Cc)
	json.Unmarshal([]byte(btoJSON), &o.Bto)
	json.Unmarshal([]byte(bccJSON), &o.Bcc)
	if published.Valid {
		o.Published = published.Time
	}
	if updated.Valid {
		o.Updated = &updated.Time
	}
	if deletedAt.Valid {
		o.DeletedAt = &deletedAt.Time
	}
	return nil, &o
}

func (s *Store) MarkObjectDeleted(objectID string, at time.Time) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkObjectDeleted, at, objectID)
		return err
	})
}

const (
	sqlInsertActivity = `INSERT INTO activities(
		activity_id, activity_type, actor, object_id, target, published,
		status, audience_json, local, raw_json
	) VALUES (?,?,?,?,?,?,?,?,?,?)`

	sqlSelectActivityByID = `SELECT activity_id, activity_type, actor, object_id, target,
		published, status, audience_json, local, raw_json FROM activities WHERE activity_id = ?`

	sqlUpdateActivityStatus = `UPDATE activities SET status = ? WHERE activity_id = ?`
)

func (s *Store) InsertActivity(a *domain.Activity) error {
	audienceJSON, _ := json.Marshal(a.Audience)
	local := 0
	if a.Local {
		local = 1
	}
	return s.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity,
			a.ActivityID, a.ActivityType, a.Actor, a.ObjectID, a.Target, a.Published,
			string(a.Status), string(audienceJSON), local, a.RawJSON,
		)
		if isUniqueConstraintErr(err) {
			return ErrAlreadyExists
		}
		return err
	})
}

func (s *Store) FindActivityByID(activityID string) (error, *domain.Activity) {
	row := s.db.Conn().QueryRow(sqlSelectActivityByID, activityID)
	var a domain.Activity
	var status, audienceJSON string
	var local int
	var published sql.NullTime

	err := row.Scan(&a.ActivityID, &a.ActivityType, &a.Actor, &a.ObjectID, &a.Target,
		&published, &status, &audienceJSON, &local, &a.RawJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound, nil
	}
	if err != nil {
		return fmt.Errorf("scan activity: %w", err), nil
	}

	a.Status = domain.ActivityStatus(status)
	a.Local = local != 0
	if published.Valid {
		a.Published = published.Time
	}
	json.Unmarshal([]byte(audienceJSON), &a.Audience)
	return nil, &a
}

func (s *Store) SetActivityStatus(activityID string, status domain.ActivityStatus) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActivityStatus, string(status), activityID)
		return err
	})
}

const (
	sqlUpsertFollow = `INSERT INTO follows(follower, following, follow_activity_id, state, created_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(follower, following) DO UPDATE SET
			follow_activity_id=excluded.follow_activity_id, state=excluded.state`

	sqlSelectFollow = `SELECT follower, following, follow_activity_id, state, created_at
		FROM follows WHERE follower = ? AND following = ?`

	sqlSelectFollowByActivity = `SELECT follower, following, follow_activity_id, state, created_at
		FROM follows WHERE follow_activity_id = ?`

	sqlSetFollowState = `UPDATE follows SET state = ? WHERE follower = ? AND following = ?`

	sqlListFollowers = `SELECT follower, following, follow_activity_id, state, created_at
		FROM follows WHERE following = ? AND state = 'Accepted' ORDER BY created_at ASC LIMIT ? OFFSET ?`

	sqlListFollowing = `SELECT follower, following, follow_activity_id, state, created_at
		FROM follows WHERE follower = ? AND state = 'Accepted' ORDER BY created_at ASC LIMIT ? OFFSET ?`
)

func (s *Store) UpsertFollow(f *domain.Follow) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertFollow, f.Follower, f.Following, f.FollowActivityID, string(f.State), f.CreatedAt)
		return err
	})
}

func (s *Store) FindFollow(follower, following string) (error, *domain.Follow) {
	return s.scanFollow(s.db.Conn().QueryRow(sqlSelectFollow, follower, following))
}

func (s *Store) FindFollowByActivity(activityID string) (error, *domain.Follow) {
	return s.scanFollow(s.db.Conn().QueryRow(sqlSelectFollowByActivity, activityID))
}

func (s *Store) scanFollow(row *sql.Row) (error, *domain.Follow) {
	var f domain.Follow
	var state string
	err := row.Scan(&f.Follower, &f.Following, &f.FollowActivityID, &state, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound, nil
	}
	if err != nil {
		return fmt.Errorf("scan follow: %w", err), nil
	}
	f.State = domain.FollowState(state)
	return nil, &f
}

func (s *Store) SetFollowState(follower, following string, state domain.FollowState) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlSetFollowState, string(state), follower, following)
		return err
	})
}

func (s *Store) ListFollowers(actorID string, limit, offset int) (error, []domain.Follow) {
	return s.listFollows(sqlListFollowers, actorID, limit, offset)
}

func (s *Store) ListFollowing(actorID string, limit, offset int) (error, []domain.Follow) {
	return s.listFollows(sqlListFollowing, actorID, limit, offset)
}

func (s *Store) listFollows(query, actorID string, limit, offset int) (error, []domain.Follow) {
	rows, err := s.db.Conn().Query(query, actorID, limit, offset)
	if err != nil {
		return fmt.Errorf("list follows: %w", err), nil
	}
	defer rows.Close()

	var out []domain.Follow
	for rows.Next() {
		var f domain.Follow
		var state string
		if err := rows.Scan(&f.Follower, &f.Following, &f.FollowActivityID, &state, &f.CreatedAt); err != nil {
			return fmt.Errorf("scan follow row: %w", err), nil
		}
		f.State = domain.FollowState(state)
		out = append(out, f)
	}
	return nil, out
}

const sqlListOutbox = `SELECT activity_id, activity_type, actor, object_id, target, published,
	status, audience_json, local, raw_json FROM activities
	WHERE actor = ? AND local = 1 AND (published < ? OR ? IS NULL)
	ORDER BY published DESC LIMIT ?`

// ListOutbox returns a page of an actor's locally-originated activities,
// ordered newest first. before is an opaque cursor: the Published
// timestamp of the oldest activity in the previous page, or the zero
// value for the first page.
func (s *Store) ListOutbox(actorID string, before time.Time, limit int) (error, []domain.Activity) {
	var beforeArg interface{}
	if before.IsZero() {
		beforeArg = nil
	} else {
		beforeArg = before
	}
	rows, err := s.db.Conn().Query(sqlListOutbox, actorID, beforeArg, beforeArg, limit)
	if err != nil {
		return fmt.Errorf("list outbox: %w", err), nil
	}
	defer rows.Close()

	var out []domain.Activity
	for rows.Next() {
		var a domain.Activity
		var status, audienceJSON string
		var local int
		var published sql.NullTime
		if err := rows.Scan(&a.ActivityID, &a.ActivityType, &a.Actor, &a.ObjectID, &a.Target,
			&published, &status, &audienceJSON, &local, &a.RawJSON); err != nil {
			return fmt.Errorf("scan outbox row: %w", err), nil
		}
		a.Status = domain.ActivityStatus(status)
		a.Local = local != 0
		if published.Valid {
			a.Published = published.Time
		}
		json.Unmarshal([]byte(audienceJSON), &a.Audience)
		out = append(out, a)
	}
	return nil, out
}

const (
	sqlInsertKey = `INSERT INTO keys(key_id, actor_id, algorithm, public_key_pem,
		private_key_pem, trust_level, created_at, rotated_at) VALUES (?,?,?,?,?,?,?,?)`

	sqlSelectKeyByID = `SELECT key_id, actor_id, algorithm, public_key_pem, private_key_pem,
		trust_level, created_at, rotated_at FROM keys WHERE key_id = ?`
)

func (s *Store) InsertKey(k *domain.KeyRecord) error {
	err := s.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertKey, k.KeyID, k.ActorID, string(k.Algorithm), k.PublicKeyPem,
			k.PrivateKeyPem, string(k.TrustLevel), k.CreatedAt, k.RotatedAt)
		return err
	})
	if isUniqueConstraintErr(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *Store) FindKeyByID(keyID string) (error, *domain.KeyRecord) {
	row := s.db.Conn().QueryRow(sqlSelectKeyByID, keyID)
	var k domain.KeyRecord
	var alg, trust string
	var rotatedAt sql.NullTime

	err := row.Scan(&k.KeyID, &k.ActorID, &alg, &k.PublicKeyPem, &k.PrivateKeyPem,
		&trust, &k.CreatedAt, &rotatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound, nil
	}
	if err != nil {
		return fmt.Errorf("scan key: %w", err), nil
	}
	k.Algorithm = domain.Algorithm(alg)
	k.TrustLevel = domain.TrustLevel(trust)
	if rotatedAt.Valid {
		k.RotatedAt = &rotatedAt.Time
	}
	return nil, &k
}

const (
	sqlInsertDeliveryReport = `INSERT INTO delivery_reports(
		activity_id, recipient, inbox_url, result, status, reason,
		suggested_action, attempts, delivered_at
	) VALUES (?,?,?,?,?,?,?,?,?)`

	sqlSummarizeDelivery = `SELECT result, COUNT(*) FROM delivery_reports WHERE activity_id = ? GROUP BY result`
)

func (s *Store) InsertDeliveryReport(r *domain.DeliveryReport) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDeliveryReport,
			r.ActivityID, r.Recipient, r.InboxURL, string(r.Result), r.Status, r.Reason,
			string(r.SuggestedAction), r.Attempts, r.DeliveredAt,
		)
		return err
	})
}

func (s *Store) SummarizeDelivery(activityID string) (error, domain.DeliverySummary) {
	rows, err := s.db.Conn().Query(sqlSummarizeDelivery, activityID)
	if err != nil {
		return fmt.Errorf("summarize delivery: %w", err), domain.DeliverySummary{}
	}
	defer rows.Close()

	var summary domain.DeliverySummary
	for rows.Next() {
		var result string
		var count int
		if err := rows.Scan(&result, &count); err != nil {
			return fmt.Errorf("scan delivery summary row: %w", err), domain.DeliverySummary{}
		}
		summary.Total += count
		switch domain.DeliveryResultKind(result) {
		case domain.DeliverySuccess:
			summary.Success += count
		case domain.DeliveryPermanentFailure, domain.DeliveryResolutionFailure:
			summary.PermanentFailures += count
		case domain.DeliveryTransientFailure:
			summary.TransientFailures += count
		}
	}
	return nil, summary
}

// CountLocalActors returns the number of actors this instance hosts, for
// the nodeinfo usage block.
func (s *Store) CountLocalActors() (error, int) {
	var count int
	err := s.db.Conn().QueryRow(`SELECT COUNT(*) FROM actors WHERE local = 1`).Scan(&count)
	if err != nil {
		return fmt.Errorf("count local actors: %w", err), 0
	}
	return nil, count
}

func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
