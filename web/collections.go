package web

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/deemkeen/stegodon/domain"
	"github.com/deemkeen/stegodon/store"
)

const collectionPageSize = 20
const collectionMaxPageSize = 40

// clampPageSize applies the spec.md §4.7 page-size bounds (default 20,
// max 40) to a caller-supplied size; 0 or negative falls back to the
// default rather than erroring, since an absent query parameter should
// behave the same as an explicit default.
func clampPageSize(requested int) int {
	switch {
	case requested <= 0:
		return collectionPageSize
	case requested > collectionMaxPageSize:
		return collectionMaxPageSize
	default:
		return requested
	}
}

// encodeTimeCursor and decodeTimeCursor turn the opaque cursor spec.md
// §4.3 describes ("encoding (published, object_id)") into a plain
// base64'd RFC3339Nano timestamp. The activity_id half of the pair is
// redundant for cursor purposes since published timestamps are unique
// enough at nanosecond resolution for this core's scale.
func encodeTimeCursor(t time.Time) string {
	return base64.RawURLEncoding.EncodeToString([]byte(t.Format(time.RFC3339Nano)))
}

func decodeTimeCursor(cursor string) (time.Time, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode cursor: %w", err)
	}
	return time.Parse(time.RFC3339Nano, string(raw))
}

// GetOutboxCollection returns the OrderedCollection summary for actorID's
// outbox: totalItems plus first/last page pointers.
func GetOutboxCollection(s *store.Store, actorID string) (string, error) {
	err, all := s.ListOutbox(actorID, time.Time{}, 1_000_000)
	if err != nil {
		return "", err
	}
	outboxURL := actorID + "/outbox"
	collection := map[string]interface{}{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         outboxURL,
		"type":       "OrderedCollection",
		"totalItems": len(all),
		"first":      fmt.Sprintf("%s?page=true", outboxURL),
	}
	if len(all) > 0 {
		collection["last"] = fmt.Sprintf("%s?page=true&min_id=%s", outboxURL, encodeTimeCursor(all[len(all)-1].Published))
	}
	out, err := json.Marshal(collection)
	return string(out), err
}

// GetOutboxPage returns one OrderedCollectionPage of actorID's locally
// originated activities, newest first. maxID (if set) is the opaque
// cursor of the previous page's oldest item; it selects the next
// strictly-older page.
func GetOutboxPage(s *store.Store, actorID, maxID string, pageSize int) (string, error) {
	var before time.Time
	if maxID != "" {
		t, err := decodeTimeCursor(maxID)
		if err != nil {
			return "", err
		}
		before = t
	}

	limit := clampPageSize(pageSize)
	err, page := s.ListOutbox(actorID, before, limit+1)
	if err != nil {
		return "", err
	}

	hasMore := len(page) > limit
	if hasMore {
		page = page[:limit]
	}

	outboxURL := actorID + "/outbox"
	items := make([]interface{}, 0, len(page))
	for _, a := range page {
		items = append(items, activityEnvelope(a))
	}

	pageURL := fmt.Sprintf("%s?page=true", outboxURL)
	if maxID != "" {
		pageURL = fmt.Sprintf("%s&max_id=%s", pageURL, maxID)
	}

	body := map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           pageURL,
		"type":         "OrderedCollectionPage",
		"partOf":       outboxURL,
		"orderedItems": items,
	}
	if hasMore {
		body["next"] = fmt.Sprintf("%s?page=true&max_id=%s", outboxURL, encodeTimeCursor(page[len(page)-1].Published))
	}
	if len(page) > 0 {
		body["prev"] = fmt.Sprintf("%s?page=true&min_id=%s", outboxURL, encodeTimeCursor(page[0].Published))
	}

	out, err := json.Marshal(body)
	return string(out), err
}

// activityEnvelope re-parses an activity's stored raw JSON back into a
// generic map so the outbox page can embed it as orderedItems without a
// second round of hand construction; unknown/extra fields persisted at
// ingest time are preserved.
func activityEnvelope(a domain.Activity) interface{} {
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(a.RawJSON), &parsed); err == nil {
		return parsed
	}
	return map[string]interface{}{
		"id":        a.ActivityID,
		"type":      a.ActivityType,
		"actor":     a.Actor,
		"object":    a.ObjectID,
		"published": a.Published.Format(time.RFC3339),
	}
}

// collectionKind selects which follow-relation column the paging helpers
// read: followers of an actor, or the actors it follows.
type collectionKind int

const (
	kindFollowers collectionKind = iota
	kindFollowing
)

func listFollowRelation(s *store.Store, kind collectionKind, actorID string, limit, offset int) (error, []domain.Follow) {
	if kind == kindFollowers {
		return s.ListFollowers(actorID, limit, offset)
	}
	return s.ListFollowing(actorID, limit, offset)
}

func relationPeer(kind collectionKind, f domain.Follow) string {
	if kind == kindFollowers {
		return f.Follower
	}
	return f.Following
}

// GetFollowCollection returns the OrderedCollection summary for actorID's
// followers or following collection.
func GetFollowCollection(s *store.Store, kind collectionKind, collectionURL, actorID string) (string, error) {
	err, all := listFollowRelation(s, kind, actorID, 1_000_000, 0)
	if err != nil {
		return "", err
	}
	collection := map[string]interface{}{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         collectionURL,
		"type":       "OrderedCollection",
		"totalItems": len(all),
		"first":      fmt.Sprintf("%s?page=true", collectionURL),
	}
	out, err := json.Marshal(collection)
	return string(out), err
}

// GetFollowPage returns one page of a followers/following collection.
// The cursor here is a plain item offset: simpler than the outbox's
// timestamp cursor since follow rows are appended in insertion order and
// never reordered once accepted.
func GetFollowPage(s *store.Store, kind collectionKind, collectionURL, actorID, maxID string, pageSize int) (string, error) {
	offset := 0
	if maxID != "" {
		n, err := strconv.Atoi(maxID)
		if err != nil {
			return "", fmt.Errorf("invalid max_id: %w", err)
		}
		offset = n
	}

	limit := clampPageSize(pageSize)
	err, page := listFollowRelation(s, kind, actorID, limit+1, offset)
	if err != nil {
		return "", err
	}

	hasMore := len(page) > limit
	if hasMore {
		page = page[:limit]
	}

	items := make([]interface{}, 0, len(page))
	for _, f := range page {
		items = append(items, relationPeer(kind, f))
	}

	pageURL := fmt.Sprintf("%s?page=true", collectionURL)
	if maxID != "" {
		pageURL = fmt.Sprintf("%s&max_id=%s", pageURL, maxID)
	}

	body := map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           pageURL,
		"type":         "OrderedCollectionPage",
		"partOf":       collectionURL,
		"orderedItems": items,
	}
	if hasMore {
		body["next"] = fmt.Sprintf("%s?page=true&max_id=%d", collectionURL, offset+len(page))
	}
	if offset > 0 {
		prevOffset := offset - limit
		if prevOffset < 0 {
			prevOffset = 0
		}
		body["prev"] = fmt.Sprintf("%s?page=true&max_id=%d", collectionURL, prevOffset)
	}

	out, err := json.Marshal(body)
	return string(out), err
}
