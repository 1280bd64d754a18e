package producer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/stegodon/domain"
	"github.com/deemkeen/stegodon/queue"
	"github.com/deemkeen/stegodon/store"
	"github.com/google/uuid"
)

// Producer turns local intents (post a note, follow someone, react to an
// inbound activity) into stored Activity/Object rows plus a delivery job,
// the local half of the federation loop.
type Producer struct {
	store  *store.Store
	broker queue.Broker
	domain string
}

func New(s *store.Store, b queue.Broker, instanceDomain string) *Producer {
	return &Producer{store: s, broker: b, domain: instanceDomain}
}

func (p *Producer) activityID() string {
	return fmt.Sprintf("https://%s/activities/%s", p.domain, uuid.NewString())
}

func (p *Producer) objectID(kind string) string {
	return fmt.Sprintf("https://%s/%s/%s", p.domain, kind, uuid.NewString())
}

func (p *Producer) record(act *domain.Activity, body map[string]interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal activity body: %w", err)
	}
	act.RawJSON = string(raw)
	act.Local = true
	if act.Published.IsZero() {
		act.Published = time.Now().UTC()
	}
	if act.Status == "" {
		act.Status = domain.StatusPending
	}

	if err := p.store.InsertActivity(act); err != nil {
		return fmt.Errorf("store activity: %w", err)
	}
	if p.broker != nil {
		if err := p.broker.PublishDelivery(domain.DeliveryJob{ActivityID: act.ActivityID}); err != nil {
			return fmt.Errorf("publish delivery job: %w", err)
		}
	}
	return nil
}

// CreateNote publishes a new Note authored by actorID.
func (p *Producer) CreateNote(actorID, content string, to, cc []string) (string, error) {
	noteID := p.objectID("notes")
	activityID := p.activityID()
	now := time.Now().UTC()

	obj := &domain.Object{
		ObjectID:     noteID,
		ObjectType:   "Note",
		AttributedTo: actorID,
		Content:      content,
		To:           to,
		Cc:           cc,
		Published:    now,
	}
	if err := p.store.InsertObject(obj); err != nil {
		return "", fmt.Errorf("store note object: %w", err)
	}

	body := map[string]interface{}{
		"@context":  "https://www.w3.org/ns/activitystreams",
		"id":        activityID,
		"type":      "Create",
		"actor":     actorID,
		"published": now.Format(time.RFC3339),
		"to":        to,
		"cc":        cc,
		"object": map[string]interface{}{
			"id":           noteID,
			"type":         "Note",
			"attributedTo": actorID,
			"content":      content,
			"published":    now.Format(time.RFC3339),
			"to":           to,
			"cc":           cc,
		},
	}

	act := &domain.Activity{
		ActivityID:   activityID,
		ActivityType: "Create",
		Actor:        actorID,
		ObjectID:     noteID,
		Audience:     append(append([]string{}, to...), cc...),
		Published:    now,
	}
	if err := p.record(act, body); err != nil {
		return "", err
	}
	return activityID, nil
}

// Follow sends a Follow request from actorID to targetActorID and records
// the relationship as Pending until an Accept/Reject arrives.
func (p *Producer) Follow(actorID, targetActorID string) (string, error) {
	activityID := p.activityID()
	body := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       activityID,
		"type":     "Follow",
		"actor":    actorID,
		"object":   targetActorID,
	}

	if err := p.store.UpsertFollow(&domain.Follow{
		Follower:         actorID,
		Following:        targetActorID,
		FollowActivityID: activityID,
		State:            domain.FollowPending,
		CreatedAt:        time.Now().UTC(),
	}); err != nil {
		return "", fmt.Errorf("store follow: %w", err)
	}

	act := &domain.Activity{
		ActivityID:   activityID,
		ActivityType: "Follow",
		Actor:        actorID,
		ObjectID:     targetActorID,
		Audience:     []string{targetActorID},
	}
	if err := p.record(act, body); err != nil {
		return "", err
	}
	return activityID, nil
}

// respondToFollow is shared by Accept and Reject.
func (p *Producer) respondToFollow(responseType, actorID string, followActivityID, followerActorID string) (string, error) {
	activityID := p.activityID()
	body := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       activityID,
		"type":     responseType,
		"actor":    actorID,
		"object": map[string]interface{}{
			"id":     followActivityID,
			"type":   "Follow",
			"actor":  followerActorID,
			"object": actorID,
		},
	}

	act := &domain.Activity{
		ActivityID:   activityID,
		ActivityType: responseType,
		Actor:        actorID,
		ObjectID:     followActivityID,
		Target:       followerActorID,
		Audience:     []string{followerActorID},
	}
	if err := p.record(act, body); err != nil {
		return "", err
	}
	return activityID, nil
}

func (p *Producer) Accept(actorID, followActivityID, followerActorID string) (string, error) {
	return p.respondToFollow("Accept", actorID, followActivityID, followerActorID)
}

func (p *Producer) Reject(actorID, followActivityID, followerActorID string) (string, error) {
	return p.respondToFollow("Reject", actorID, followActivityID, followerActorID)
}

// react is shared by Like and Announce.
func (p *Producer) react(activityType, actorID, objectID string) (string, error) {
	activityID := p.activityID()
	body := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       activityID,
		"type":     activityType,
		"actor":    actorID,
		"object":   objectID,
	}

	act := &domain.Activity{
		ActivityID:   activityID,
		ActivityType: activityType,
		Actor:        actorID,
		ObjectID:     objectID,
		Audience:     []string{domain.PublicURI},
	}
	if err := p.record(act, body); err != nil {
		return "", err
	}
	return activityID, nil
}

func (p *Producer) Like(actorID, objectID string) (string, error) {
	return p.react("Like", actorID, objectID)
}

func (p *Producer) Announce(actorID, objectID string) (string, error) {
	return p.react("Announce", actorID, objectID)
}

// Undo reverses a previously-sent activity (Follow, Like, or Announce).
func (p *Producer) Undo(actorID, targetActivityID string, audience []string) (string, error) {
	activityID := p.activityID()
	body := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       activityID,
		"type":     "Undo",
		"actor":    actorID,
		"object":   targetActivityID,
	}

	act := &domain.Activity{
		ActivityID:   activityID,
		ActivityType: "Undo",
		Actor:        actorID,
		ObjectID:     targetActivityID,
		Audience:     audience,
	}
	if err := p.record(act, body); err != nil {
		return "", err
	}
	return activityID, nil
}

// UpdateActor republishes actorID's profile to its followers.
func (p *Producer) UpdateActor(actorID string, profile map[string]interface{}) (string, error) {
	activityID := p.activityID()
	profile["id"] = actorID
	body := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       activityID,
		"type":     "Update",
		"actor":    actorID,
		"object":   profile,
	}

	act := &domain.Activity{
		ActivityID:   activityID,
		ActivityType: "Update",
		Actor:        actorID,
		ObjectID:     actorID,
		Audience:     []string{domain.PublicURI, actorID + "/followers"},
	}
	if err := p.record(act, body); err != nil {
		return "", err
	}
	return activityID, nil
}

// DeleteObject tombstones objectID and federates the deletion.
func (p *Producer) DeleteObject(actorID, objectID string, audience []string) (string, error) {
	if err := p.store.MarkObjectDeleted(objectID, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("mark object deleted: %w", err)
	}

	activityID := p.activityID()
	body := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       activityID,
		"type":     "Delete",
		"actor":    actorID,
		"object": map[string]interface{}{
			"id":   objectID,
			"type": "Tombstone",
		},
	}

	act := &domain.Activity{
		ActivityID:   activityID,
		ActivityType: "Delete",
		Actor:        actorID,
		ObjectID:     objectID,
		Audience:     audience,
	}
	if err := p.record(act, body); err != nil {
		return "", err
	}
	return activityID, nil
}
