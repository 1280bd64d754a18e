package inbox

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/deemkeen/stegodon/apperror"
	"github.com/deemkeen/stegodon/domain"
	"github.com/deemkeen/stegodon/producer"
	"github.com/deemkeen/stegodon/resolver"
	"github.com/deemkeen/stegodon/sigs"
	"github.com/deemkeen/stegodon/store"
)

// envelope is the generic shape every inbound activity shares: enough to
// route to a type-specific handler without committing to its object shape.
type envelope struct {
	Context interface{}     `json:"@context"`
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Actor   string          `json:"actor"`
	Object  json.RawMessage `json:"object"`
}

// Processor verifies, deduplicates, and dispatches inbound activities.
type Processor struct {
	store    *store.Store
	resolver *resolver.Resolver
	producer *producer.Producer
	nonces   *sigs.NonceCache
}

func New(s *store.Store, r *resolver.Resolver, p *producer.Producer) *Processor {
	return &Processor{store: s, resolver: r, producer: p, nonces: sigs.NewNonceCache()}
}

// Process verifies req's signature against the key named by its
// Signature-Input keyid, checks that key's owner against the activity's
// actor, stores the activity idempotently, and
// dispatches it to a type handler. targetActorID is the local actor whose
// inbox received the request (used for shared-inbox deliveries too, where
// it identifies the actor the audience check should be scoped to).
func (p *Processor) Process(req *http.Request, body []byte, targetActorID string) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return apperror.Wrap(apperror.MalformedRequest, "parse activity", err)
	}
	if env.Actor == "" || env.Type == "" {
		return apperror.New(apperror.MalformedRequest, "activity missing actor or type")
	}

	sigKeyID, err := sigs.ExtractKeyID(req)
	if err != nil {
		return err
	}
	signingKey, err := p.resolver.ResolveKey(sigKeyID)
	if err != nil {
		return apperror.Wrap(apperror.ActorNotFound, "resolve signature key", err)
	}

	if _, err := sigs.Verify(req, body, sigs.VerifyConfig{
		PublicKeyPem:   signingKey.PublicKeyPem,
		ExpectedKeyID:  sigKeyID,
		RequiredComps:  []sigs.Component{sigs.CompMethod, sigs.CompTargetURI, sigs.CompAuthority, "content-digest"},
		VerifyBodyHash: true,
	}, p.nonces); err != nil {
		return err
	}
	if signingKey.ActorID != env.Actor {
		return apperror.New(apperror.ActorMismatch, "key_id does not belong to claimed actor")
	}

	remoteActor, err := p.resolver.ResolveByURI(env.Actor)
	if err != nil {
		return apperror.Wrap(apperror.ActorNotFound, "resolve claimed actor", err)
	}

	objectURI := extractObjectURI(env.Object)

	activity := &domain.Activity{
		ActivityID:   env.ID,
		ActivityType: env.Type,
		Actor:        env.Actor,
		ObjectID:     objectURI,
		Published:    time.Now().UTC(),
		Status:       domain.StatusPending,
		Local:        false,
		RawJSON:      string(body),
	}
	if err := p.store.InsertActivity(activity); err != nil {
		if err == store.ErrAlreadyExists {
			return apperror.New(apperror.Idempotent, "activity already processed")
		}
		return apperror.Wrap(apperror.StoreUnavailable, "store inbound activity", err)
	}

	dispatchErr := p.dispatch(env, body, targetActorID, remoteActor)
	if dispatchErr != nil {
		log.Printf("inbox: failed to process %s from %s: %v", env.Type, env.Actor, dispatchErr)
		return dispatchErr
	}
	return nil
}

func (p *Processor) dispatch(env envelope, body []byte, targetActorID string, remoteActor *domain.Actor) error {
	switch env.Type {
	case "Follow":
		return p.handleFollow(env, targetActorID, remoteActor)
	case "Accept":
		return p.handleAccept(env)
	case "Reject":
		return p.handleReject(env)
	case "Undo":
		return p.handleUndo(env, remoteActor)
	case "Create":
		return p.handleCreate(env, body, targetActorID)
	case "Update":
		return p.handleUpdate(env)
	case "Delete":
		return p.handleDelete(env)
	case "Like", "Announce":
		return p.handleReaction(env)
	default:
		log.Printf("inbox: no handler for activity type %s", env.Type)
		return nil
	}
}

func extractObjectURI(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var asObject struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &asObject); err == nil {
		return asObject.ID
	}
	return ""
}

// handleFollow records the relationship and, unless the target has set
// manually_approves_followers, immediately replies with Accept. A manually
// approving target is left Pending for its owner to resolve out of band.
func (p *Processor) handleFollow(env envelope, targetActorID string, remoteActor *domain.Actor) error {
	targetURI := extractObjectURI(env.Object)
	if targetURI == "" {
		targetURI = targetActorID
	}

	err, target := p.store.FindActorByID(targetURI)
	if err != nil {
		return apperror.Wrap(apperror.ActorNotFound, "find follow target", err)
	}

	state := domain.FollowAccepted
	if target.ManuallyApproves {
		state = domain.FollowPending
	}

	if err := p.store.UpsertFollow(&domain.Follow{
		Follower:         env.Actor,
		Following:        targetURI,
		FollowActivityID: env.ID,
		State:            state,
		CreatedAt:        time.Now().UTC(),
	}); err != nil {
		return apperror.Wrap(apperror.StoreUnavailable, "store follow", err)
	}

	if state == domain.FollowPending {
		log.Printf("inbox: follow from %s@%s pending manual approval", remoteActor.PreferredUsername, remoteActor.Domain)
		return nil
	}

	if _, err := p.producer.Accept(targetURI, env.ID, env.Actor); err != nil {
		return fmt.Errorf("send Accept: %w", err)
	}
	log.Printf("inbox: accepted follow from %s@%s", remoteActor.PreferredUsername, remoteActor.Domain)
	return nil
}

func (p *Processor) handleAccept(env envelope) error {
	followID := extractObjectURI(env.Object)
	err, follow := p.store.FindFollowByActivity(followID)
	if err != nil {
		return apperror.Wrap(apperror.StoreUnavailable, "find follow by activity", err)
	}
	return p.store.SetFollowState(follow.Follower, follow.Following, domain.FollowAccepted)
}

func (p *Processor) handleReject(env envelope) error {
	followID := extractObjectURI(env.Object)
	err, follow := p.store.FindFollowByActivity(followID)
	if err != nil {
		return apperror.Wrap(apperror.StoreUnavailable, "find follow by activity", err)
	}
	return p.store.SetFollowState(follow.Follower, follow.Following, domain.FollowRejected)
}

// handleUndo marks a previously-sent Follow Cancelled. An Undo of a Like
// or Announce is only logged; the original activity row is kept. The
// inner object may be the bare activity URI or an embedded copy of it.
func (p *Processor) handleUndo(env envelope, remoteActor *domain.Actor) error {
	var inner struct {
		Type   string `json:"type"`
		ID     string `json:"id"`
		Actor  string `json:"actor"`
		Object string `json:"object"`
	}
	if err := json.Unmarshal(env.Object, &inner); err != nil {
		if uri := extractObjectURI(env.Object); uri != "" {
			inner.ID = uri
		} else {
			return apperror.Wrap(apperror.MalformedRequest, "parse Undo object", err)
		}
	}

	switch inner.Type {
	case "Follow", "":
		err, follow := p.store.FindFollowByActivity(inner.ID)
		if err != nil {
			if inner.Object != "" {
				return p.store.SetFollowState(env.Actor, inner.Object, domain.FollowCancelled)
			}
			return nil
		}
		return p.store.SetFollowState(follow.Follower, follow.Following, domain.FollowCancelled)
	case "Like", "Announce":
		log.Printf("inbox: undo of %s %s from %s", inner.Type, inner.ID, remoteActor.ActorID)
		return nil
	default:
		return nil
	}
}

// handleCreate only accepts posts from actors targetActorID already
// follows, to keep the inbox from ingesting unsolicited content.
func (p *Processor) handleCreate(env envelope, body []byte, targetActorID string) error {
	err, follow := p.store.FindFollow(targetActorID, env.Actor)
	if err != nil || follow.State != domain.FollowAccepted {
		return apperror.New(apperror.NotAuthorized, "not following actor, rejecting Create")
	}

	var obj struct {
		ID           string `json:"id"`
		Type         string `json:"type"`
		Content      string `json:"content"`
		AttributedTo string `json:"attributedTo"`
		Published    string `json:"published"`
	}
	if err := json.Unmarshal(env.Object, &obj); err != nil {
		return apperror.Wrap(apperror.MalformedRequest, "parse Create object", err)
	}

	published := time.Now().UTC()
	if t, perr := time.Parse(time.RFC3339, obj.Published); perr == nil {
		published = t
	}

	return p.store.InsertObject(&domain.Object{
		ObjectID:     obj.ID,
		ObjectType:   obj.Type,
		AttributedTo: obj.AttributedTo,
		Content:      obj.Content,
		Published:    published,
	})
}

// handleUpdate re-fetches an actor profile update, or updates the stored
// rendering of a previously-received Note/Article.
func (p *Processor) handleUpdate(env envelope) error {
	var obj struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(env.Object, &obj); err != nil {
		return apperror.Wrap(apperror.MalformedRequest, "parse Update object", err)
	}

	switch obj.Type {
	case "Person", "Service", "Application", "Group", "Organization":
		_, err := p.resolver.ResolveByURI(env.Actor)
		return err
	case "Note", "Article":
		err, existing := p.store.FindObjectByID(obj.ID)
		if err != nil || existing == nil {
			log.Printf("inbox: object %s not found for update, ignoring", obj.ID)
			return nil
		}
		existing.Updated = timePtr(time.Now().UTC())
		return p.store.InsertObject(existing)
	default:
		log.Printf("inbox: unsupported Update object type %s", obj.Type)
		return nil
	}
}

// handleDelete tombstones a single object. An actor deleting itself is
// only logged; its actor row and follow rows are left unchanged.
func (p *Processor) handleDelete(env envelope) error {
	objectURI := extractObjectURI(env.Object)
	if objectURI == "" {
		return apperror.New(apperror.MalformedRequest, "Delete missing object URI")
	}

	if objectURI == env.Actor {
		log.Printf("inbox: actor %s deleted their account", env.Actor)
		return nil
	}

	err, existing := p.store.FindObjectByID(objectURI)
	if err != nil || existing == nil {
		log.Printf("inbox: object %s not found for deletion, ignoring", objectURI)
		return nil
	}
	return p.store.MarkObjectDeleted(objectURI, time.Now().UTC())
}

func (p *Processor) handleReaction(env envelope) error {
	log.Printf("inbox: recorded %s on %s from %s", env.Type, extractObjectURI(env.Object), env.Actor)
	return nil
}

func timePtr(t time.Time) *time.Time { return &t }
