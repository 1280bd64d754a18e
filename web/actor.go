package web

import (
	"encoding/json"
	"fmt"

	"github.com/deemkeen/stegodon/store"
)

// actorDocument is the JSON-LD shape served at GET /users/<name>, per
// spec.md §6: @context pins activitystreams + security/v1, publicKey
// carries the owner/controller the inbox processor checks activities
// against.
type actorDocument struct {
	Context                   []string          `json:"@context"`
	ID                        string            `json:"id"`
	Type                      string            `json:"type"`
	PreferredUsername         string            `json:"preferredUsername"`
	Inbox                     string            `json:"inbox"`
	Outbox                    string            `json:"outbox"`
	Followers                 string            `json:"followers"`
	Following                 string            `json:"following"`
	ManuallyApprovesFollowers bool              `json:"manuallyApprovesFollowers"`
	Endpoints                 actorEndpoints    `json:"endpoints"`
	PublicKey                 actorPublicKeyDoc `json:"publicKey"`
}

type actorEndpoints struct {
	SharedInbox string `json:"sharedInbox"`
}

type actorPublicKeyDoc struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// GetActorDocument renders the actor document for a local username.
// Remote actors are never served here; this endpoint only exists for
// identities this instance hosts.
func GetActorDocument(s *store.Store, username string) (string, error) {
	err, actor := s.FindActorByUsername(username)
	if err != nil {
		return "", err
	}
	if !actor.Local {
		return "", fmt.Errorf("actor %s is not local", username)
	}

	doc := actorDocument{
		Context:                   []string{"https://www.w3.org/ns/activitystreams", "https://w3id.org/security/v1"},
		ID:                        actor.ActorID,
		Type:                      string(actor.ActorType),
		PreferredUsername:         actor.PreferredUsername,
		Inbox:                     actor.Inbox,
		Outbox:                    actor.Outbox,
		Followers:                 actor.Followers,
		Following:                 actor.Following,
		ManuallyApprovesFollowers: actor.ManuallyApproves,
		Endpoints:                 actorEndpoints{SharedInbox: actor.SharedInbox},
		PublicKey: actorPublicKeyDoc{
			ID:           actor.PublicKeyID,
			Owner:        actor.ActorID,
			PublicKeyPem: actor.PublicKeyPem,
		},
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal actor document: %w", err)
	}
	return string(out), nil
}
