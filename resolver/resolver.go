package resolver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/stegodon/apperror"
	"github.com/deemkeen/stegodon/domain"
	"github.com/deemkeen/stegodon/sigs"
	"github.com/deemkeen/stegodon/store"
)

// actorDocument mirrors the JSON structure of a remote ActivityPub actor.
type actorDocument struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	Followers         string      `json:"followers"`
	Following         string      `json:"following"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// Resolver fetches and caches remote actors and their keys, applying the
// trust-level-scoped staleness window to each cached entry.
type Resolver struct {
	store         *store.Store
	client        *http.Client
	instanceActor *domain.Actor
	instanceKey   *domain.KeyRecord
}

func New(s *store.Store) *Resolver {
	return &Resolver{
		store:  s,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// SetInstanceActor registers the system-owned actor used to sign outbound
// fetches, so that authorized-fetch peers can verify the request instead
// of the resolver recursing into verification of its own lookup.
func (r *Resolver) SetInstanceActor(actor *domain.Actor, key *domain.KeyRecord) {
	r.instanceActor = actor
	r.instanceKey = key
}

// ResolveByURI returns the actor for actorID from the store if it is still
// fresh for its trust level, otherwise fetches it over HTTP and upserts the
// result before returning.
func (r *Resolver) ResolveByURI(actorID string) (*domain.Actor, error) {
	err, cached := r.store.FindActorByID(actorID)
	if err == nil && cached != nil {
		trust := r.trustLevelOf(cached.PublicKeyID)
		if time.Since(cached.LastFetched) < trust.CacheTTL() {
			return cached, nil
		}
	}
	return r.fetch(actorID)
}

// trustLevelOf looks up the stored key's trust level for an actor's key
// (keyID is the actor's PublicKeyID), defaulting to Unverified when no key
// record is cached yet. Trust level only ever governs cache TTL, never
// whether a request is authorized.
func (r *Resolver) trustLevelOf(keyID string) domain.TrustLevel {
	err, key := r.store.FindKeyByID(keyID)
	if err != nil || key == nil {
		return domain.Unverified
	}
	return key.TrustLevel
}

// signWithInstanceActor attaches an RFC 9421 signature to an outbound GET
// using the registered instance actor's key, so authorized-fetch peers can
// verify it. No-op when no instance actor is registered, which leaves req
// to go out unsigned as before.
func (r *Resolver) signWithInstanceActor(req *http.Request) error {
	if r.instanceActor == nil || r.instanceKey == nil || r.instanceKey.PrivateKeyPem == "" {
		return nil
	}
	priv, err := sigs.ParsePrivateKey(r.instanceKey.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("parse instance actor key: %w", err)
	}
	return sigs.Sign(req, sigs.SignConfig{
		KeyID:      r.instanceActor.PublicKeyID,
		Algorithm:  r.instanceKey.Algorithm,
		PrivateKey: priv,
		Components: []sigs.Component{sigs.CompMethod, sigs.CompTargetURI, sigs.CompAuthority},
	})
}

func (r *Resolver) fetch(actorID string) (*domain.Actor, error) {
	req, err := http.NewRequest("GET", actorID, nil)
	if err != nil {
		return nil, fmt.Errorf("build actor request: %w", err)
	}
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", "stegodon-federation/1.0")
	if err := r.signWithInstanceActor(req); err != nil {
		return nil, apperror.Wrap(apperror.RemoteFetchFailed, "sign actor fetch", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, apperror.Wrap(apperror.RemoteFetchFailed, "fetch remote actor", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperror.New(apperror.RemoteFetchFailed, fmt.Sprintf("actor fetch returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperror.Wrap(apperror.RemoteFetchFailed, "read actor body", err)
	}

	var doc actorDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, apperror.Wrap(apperror.RemoteFetchFailed, "parse actor JSON", err)
	}
	if doc.ID == "" || doc.Inbox == "" || doc.PublicKey.PublicKeyPem == "" {
		return nil, apperror.New(apperror.RemoteFetchFailed, "actor document missing required fields")
	}

	domainName, err := extractDomain(doc.ID)
	if err != nil {
		return nil, apperror.Wrap(apperror.RemoteFetchFailed, "extract domain", err)
	}

	actor := &domain.Actor{
		ActorID:           doc.ID,
		Domain:            domainName,
		PreferredUsername: doc.PreferredUsername,
		ActorType:         domain.ActorType(doc.Type),
		Inbox:             doc.Inbox,
		Outbox:            doc.Outbox,
		Followers:         doc.Followers,
		Following:         doc.Following,
		SharedInbox:       doc.Endpoints.SharedInbox,
		PublicKeyID:       doc.PublicKey.ID,
		PublicKeyPem:      doc.PublicKey.PublicKeyPem,
		LastFetched:       time.Now().UTC(),
		Local:             false,
	}
	if err := r.store.UpsertActor(actor); err != nil {
		return nil, apperror.Wrap(apperror.StoreUnavailable, "store remote actor", err)
	}

	key := &domain.KeyRecord{
		KeyID:        doc.PublicKey.ID,
		ActorID:      doc.ID,
		Algorithm:    domain.RsaSha256,
		PublicKeyPem: doc.PublicKey.PublicKeyPem,
		TrustLevel:   r.classifyTrust(domainName),
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.store.InsertKey(key); err != nil {
		if err != store.ErrAlreadyExists {
			return nil, apperror.Wrap(apperror.StoreUnavailable, "store remote actor key", err)
		}
	}

	return actor, nil
}

// classifyTrust assigns a cache trust level for a freshly-fetched actor's
// key: always Unverified, whatever actorDomain is. No code path upgrades
// a fetched key's trust level afterwards.
func (r *Resolver) classifyTrust(actorDomain string) domain.TrustLevel {
	return domain.Unverified
}

func extractDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}
	return parsed.Host, nil
}

// webfingerDocument mirrors the JRD shape a remote WebFinger responder
// returns for an acct: resource.
type webfingerDocument struct {
	Subject string `json:"subject"`
	Links   []struct {
		Rel  string `json:"rel"`
		Type string `json:"type"`
		Href string `json:"href"`
	} `json:"links"`
}

// ResolveByAcct looks up user@host via WebFinger and returns the actor
// document its "self" / application/activity+json link points to.
func (r *Resolver) ResolveByAcct(user, host string) (*domain.Actor, error) {
	resource := fmt.Sprintf("acct:%s@%s", user, host)
	u := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s", host, url.QueryEscape(resource))

	req, err := http.NewRequest("GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("build webfinger request: %w", err)
	}
	req.Header.Set("Accept", "application/jrd+json")
	if err := r.signWithInstanceActor(req); err != nil {
		return nil, apperror.Wrap(apperror.RemoteFetchFailed, "sign webfinger fetch", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, apperror.Wrap(apperror.RemoteFetchFailed, "fetch webfinger", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperror.New(apperror.RemoteFetchFailed, fmt.Sprintf("webfinger returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperror.Wrap(apperror.RemoteFetchFailed, "read webfinger body", err)
	}

	var doc webfingerDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, apperror.Wrap(apperror.RemoteFetchFailed, "parse webfinger JRD", err)
	}

	for _, link := range doc.Links {
		if link.Rel == "self" && link.Type == "application/activity+json" && link.Href != "" {
			return r.ResolveByURI(link.Href)
		}
	}
	return nil, apperror.New(apperror.RemoteFetchFailed, "webfinger response has no self/activity+json link")
}

// ResolveKey returns the public key PEM and algorithm for a key id, fetching
// the owning actor first if the key is not yet cached.
func (r *Resolver) ResolveKey(keyID string) (*domain.KeyRecord, error) {
	err, key := r.store.FindKeyByID(keyID)
	if err == nil && key != nil {
		if time.Since(key.CreatedAt) < key.TrustLevel.CacheTTL() {
			return key, nil
		}
	}

	actorID := strings.SplitN(keyID, "#", 2)[0]
	if _, err := r.fetch(actorID); err != nil {
		return nil, err
	}

	err, key = r.store.FindKeyByID(keyID)
	if err != nil || key == nil {
		return nil, apperror.New(apperror.ActorNotFound, "key not found after actor fetch")
	}
	return key, nil
}
