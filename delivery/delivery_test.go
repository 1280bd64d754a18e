package delivery

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/deemkeen/stegodon/db"
	"github.com/deemkeen/stegodon/domain"
	"github.com/deemkeen/stegodon/queue"
	"github.com/deemkeen/stegodon/resolver"
	"github.com/deemkeen/stegodon/sigs"
	"github.com/deemkeen/stegodon/store"
)

func setupEngine(t *testing.T) (*Engine, *store.Store, *queue.StoreBroker) {
	t.Helper()
	db.SetPath(filepath.Join(t.TempDir(), "test.db"))
	database := db.GetDB()
	s := store.New(database)
	b := queue.NewStoreBroker(database, queue.BrokerConfig{})
	r := resolver.New(s)
	e := New(s, r, b, Config{WorkerCount: 1, HTTPTimeout: 2 * time.Second, PollEvery: time.Second})
	return e, s, b
}

func localActorWithKey(t *testing.T, s *store.Store, actorID string) *domain.KeyRecord {
	t.Helper()
	privPem, pubPem, err := sigs.GenerateKeyPair(domain.Ed25519)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	keyID := actorID + "#main-key"

	if err := s.UpsertActor(&domain.Actor{
		ActorID:           actorID,
		Domain:            "example.social",
		PreferredUsername: "alice",
		ActorType:         domain.ActorPerson,
		Inbox:             actorID + "/inbox",
		Outbox:            actorID + "/outbox",
		PublicKeyID:       keyID,
		PublicKeyPem:      pubPem,
		Local:             true,
		LastFetched:       time.Now().UTC(),
	}); err != nil {
		t.Fatalf("UpsertActor: %v", err)
	}

	key := &domain.KeyRecord{
		KeyID:         keyID,
		ActorID:       actorID,
		Algorithm:     domain.Ed25519,
		PublicKeyPem:  pubPem,
		PrivateKeyPem: privPem,
		TrustLevel:    domain.InstanceActor,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.InsertKey(key); err != nil {
		t.Fatalf("InsertKey: %v", err)
	}
	return key
}

func TestDeliverSucceedsAndMarksDelivered(t *testing.T) {
	e, s, b := setupEngine(t)

	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	actorID := "https://example.social/actors/alice"
	localActorWithKey(t, s, actorID)

	recipientID := "https://remote.example/actors/bob"
	if err := s.UpsertActor(&domain.Actor{
		ActorID:     recipientID,
		Domain:      "remote.example",
		Inbox:       srv.URL + "/inbox",
		Local:       false,
		LastFetched: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("UpsertActor recipient: %v", err)
	}

	activityID := "https://example.social/activities/1"
	if err := s.InsertActivity(&domain.Activity{
		ActivityID:   activityID,
		ActivityType: "Follow",
		Actor:        actorID,
		ObjectID:     recipientID,
		Audience:     []string{recipientID},
		Status:       domain.StatusPending,
		Local:        true,
		RawJSON:      `{"type":"Follow"}`,
	}); err != nil {
		t.Fatalf("InsertActivity: %v", err)
	}
	if err := b.PublishDelivery(domain.DeliveryJob{ActivityID: activityID}); err != nil {
		t.Fatalf("PublishDelivery: %v", err)
	}

	if err := e.processOne(); err != nil {
		t.Fatalf("processOne: %v", err)
	}

	if got == nil {
		t.Fatal("remote inbox never received a request")
	}
	if got.Header.Get("Signature") == "" {
		t.Error("expected outgoing request to carry a Signature header")
	}

	err, act := s.FindActivityByID(activityID)
	if err != nil {
		t.Fatalf("FindActivityByID: %v", err)
	}
	if act.Status != domain.StatusDelivered {
		t.Errorf("Status = %q, want Delivered", act.Status)
	}
}

func TestDeliverClassifiesPermanentFailure(t *testing.T) {
	e, s, b := setupEngine(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	actorID := "https://example.social/actors/alice"
	localActorWithKey(t, s, actorID)

	recipientID := "https://remote.example/actors/gone"
	s.UpsertActor(&domain.Actor{ActorID: recipientID, Domain: "remote.example", Inbox: srv.URL + "/inbox", LastFetched: time.Now().UTC()})

	activityID := "https://example.social/activities/2"
	s.InsertActivity(&domain.Activity{
		ActivityID: activityID, ActivityType: "Create", Actor: actorID,
		Audience: []string{recipientID}, Status: domain.StatusPending, Local: true, RawJSON: `{}`,
	})
	b.PublishDelivery(domain.DeliveryJob{ActivityID: activityID})

	if err := e.processOne(); err != nil {
		t.Fatalf("processOne: %v", err)
	}

	err, summary := s.SummarizeDelivery(activityID)
	if err != nil {
		t.Fatalf("SummarizeDelivery: %v", err)
	}
	if summary.PermanentFailures != 1 {
		t.Errorf("PermanentFailures = %d, want 1", summary.PermanentFailures)
	}
}
