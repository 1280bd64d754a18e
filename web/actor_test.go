package web

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/deemkeen/stegodon/db"
	"github.com/deemkeen/stegodon/domain"
	"github.com/deemkeen/stegodon/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	db.SetPath(filepath.Join(t.TempDir(), "test.db"))
	return store.New(db.GetDB())
}

func TestGetActorDocument(t *testing.T) {
	s := testStore(t)
	actorID := "https://example.social/users/alice"
	if err := s.UpsertActor(&domain.Actor{
		ActorID:           actorID,
		Domain:            "example.social",
		PreferredUsername: "alice",
		ActorType:         domain.ActorPerson,
		Inbox:             actorID + "/inbox",
		Outbox:            actorID + "/outbox",
		Followers:         actorID + "/followers",
		Following:         actorID + "/following",
		SharedInbox:       "https://example.social/inbox",
		PublicKeyID:       actorID + "#main-key",
		PublicKeyPem:      "-----BEGIN PUBLIC KEY-----\nstub\n-----END PUBLIC KEY-----\n",
		Local:             true,
	}); err != nil {
		t.Fatalf("UpsertActor: %v", err)
	}

	out, err := GetActorDocument(s, "alice")
	if err != nil {
		t.Fatalf("GetActorDocument: %v", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("unmarshal actor document: %v", err)
	}
	if doc["id"] != actorID {
		t.Errorf("id = %v, want %s", doc["id"], actorID)
	}
	if doc["preferredUsername"] != "alice" {
		t.Errorf("preferredUsername = %v, want alice", doc["preferredUsername"])
	}
	pubKey, ok := doc["publicKey"].(map[string]interface{})
	if !ok {
		t.Fatal("publicKey missing or wrong shape")
	}
	if pubKey["owner"] != actorID {
		t.Errorf("publicKey.owner = %v, want %s", pubKey["owner"], actorID)
	}
}

func TestGetActorDocumentRejectsRemote(t *testing.T) {
	s := testStore(t)
	actorID := "https://remote.example/actors/bob"
	if err := s.UpsertActor(&domain.Actor{
		ActorID: actorID, Domain: "remote.example", PreferredUsername: "bob",
		ActorType: domain.ActorPerson, Inbox: actorID + "/inbox", Local: false,
	}); err != nil {
		t.Fatalf("UpsertActor: %v", err)
	}

	if _, err := GetActorDocument(s, "bob"); err == nil {
		t.Fatal("expected error serving a remote actor's document locally")
	}
}
