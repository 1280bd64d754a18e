package web

import (
	"encoding/json"
	"testing"

	"github.com/deemkeen/stegodon/domain"
)

func TestWebfingerNotFound(t *testing.T) {
	result := WebfingerNotFound()
	expected := `{"detail":"Not Found"}`

	if result != expected {
		t.Errorf("expected %s, got %s", expected, result)
	}

	var jsonMap map[string]interface{}
	if err := json.Unmarshal([]byte(result), &jsonMap); err != nil {
		t.Error("result should be valid JSON")
	}
}

func TestGetWebfinger(t *testing.T) {
	s := testStore(t)
	actorID := "https://example.social/users/dave"
	if err := s.UpsertActor(&domain.Actor{
		ActorID: actorID, Domain: "example.social", PreferredUsername: "dave",
		ActorType: domain.ActorPerson, Inbox: actorID + "/inbox", Local: true,
	}); err != nil {
		t.Fatalf("UpsertActor: %v", err)
	}

	out, err := GetWebfinger(s, "dave", "example.social")
	if err != nil {
		t.Fatalf("GetWebfinger: %v", err)
	}

	var resp webfingerResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("unmarshal webfinger response: %v", err)
	}
	if resp.Subject != "acct:dave@example.social" {
		t.Errorf("Subject = %q, want acct:dave@example.social", resp.Subject)
	}
	if len(resp.Links) != 1 || resp.Links[0].Href != actorID {
		t.Errorf("Links = %+v, want one self link to %s", resp.Links, actorID)
	}
}

func TestGetWebfingerUnknownUser(t *testing.T) {
	s := testStore(t)
	if _, err := GetWebfinger(s, "ghost", "example.social"); err == nil {
		t.Fatal("expected error for unknown user")
	}
}
