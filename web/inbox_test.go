package web

import (
	"testing"
	"time"

	"github.com/deemkeen/stegodon/domain"
)

func TestLocalActorURIFromAddress(t *testing.T) {
	conf := testConfig()
	cases := map[string]string{
		"https://example.social/users/alice":           "https://example.social/users/alice",
		"https://example.social/users/alice/followers":  "https://example.social/users/alice",
		"https://remote.example/users/alice":            "",
		"https://www.w3.org/ns/activitystreams#Public":  "",
	}
	for in, want := range cases {
		if got := localActorURIFromAddress(conf, in); got != want {
			t.Errorf("localActorURIFromAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveSharedInboxTargetFromTo(t *testing.T) {
	conf := testConfig()
	s := testStore(t)

	activity := map[string]interface{}{
		"type": "Create",
		"to":   []interface{}{"https://example.social/users/alice"},
	}
	got := resolveSharedInboxTarget(s, conf, activity)
	want := "https://example.social/users/alice"
	if got != want {
		t.Errorf("target = %q, want %q", got, want)
	}
}

func TestResolveSharedInboxTargetFallsBackToFollower(t *testing.T) {
	conf := testConfig()
	s := testStore(t)

	senderID := "https://remote.example/actors/mallory"
	localID := "https://example.social/users/alice"
	if err := s.UpsertActor(&domain.Actor{
		ActorID: localID, Domain: "example.social", PreferredUsername: "alice",
		ActorType: domain.ActorPerson, Inbox: localID + "/inbox", Local: true,
	}); err != nil {
		t.Fatalf("UpsertActor: %v", err)
	}
	if err := s.UpsertFollow(&domain.Follow{
		Follower: localID, Following: senderID,
		FollowActivityID: localID + "/follow", State: domain.FollowAccepted,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("UpsertFollow: %v", err)
	}

	activity := map[string]interface{}{
		"type":  "Create",
		"actor": senderID,
	}
	got := resolveSharedInboxTarget(s, conf, activity)
	if got != localID {
		t.Errorf("target = %q, want %q (the local follower of the sender)", got, localID)
	}
}

func TestResolveSharedInboxTargetEmptyWhenUnresolvable(t *testing.T) {
	conf := testConfig()
	s := testStore(t)

	activity := map[string]interface{}{"type": "Create"}
	if got := resolveSharedInboxTarget(s, conf, activity); got != "" {
		t.Errorf("target = %q, want empty", got)
	}
}
