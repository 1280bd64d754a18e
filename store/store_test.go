package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/deemkeen/stegodon/db"
	"github.com/deemkeen/stegodon/domain"
	"github.com/google/uuid"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db.SetPath(filepath.Join(t.TempDir(), "test.db"))
	return New(db.GetDB())
}

func TestUpsertAndFindActor(t *testing.T) {
	s := testStore(t)
	actorID := "https://example.social/actors/" + uuid.NewString()

	a := &domain.Actor{
		ActorID:           actorID,
		Domain:            "example.social",
		PreferredUsername: "alice",
		ActorType:         domain.ActorPerson,
		Inbox:             actorID + "/inbox",
		Outbox:            actorID + "/outbox",
		Local:             true,
		Published:         time.Now().UTC(),
	}
	if err := s.UpsertActor(a); err != nil {
		t.Fatalf("UpsertActor: %v", err)
	}

	err, got := s.FindActorByID(actorID)
	if err != nil {
		t.Fatalf("FindActorByID: %v", err)
	}
	if got.PreferredUsername != "alice" || !got.Local {
		t.Errorf("got = %+v, want username alice local=true", got)
	}

	a.Outbox = actorID + "/outbox2"
	if err := s.UpsertActor(a); err != nil {
		t.Fatalf("UpsertActor (update): %v", err)
	}
	err, got = s.FindActorByID(actorID)
	if err != nil {
		t.Fatalf("FindActorByID after update: %v", err)
	}
	if got.Outbox != actorID+"/outbox2" {
		t.Errorf("Outbox = %q, want updated value", got.Outbox)
	}
}

func TestFindActorByIDNotFound(t *testing.T) {
	s := testStore(t)
	err, got := s.FindActorByID("https://nowhere.example/actors/nobody")
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil", got)
	}
}

func TestInsertActivityIdempotent(t *testing.T) {
	s := testStore(t)
	activityID := "https://example.social/activities/" + uuid.NewString()

	act := &domain.Activity{
		ActivityID:   activityID,
		ActivityType: "Follow",
		Actor:        "https://example.social/actors/alice",
		Status:       domain.StatusPending,
		Published:    time.Now().UTC(),
	}
	if err := s.InsertActivity(act); err != nil {
		t.Fatalf("InsertActivity: %v", err)
	}
	if err := s.InsertActivity(act); err != ErrAlreadyExists {
		t.Fatalf("second InsertActivity err = %v, want ErrAlreadyExists", err)
	}
}

func TestFollowStateMachine(t *testing.T) {
	s := testStore(t)
	follower := "https://remote.example/actors/bob"
	following := "https://example.social/actors/alice"
	activityID := "https://remote.example/activities/" + uuid.NewString()

	f := &domain.Follow{
		Follower:         follower,
		Following:        following,
		FollowActivityID: activityID,
		State:            domain.FollowPending,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.UpsertFollow(f); err != nil {
		t.Fatalf("UpsertFollow: %v", err)
	}

	if err := s.SetFollowState(follower, following, domain.FollowAccepted); err != nil {
		t.Fatalf("SetFollowState: %v", err)
	}

	err, got := s.FindFollow(follower, following)
	if err != nil {
		t.Fatalf("FindFollow: %v", err)
	}
	if got.State != domain.FollowAccepted {
		t.Errorf("State = %q, want Accepted", got.State)
	}

	err, followers := s.ListFollowers(following, 10, 0)
	if err != nil {
		t.Fatalf("ListFollowers: %v", err)
	}
	if len(followers) != 1 || followers[0].Follower != follower {
		t.Errorf("ListFollowers = %+v, want one entry for %s", followers, follower)
	}
}

func TestInsertDeliveryReportAndSummarize(t *testing.T) {
	s := testStore(t)
	activityID := "https://example.social/activities/" + uuid.NewString()

	reports := []domain.DeliveryReport{
		{ActivityID: activityID, Recipient: "a", InboxURL: "https://a/inbox", Result: domain.DeliverySuccess, Status: 202},
		{ActivityID: activityID, Recipient: "b", InboxURL: "https://b/inbox", Result: domain.DeliveryTransientFailure, Status: 503},
	}
	for i := range reports {
		if err := s.InsertDeliveryReport(&reports[i]); err != nil {
			t.Fatalf("InsertDeliveryReport: %v", err)
		}
	}

	err, summary := s.SummarizeDelivery(activityID)
	if err != nil {
		t.Fatalf("SummarizeDelivery: %v", err)
	}
	if summary.Total != 2 || summary.Success != 1 || summary.TransientFailures != 1 {
		t.Errorf("summary = %+v, want Total=2 Success=1 TransientFailures=1", summary)
	}
	if summary.Status() != domain.StatusPartiallyDelivered {
		t.Errorf("Status() = %q, want PartiallyDelivered", summary.Status())
	}
}

func TestCountLocalActors(t *testing.T) {
	s := testStore(t)

	err, count := s.CountLocalActors()
	if err != nil {
		t.Fatalf("CountLocalActors: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0 on empty store", count)
	}

	localID := "https://example.social/actors/" + uuid.NewString()
	if err := s.UpsertActor(&domain.Actor{
		ActorID: localID, Domain: "example.social", PreferredUsername: "alice",
		ActorType: domain.ActorPerson, Inbox: localID + "/inbox", Local: true,
	}); err != nil {
		t.Fatalf("UpsertActor local: %v", err)
	}

	remoteID := "https://remote.example/actors/" + uuid.NewString()
	if err := s.UpsertActor(&domain.Actor{
		ActorID: remoteID, Domain: "remote.example", PreferredUsername: "bob",
		ActorType: domain.ActorPerson, Inbox: remoteID + "/inbox", Local: false,
	}); err != nil {
		t.Fatalf("UpsertActor remote: %v", err)
	}

	err, count = s.CountLocalActors()
	if err != nil {
		t.Fatalf("CountLocalActors: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 (only the local actor)", count)
	}
}
