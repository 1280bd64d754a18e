package domain

import "time"

type FollowState string

const (
	FollowPending   FollowState = "Pending"
	FollowAccepted  FollowState = "Accepted"
	FollowRejected  FollowState = "Rejected"
	FollowCancelled FollowState = "Cancelled"
)

// Follow is the relationship row between two actor URIs, local or remote.
type Follow struct {
	Follower         string
	Following        string
	FollowActivityID string
	State            FollowState
	CreatedAt        time.Time
}
