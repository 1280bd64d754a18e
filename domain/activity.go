package domain

import "time"

type ActivityStatus string

const (
	StatusPending            ActivityStatus = "Pending"
	StatusDelivered          ActivityStatus = "Delivered"
	StatusPartiallyDelivered ActivityStatus = "PartiallyDelivered"
	StatusFailed             ActivityStatus = "Failed"
	StatusAccepted           ActivityStatus = "Accepted"
	StatusRejected           ActivityStatus = "Rejected"
	StatusCancelled          ActivityStatus = "Cancelled"
)

// Activity is a logged ActivityStreams activity (Create, Follow, Like...).
// The raw JSON is retained so unknown/future activity types survive
// round-tripping even though the core only dispatches the vocabulary it
// understands.
type Activity struct {
	ActivityID   string
	ActivityType string
	Actor        string
	ObjectID     string // URI of the object/inner-activity, may be empty
	Target       string
	Published    time.Time
	Status       ActivityStatus
	Audience     []string
	Local        bool
	RawJSON      string
}

// PublicURI is the ActivityStreams collection meaning "everyone".
const PublicURI = "https://www.w3.org/ns/activitystreams#Public"
