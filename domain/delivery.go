package domain

import "time"

type DeliveryResultKind string

const (
	DeliverySuccess           DeliveryResultKind = "Success"
	DeliveryPermanentFailure  DeliveryResultKind = "PermanentFailure"
	DeliveryTransientFailure  DeliveryResultKind = "TransientFailure"
	DeliveryResolutionFailure DeliveryResultKind = "ResolutionFailure"
)

type SuggestedAction string

const (
	ActionNone          SuggestedAction = ""
	ActionRotateKeys    SuggestedAction = "RotateKeys"
	ActionRemoveFollower SuggestedAction = "RemoveFollower"
)

// DeliveryReport is the per-(activity,recipient) outcome record.
type DeliveryReport struct {
	ActivityID      string
	Recipient       string
	InboxURL        string
	Result          DeliveryResultKind
	Status          int // HTTP status, 0 if none was received
	Reason          string
	SuggestedAction SuggestedAction
	Attempts        int
	DeliveredAt     time.Time
}

// DeliverySummary aggregates the reports for one activity.
type DeliverySummary struct {
	Total             int
	Success           int
	PermanentFailures int
	TransientFailures int
}

func (s DeliverySummary) Status() ActivityStatus {
	switch {
	case s.Total == 0:
		return StatusPending
	case s.Success == s.Total:
		return StatusDelivered
	case s.Success > 0:
		return StatusPartiallyDelivered
	default:
		return StatusFailed
	}
}

// DeliveryJob is the work-queue message for the activitypub.publish
// exchange: deliver the named activity to every recipient its audience
// implies.
type DeliveryJob struct {
	ActivityID string
}
