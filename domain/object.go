package domain

import "time"

// Object is an ActivityStreams object (Note, Article, Tombstone...).
type Object struct {
	ObjectID       string
	ObjectType     string
	AttributedTo   string
	Content        string
	Summary        string
	InReplyTo      string
	To             []string
	Cc             []string
	Bto            []string
	Bcc            []string
	Published      time.Time
	Updated        *time.Time
	DeletedAt      *time.Time
}

func (o *Object) Deleted() bool { return o.DeletedAt != nil }

// PublicAudience strips bto/bcc, which must never be serialized outward.
func (o *Object) PublicAudience() (to, cc []string) {
	return o.To, o.Cc
}
