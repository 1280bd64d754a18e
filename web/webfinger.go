package web

import (
	"encoding/json"
	"fmt"

	"github.com/deemkeen/stegodon/store"
)

// webfingerResponse is a JRD per RFC 7033, restricted to the one link
// this core's peers need: the activity+json actor document.
type webfingerResponse struct {
	Subject string          `json:"subject"`
	Links   []webfingerLink `json:"links"`
}

type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

// GetWebfinger resolves acct:user@host to the actor's JRD. The host is
// assumed already validated (matches one of this deployment's hosted
// domains) by the caller.
func GetWebfinger(s *store.Store, user, host string) (string, error) {
	err, actor := s.FindActorByUsername(user)
	if err != nil {
		return "", err
	}
	if !actor.Local {
		return "", fmt.Errorf("actor %s is not local", user)
	}

	resp := webfingerResponse{
		Subject: fmt.Sprintf("acct:%s@%s", user, host),
		Links: []webfingerLink{
			{Rel: "self", Type: "application/activity+json", Href: actor.ActorID},
		},
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("marshal webfinger response: %w", err)
	}
	return string(out), nil
}

// WebfingerNotFound is the JRD error body RFC 7033 implementations
// typically return for an unresolvable resource.
func WebfingerNotFound() string {
	return `{"detail":"Not Found"}`
}
