package web

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/deemkeen/stegodon/apperror"
	"github.com/deemkeen/stegodon/inbox"
	"github.com/deemkeen/stegodon/store"
	"github.com/deemkeen/stegodon/util"
	"github.com/gin-gonic/gin"
)

// HandlePerUserInbox delivers req to the named actor's inbox.
func HandlePerUserInbox(c *gin.Context, proc *inbox.Processor, conf *util.AppConfig, username string) {
	actorID := actorURI(conf, username)
	deliverToInbox(c, proc, actorID)
}

// HandleSharedInbox accepts a batch delivery at the instance-wide shared
// inbox endpoint and routes it to whichever local actor the activity's
// addressing names, the way a federated server is expected to per the
// ActivityPub spec's sharedInbox extension.
func HandleSharedInbox(c *gin.Context, proc *inbox.Processor, s *store.Store, conf *util.AppConfig) {
	body, err := c.GetRawData()
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	var activity map[string]interface{}
	if err := json.Unmarshal(body, &activity); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	target := resolveSharedInboxTarget(s, conf, activity)
	if target == "" {
		log.Printf("shared inbox: could not determine target actor for activity type %v", activity["type"])
		c.Status(http.StatusAccepted)
		return
	}

	processInbox(c, proc, body, target)
}

// resolveSharedInboxTarget extracts the local actor URI an inbound
// activity should be routed to, checking to/cc/object addressing before
// falling back to looking up which local actor follows the sender.
func resolveSharedInboxTarget(s *store.Store, conf *util.AppConfig, activity map[string]interface{}) string {
	if uri := firstLocalActorURI(conf, stringsFromField(activity["to"])); uri != "" {
		return uri
	}
	if uri := firstLocalActorURI(conf, stringsFromField(activity["cc"])); uri != "" {
		return uri
	}
	if objStr, ok := activity["object"].(string); ok {
		if uri := localActorURIFromAddress(conf, objStr); uri != "" {
			return uri
		}
	}

	actorURI, _ := activity["actor"].(string)
	if actorURI == "" {
		return ""
	}
	err, followers := s.ListFollowers(actorURI, 1, 0)
	if err != nil || len(followers) == 0 {
		return ""
	}
	return followers[0].Follower
}

func stringsFromField(field interface{}) []string {
	arr, ok := field.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func firstLocalActorURI(conf *util.AppConfig, addresses []string) string {
	for _, addr := range addresses {
		if uri := localActorURIFromAddress(conf, addr); uri != "" {
			return uri
		}
	}
	return ""
}

// localActorURIFromAddress trims an addressed collection URI (followers,
// following) down to the bare actor URI if it names a local actor.
func localActorURIFromAddress(conf *util.AppConfig, addr string) string {
	prefix := "https://" + conf.Conf.SslDomain + "/users/"
	if !strings.HasPrefix(addr, prefix) {
		return ""
	}
	rest := strings.TrimPrefix(addr, prefix)
	username := rest
	if idx := strings.Index(rest, "/"); idx >= 0 {
		username = rest[:idx]
	}
	if username == "" {
		return ""
	}
	return prefix + username
}

func deliverToInbox(c *gin.Context, proc *inbox.Processor, targetActorID string) {
	body, err := c.GetRawData()
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	processInbox(c, proc, body, targetActorID)
}

func processInbox(c *gin.Context, proc *inbox.Processor, body []byte, targetActorID string) {
	if err := proc.Process(c.Request, body, targetActorID); err != nil {
		status := apperror.HTTPStatus(apperror.KindOf(err))
		log.Printf("inbox: %v", err)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

func actorURI(conf *util.AppConfig, username string) string {
	return "https://" + conf.Conf.SslDomain + "/users/" + username
}
