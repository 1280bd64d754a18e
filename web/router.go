package web

import (
	"log"
	"strconv"
	"strings"

	"github.com/deemkeen/stegodon/inbox"
	"github.com/deemkeen/stegodon/store"
	"github.com/deemkeen/stegodon/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"golang.org/x/time/rate"
)

// NewRouter builds the gin engine serving the federation core's HTTP
// surface. It is returned unstarted so main can wrap it in an http.Server
// it controls the lifecycle of for graceful shutdown.
func NewRouter(conf *util.AppConfig, s *store.Store, proc *inbox.Processor) *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	apLimiter := NewRateLimiter(rate.Limit(5), 10)
	maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

	g.GET("/users/:actor", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		doc, err := GetActorDocument(s, c.Param("actor"))
		if err != nil {
			c.Render(404, render.String{Format: `{"error":"actor not found"}`})
			return
		}
		c.Render(200, render.String{Format: doc})
	})

	g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
		HandleSharedInbox(c, proc, s, conf)
	})

	g.POST("/users/:actor/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
		HandlePerUserInbox(c, proc, conf, c.Param("actor"))
	})

	// Inboxes are write-only: spec.md §4.7 says GET on either inbox
	// endpoint is a 405, not a 404 or a silent collection read.
	g.GET("/inbox", methodNotAllowed)
	g.GET("/users/:actor/inbox", methodNotAllowed)

	g.GET("/users/:actor/outbox", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		renderOutbox(c, s, conf, c.Param("actor"))
	})

	g.GET("/users/:actor/followers", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		renderFollowCollection(c, s, conf, kindFollowers, c.Param("actor"))
	})

	g.GET("/users/:actor/following", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		renderFollowCollection(c, s, conf, kindFollowing, c.Param("actor"))
	})

	g.GET("/.well-known/webfinger", func(c *gin.Context) {
		c.Header("Content-Type", "application/jrd+json; charset=utf-8")

		resource := c.Query("resource")
		if resource == "" || !strings.HasPrefix(resource, "acct:") {
			c.Render(404, render.String{Format: WebfingerNotFound()})
			return
		}
		account := strings.TrimPrefix(resource, "acct:")
		parts := strings.SplitN(account, "@", 2)
		if len(parts) != 2 || parts[1] != conf.Conf.SslDomain {
			c.Render(404, render.String{Format: WebfingerNotFound()})
			return
		}
		resp, err := GetWebfinger(s, parts[0], parts[1])
		if err != nil {
			c.Render(404, render.String{Format: WebfingerNotFound()})
			return
		}
		c.Render(200, render.String{Format: resp})
	})

	g.GET("/.well-known/nodeinfo", func(c *gin.Context) {
		c.Header("Content-Type", "application/json; charset=utf-8")
		doc, err := GetNodeinfoDiscovery(conf)
		if err != nil {
			c.Status(500)
			return
		}
		c.Render(200, render.String{Format: doc})
	})

	g.GET("/nodeinfo/2.0", func(c *gin.Context) {
		c.Header("Content-Type", "application/json; charset=utf-8")
		doc, err := GetNodeinfo20(s, conf)
		if err != nil {
			c.Status(500)
			return
		}
		c.Render(200, render.String{Format: doc})
	})

	log.Printf("federation router ready for %s", conf.Conf.SslDomain)
	return g
}

func renderOutbox(c *gin.Context, s *store.Store, conf *util.AppConfig, username string) {
	actorID := actorURI(conf, username)
	if c.Query("page") != "true" {
		out, err := GetOutboxCollection(s, actorID)
		if err != nil {
			c.Render(404, render.String{Format: `{"error":"actor not found"}`})
			return
		}
		c.Render(200, render.String{Format: out})
		return
	}
	out, err := GetOutboxPage(s, actorID, c.Query("max_id"), queryInt(c, "page_size"))
	if err != nil {
		c.Render(400, render.String{Format: `{"error":"invalid page"}`})
		return
	}
	c.Render(200, render.String{Format: out})
}

func renderFollowCollection(c *gin.Context, s *store.Store, conf *util.AppConfig, kind collectionKind, username string) {
	actorID := actorURI(conf, username)
	suffix := "/followers"
	if kind == kindFollowing {
		suffix = "/following"
	}
	collectionURL := actorID + suffix

	if c.Query("page") != "true" {
		out, err := GetFollowCollection(s, kind, collectionURL, actorID)
		if err != nil {
			c.Render(404, render.String{Format: `{"error":"actor not found"}`})
			return
		}
		c.Render(200, render.String{Format: out})
		return
	}
	out, err := GetFollowPage(s, kind, collectionURL, actorID, c.Query("max_id"), queryInt(c, "page_size"))
	if err != nil {
		c.Render(400, render.String{Format: `{"error":"invalid page"}`})
		return
	}
	c.Render(200, render.String{Format: out})
}

func methodNotAllowed(c *gin.Context) {
	c.Status(405)
}

func queryInt(c *gin.Context, key string) int {
	raw := c.Query(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
