package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/deemkeen/stegodon/domain"
	"github.com/deemkeen/stegodon/queue"
	"github.com/deemkeen/stegodon/resolver"
	"github.com/deemkeen/stegodon/sigs"
	"github.com/deemkeen/stegodon/store"
)

// Config controls the worker pool's concurrency and the per-request
// timeout used when POSTing to a remote inbox.
type Config struct {
	WorkerCount int
	HTTPTimeout time.Duration
	PollEvery   time.Duration
}

func DefaultConfig() Config {
	return Config{
		WorkerCount: 4,
		HTTPTimeout: 30 * time.Second,
		PollEvery:   2 * time.Second,
	}
}

// Engine expands each queued activity's audience into concrete inboxes,
// signs one request per inbox (deduplicated by shared inbox), delivers it,
// and records the outcome.
type Engine struct {
	store    *store.Store
	resolver *resolver.Resolver
	broker   queue.Broker
	cfg      Config
	client   *http.Client
}

func New(s *store.Store, r *resolver.Resolver, b queue.Broker, cfg Config) *Engine {
	return &Engine{
		store:    s,
		resolver: r,
		broker:   b,
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// Run starts cfg.WorkerCount goroutines pulling from the broker until ctx
// is cancelled, then waits for in-flight deliveries to finish.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			e.worker(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (e *Engine) worker(ctx context.Context, id int) {
	ticker := time.NewTicker(e.cfg.PollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.processOne(); err != nil {
				log.Printf("delivery worker %d: %v", id, err)
			}
		}
	}
}

func (e *Engine) processOne() error {
	job, ack, err := e.broker.NextDelivery()
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return nil
	}

	success, retryAfter := e.deliver(job.ActivityID)
	ack(success, retryAfter)
	return nil
}

// deliver expands the activity's audience, signs and sends one request per
// distinct inbox, records a DeliveryReport per recipient, and updates the
// activity's aggregate status. It returns true only when every recipient
// in this pass was delivered successfully, plus the longest Retry-After
// any 429 response asked for (zero if none did).
func (e *Engine) deliver(activityID string) (bool, time.Duration) {
	err, act := e.store.FindActivityByID(activityID)
	if err != nil || act == nil {
		log.Printf("delivery: activity %s not found: %v", activityID, err)
		return true, 0 // nothing to retry
	}

	err, fromActor := e.store.FindActorByID(act.Actor)
	if err != nil || fromActor == nil || !fromActor.Local {
		log.Printf("delivery: originating actor %s not local or not found", act.Actor)
		return true, 0
	}
	err, key := e.store.FindKeyByID(fromActor.PublicKeyID)
	if err != nil || key == nil || key.PrivateKeyPem == "" {
		log.Printf("delivery: no signing key for actor %s", act.Actor)
		return true, 0
	}

	inboxes, err := e.expandAudience(act)
	if err != nil {
		log.Printf("delivery: audience expansion failed for %s: %v", activityID, err)
		return false, 0
	}
	if len(inboxes) == 0 {
		e.store.SetActivityStatus(activityID, domain.StatusDelivered)
		return true, 0
	}

	byInbox := make(map[string][]string)
	for recipient, inboxURL := range inboxes {
		byInbox[inboxURL] = append(byInbox[inboxURL], recipient)
	}

	allOK := true
	var maxRetryAfter time.Duration
	for inboxURL, recipients := range byInbox {
		report, retryAfter := e.deliverOne(act, fromActor, key, recipients[0], inboxURL)
		for _, recipient := range recipients {
			report.Recipient = recipient
			if err := e.store.InsertDeliveryReport(&report); err != nil {
				log.Printf("delivery: failed to record report for %s: %v", inboxURL, err)
			}
			if report.SuggestedAction == domain.ActionRemoveFollower {
				if err := e.store.SetFollowState(recipient, act.Actor, domain.FollowCancelled); err != nil {
					log.Printf("delivery: could not cancel follow for gone recipient %s: %v", recipient, err)
				}
			}
		}
		if report.Result != domain.DeliverySuccess {
			allOK = false
		}
		if retryAfter > maxRetryAfter {
			maxRetryAfter = retryAfter
		}
	}

	err, summary := e.store.SummarizeDelivery(activityID)
	if err == nil {
		e.store.SetActivityStatus(activityID, summary.Status())
	}
	return allOK, maxRetryAfter
}

// expandAudience resolves to/cc/bto/bcc into a recipient-actor-URI ->
// inbox-URL map, excluding the Public collection, expanding the local
// followers collection, and preferring each actor's shared inbox so
// multiple local followers on the same remote server collapse into one
// delivery.
func (e *Engine) expandAudience(act *domain.Activity) (map[string]string, error) {
	recipients := make(map[string]bool)
	for _, uri := range act.Audience {
		if uri == "" || uri == domain.PublicURI {
			continue
		}
		if strings.HasSuffix(uri, "/followers") {
			err, followers := e.store.ListFollowers(act.Actor, 10000, 0)
			if err != nil {
				return nil, fmt.Errorf("expand followers: %w", err)
			}
			for _, f := range followers {
				recipients[f.Follower] = true
			}
			continue
		}
		recipients[uri] = true
	}

	inboxes := make(map[string]string, len(recipients))
	for actorURI := range recipients {
		remote, err := e.resolver.ResolveByURI(actorURI)
		if err != nil {
			log.Printf("delivery: could not resolve recipient %s: %v", actorURI, err)
			continue
		}
		inboxURL := remote.Inbox
		if remote.SharedInbox != "" {
			inboxURL = remote.SharedInbox
		}
		inboxes[actorURI] = inboxURL
	}
	return inboxes, nil
}

// deliverOne signs and POSTs the activity to one resolved inbox, returning
// the outcome report and, for a 429 response, how long the peer asked the
// caller to wait before retrying (zero otherwise).
func (e *Engine) deliverOne(act *domain.Activity, fromActor *domain.Actor, key *domain.KeyRecord, recipient, inboxURL string) (domain.DeliveryReport, time.Duration) {
	report := domain.DeliveryReport{
		ActivityID:  act.ActivityID,
		Recipient:   recipient,
		InboxURL:    inboxURL,
		DeliveredAt: time.Now().UTC(),
	}

	priv, err := sigs.ParsePrivateKey(key.PrivateKeyPem)
	if err != nil {
		report.Result = domain.DeliveryPermanentFailure
		report.Reason = fmt.Sprintf("parse signing key: %v", err)
		return report, 0
	}

	req, err := http.NewRequest("POST", inboxURL, bytes.NewReader([]byte(act.RawJSON)))
	if err != nil {
		report.Result = domain.DeliveryResolutionFailure
		report.Reason = fmt.Sprintf("build request: %v", err)
		return report, 0
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", "stegodon-federation/1.0")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	signErr := sigs.Sign(req, sigs.SignConfig{
		KeyID:      fromActor.PublicKeyID,
		Algorithm:  key.Algorithm,
		PrivateKey: priv,
		Components: []sigs.Component{sigs.CompMethod, sigs.CompTargetURI, sigs.CompAuthority, "date"},
		Body:       []byte(act.RawJSON),
	})
	if signErr != nil {
		report.Result = domain.DeliveryPermanentFailure
		report.Reason = fmt.Sprintf("sign request: %v", signErr)
		return report, 0
	}

	resp, err := e.client.Do(req)
	if err != nil {
		report.Result = domain.DeliveryTransientFailure
		report.Reason = err.Error()
		return report, 0
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	report.Status = resp.StatusCode

	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
	return classify(resp.StatusCode, &report), retryAfter
}

// parseRetryAfter understands both the delay-seconds and HTTP-date forms
// of the Retry-After header; an unparsable or absent header yields zero.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}

func classify(status int, report *domain.DeliveryReport) domain.DeliveryReport {
	switch {
	case status >= 200 && status < 300:
		report.Result = domain.DeliverySuccess
	case status == 401 || status == 403:
		report.Result = domain.DeliveryPermanentFailure
		report.SuggestedAction = domain.ActionRotateKeys
		report.Reason = fmt.Sprintf("remote rejected signature: %d", status)
	case status == 404 || status == 410:
		report.Result = domain.DeliveryPermanentFailure
		report.SuggestedAction = domain.ActionRemoveFollower
		report.Reason = fmt.Sprintf("recipient gone: %d", status)
	case status == 429 || status >= 500:
		report.Result = domain.DeliveryTransientFailure
		report.Reason = fmt.Sprintf("remote server error: %d", status)
	default:
		report.Result = domain.DeliveryPermanentFailure
		report.Reason = fmt.Sprintf("unexpected status: %d", status)
	}
	return *report
}
