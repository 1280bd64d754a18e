package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deemkeen/stegodon/db"
	"github.com/deemkeen/stegodon/delivery"
	"github.com/deemkeen/stegodon/domain"
	"github.com/deemkeen/stegodon/inbox"
	"github.com/deemkeen/stegodon/producer"
	"github.com/deemkeen/stegodon/queue"
	"github.com/deemkeen/stegodon/resolver"
	"github.com/deemkeen/stegodon/sigs"
	"github.com/deemkeen/stegodon/store"
	"github.com/deemkeen/stegodon/util"
	"github.com/deemkeen/stegodon/web"
)

// instanceActorUsername names the system-owned actor the resolver signs
// authorized fetches with, per spec.md's "instance actor" concept: it
// avoids the verification deadlock that would occur signing with a human
// actor's own key to fetch that same actor.
const instanceActorUsername = "instance.actor"

func main() {
	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	if conf.Conf.DatabasePath != "" {
		db.SetPath(conf.Conf.DatabasePath)
	}
	database := db.GetDB()

	s := store.New(database)
	r := resolver.New(s)
	if actor, key, err := ensureInstanceActor(s, conf.Conf.SslDomain); err != nil {
		log.Printf("could not provision instance actor: %v", err)
	} else {
		r.SetInstanceActor(actor, key)
	}
	broker := queue.NewStoreBroker(database, queue.BrokerConfig{
		MaxAttempts: conf.Conf.RetryAttempts,
		BaseBackoff: time.Duration(conf.Conf.RetryBaseMs) * time.Millisecond,
	})
	p := producer.New(s, broker, conf.Conf.SslDomain)
	proc := inbox.New(s, r, p)

	engine := delivery.New(s, r, broker, delivery.Config{
		WorkerCount: conf.Conf.WorkerCount,
		HTTPTimeout: 30 * time.Second,
		PollEvery:   2 * time.Second,
	})

	ctx, cancelDelivery := context.WithCancel(context.Background())
	deliveryDone := make(chan struct{})
	go func() {
		engine.Run(ctx)
		close(deliveryDone)
	}()

	router := web.NewRouter(conf, s, proc)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort),
		Handler: router,
	}

	startServing(httpServer, cancelDelivery, conf)
	<-deliveryDone
}

// ensureInstanceActor returns the domain's instance actor and signing key,
// creating both on first run. It is idempotent: a second call on a domain
// that already has one just loads it back out of the store.
func ensureInstanceActor(s *store.Store, sslDomain string) (*domain.Actor, *domain.KeyRecord, error) {
	actorID := fmt.Sprintf("https://%s/actors/%s", sslDomain, instanceActorUsername)
	if err, existing := s.FindActorByID(actorID); err == nil && existing != nil {
		if err, key := s.FindKeyByID(existing.PublicKeyID); err == nil && key != nil {
			return existing, key, nil
		}
	}

	privPem, pubPem, err := sigs.GenerateKeyPair(domain.Ed25519)
	if err != nil {
		return nil, nil, fmt.Errorf("generate instance actor key: %w", err)
	}
	keyID := actorID + "#main-key"

	actor := &domain.Actor{
		ActorID:           actorID,
		Domain:            sslDomain,
		PreferredUsername: instanceActorUsername,
		ActorType:         domain.ActorApplication,
		Inbox:             actorID + "/inbox",
		Outbox:            actorID + "/outbox",
		Followers:         actorID + "/followers",
		Following:         actorID + "/following",
		PublicKeyID:       keyID,
		PublicKeyPem:      pubPem,
		PrivateKeyRef:     keyID,
		Published:         time.Now().UTC(),
		Local:             true,
	}
	if err := s.UpsertActor(actor); err != nil {
		return nil, nil, fmt.Errorf("store instance actor: %w", err)
	}

	key := &domain.KeyRecord{
		KeyID:         keyID,
		ActorID:       actorID,
		Algorithm:     domain.Ed25519,
		PublicKeyPem:  pubPem,
		PrivateKeyPem: privPem,
		TrustLevel:    domain.InstanceActor,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.InsertKey(key); err != nil && err != store.ErrAlreadyExists {
		return nil, nil, fmt.Errorf("store instance actor key: %w", err)
	}

	return actor, key, nil
}

func startServing(httpServer *http.Server, cancelDelivery context.CancelFunc, conf *util.AppConfig) {
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting HTTP server on %s:%d", conf.Conf.Host, conf.Conf.HttpPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	cancelDelivery()
}
