package main

import (
	"context"
	"log"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"google.golang.org/api/option"
)

const distributorCooldown = 15 * time.Minute

// SignalDistributor publishes sanitized engine events to a Firestore
// collection, feeding any app or dashboard subscribed to it. A symbol is
// published at most once per event type per cooldown window so the feed
// doesn't flap.
type SignalDistributor struct {
	client     *firestore.Client
	collection string

	mu          sync.Mutex
	lastPublish map[string]time.Time
}

// NewSignalDistributor connects to Firestore with the configured service
// account. Returns nil (feed disabled) when initialization fails.
func NewSignalDistributor(credentialsFile, collection string) *SignalDistributor {
	if credentialsFile == "" {
		log.Println("⚠️ Firebase credentials not configured. Signal feed disabled.")
		return nil
	}
	if collection == "" {
		collection = "signals"
	}

	ctx := context.Background()
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		log.Printf("⚠️ Firebase init failed: %v. Signal feed disabled.", err)
		return nil
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		log.Printf("⚠️ Firestore init failed: %v. Signal feed disabled.", err)
		return nil
	}

	log.Printf("✅ Firestore signal feed connected (collection %s)", collection)
	return &SignalDistributor{
		client:      client,
		collection:  collection,
		lastPublish: make(map[string]time.Time),
	}
}

// Broadcast implements Broadcaster. Only signal and entry events reach the
// public feed; internal events stay local.
func (d *SignalDistributor) Broadcast(eventType string, payload interface{}) {
	if eventType != "signal" && eventType != "entry" {
		return
	}

	var symbol string
	doc := map[string]interface{}{
		"type":      eventType,
		"timestamp": time.Now().UnixMilli(),
	}

	switch p := payload.(type) {
	case Signal:
		symbol = p.Symbol
		doc["symbol"] = p.Symbol
		doc["momentum"] = p.Momentum
		doc["score"] = p.Score
		doc["entry_price"] = p.EntryPrice
		doc["market_state"] = string(p.MarketState)
	case *Position:
		symbol = p.Symbol
		doc["symbol"] = p.Symbol
		doc["entry_price"] = p.EntryPrice
		doc["stage"] = p.Stage
	default:
		return
	}

	d.mu.Lock()
	if last, ok := d.lastPublish[symbol+eventType]; ok && time.Since(last) < distributorCooldown {
		d.mu.Unlock()
		return
	}
	d.lastPublish[symbol+eventType] = time.Now()
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, _, err := d.client.Collection(d.collection).Add(ctx, doc); err != nil {
		log.Printf("⚠️ Firestore publish failed: %v", err)
	}
}

// Close releases the Firestore client.
func (d *SignalDistributor) Close() {
	if d != nil && d.client != nil {
		d.client.Close()
	}
}

var _ Broadcaster = (*SignalDistributor)(nil)
