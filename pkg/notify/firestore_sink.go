// Copyright 2025 Certen Protocol
package notify

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// FirestoreSink mirrors every notification into a Firestore collection for
// real-time UI sync (SPEC_FULL §3.2). Enabled/disabled exactly like the
// FIRESTORE_ENABLED toggle this is adapted from.
type FirestoreSink struct {
	mu        sync.RWMutex
	firestore *gcpfirestore.Client
	enabled   bool
	collection string
	logger    *log.Logger
}

// FirestoreSinkConfig configures a FirestoreSink.
type FirestoreSinkConfig struct {
	ProjectID       string
	CredentialsFile string
	Collection      string
	Enabled         bool
	Logger          *log.Logger
}

// NewFirestoreSink builds a sink, or a no-op sink when cfg.Enabled is false.
func NewFirestoreSink(ctx context.Context, cfg FirestoreSinkConfig) (*FirestoreSink, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[NotifyFirestore] ", log.LstdFlags)
	}
	if cfg.Collection == "" {
		cfg.Collection = "dspaceNotifications"
	}

	sink := &FirestoreSink{enabled: cfg.Enabled, collection: cfg.Collection, logger: cfg.Logger}
	if !cfg.Enabled {
		cfg.Logger.Println("Firestore notification sink is DISABLED - running in no-op mode")
		return sink, nil
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("FIREBASE_PROJECT_ID is required when the Firestore sink is enabled")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	fsClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	sink.firestore = fsClient

	cfg.Logger.Printf("Firestore notification sink initialized for project: %s", cfg.ProjectID)
	return sink, nil
}

// IsEnabled reports whether the sink performs real writes.
func (s *FirestoreSink) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// Close releases the underlying Firestore client.
func (s *FirestoreSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firestore != nil {
		return s.firestore.Close()
	}
	return nil
}

// Deliver writes n as a new document under a Firestore-generated ID, so
// repeated notifications for the same process never collide.
func (s *FirestoreSink) Deliver(ctx context.Context, n Notification) error {
	if !s.IsEnabled() {
		return nil
	}
	doc := map[string]interface{}{
		"category":    string(n.Category),
		"operation":   string(n.Operation),
		"processId":   n.ProcessID,
		"providerPid": n.ProviderPid,
		"consumerPid": n.ConsumerPid,
		"messageType": n.MessageType,
		"state":       n.State,
		"recordedAt":  time.Now().UTC(),
	}
	_, _, err := s.firestore.Collection(s.collection).Add(ctx, doc)
	if err != nil {
		return fmt.Errorf("firestore add failed: %w", err)
	}
	return nil
}
