// Copyright 2025 Certen Protocol
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rainbow-dsp/connector/pkg/config"
	"github.com/rainbow-dsp/connector/pkg/corestate"
	"github.com/rainbow-dsp/connector/pkg/database"
	"github.com/rainbow-dsp/connector/pkg/mates"
	"github.com/rainbow-dsp/connector/pkg/metrics"
	"github.com/rainbow-dsp/connector/pkg/negotiation"
	"github.com/rainbow-dsp/connector/pkg/notify"
	"github.com/rainbow-dsp/connector/pkg/schema"
	"github.com/rainbow-dsp/connector/pkg/transfer"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("Starting dataspace connector")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	dbClient, err := database.NewClient(cfg, database.WithLogger(
		log.New(log.Writer(), "[Database] ", log.LstdFlags),
	))
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer dbClient.Close()

	ctx := context.Background()
	if err := dbClient.MigrateUp(ctx); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	repos := database.NewRepositories(dbClient)
	negotiationRepo := repos.Negotiations
	transferRepo := repos.Transfers

	matesRegistry := mates.New(repos.Mates)
	if err := matesRegistry.Refresh(ctx); err != nil {
		log.Fatalf("failed to warm the mates registry: %v", err)
	}

	schemaBank := schema.NewBank()

	var sinks []notify.Sink
	if cfg.FirestoreEnabled {
		firestoreSink, err := notify.NewFirestoreSink(ctx, notify.FirestoreSinkConfig{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsFile: cfg.FirebaseCredentialsFile,
			Enabled:         true,
			Logger:          log.New(log.Writer(), "[NotifyFirestore] ", log.LstdFlags),
		})
		if err != nil {
			log.Fatalf("failed to initialize Firestore notification sink: %v", err)
		}
		defer firestoreSink.Close()
		sinks = append(sinks, firestoreSink)
	}

	notifier := notify.New(repos.Notifications, cfg.NotifyWorkers, log.New(log.Writer(), "[Notify] ", log.LstdFlags), sinks...)
	defer notifier.Close()

	metricsRegistry := metrics.New(prometheus.DefaultRegisterer)

	negotiationKernel := negotiation.NewKernel()
	negotiationInbound := &negotiation.Inbound{
		Kernel:                negotiationKernel,
		Store:                 negotiationRepo,
		Mates:                 matesRegistry,
		Schemas:               schemaBank,
		Notifier:              notifier,
		Metrics:               metricsRegistry,
		SelfRole:              corestate.RoleProvider,
		BusinessParticipantID: cfg.BusinessParticipantID,
		MaxOffers:             cfg.MaxOffersPerProcess,
	}
	negotiationOutbound := negotiation.NewOutbound(
		negotiationKernel, negotiationRepo, matesRegistry, notifier,
		corestate.RoleConsumer, cfg.ParticipantID, cfg.MaxOffersPerProcess, cfg.OutboundTimeout,
	)
	negotiationOutbound.Metrics = metricsRegistry

	transferKernel := transfer.NewKernel()
	transferInbound := &transfer.Inbound{
		Kernel:    transferKernel,
		Store:     transferRepo,
		Mates:     matesRegistry,
		Schemas:   schemaBank,
		Notifier:  notifier,
		Metrics:   metricsRegistry,
		DataPlane: transfer.NoopDataPlane{},
		SelfRole:  corestate.RoleProvider,

		BusinessParticipantID: cfg.BusinessParticipantID,
	}
	transferOutbound := transfer.NewOutbound(
		transferKernel, transferRepo, matesRegistry, notifier, transfer.NoopDataPlane{},
		corestate.RoleConsumer, cfg.OutboundTimeout,
	)
	transferOutbound.Metrics = metricsRegistry

	protocolMux := http.NewServeMux()
	protocolMux.Handle("/negotiations/", negotiation.NewProtocolRouter(negotiationInbound, log.New(log.Writer(), "[NegotiationProtocol] ", log.LstdFlags)))
	protocolMux.Handle("/transfers/", transfer.NewProtocolRouter(transferInbound, log.New(log.Writer(), "[TransferProtocol] ", log.LstdFlags)))

	rpcMux := http.NewServeMux()
	rpcMux.Handle("/api/v1/negotiations/rpc/", negotiation.NewRPCRouter(negotiationOutbound, log.New(log.Writer(), "[NegotiationRPC] ", log.LstdFlags)))
	rpcMux.Handle("/api/v1/transfers/rpc/", transfer.NewRPCRouter(transferOutbound, log.New(log.Writer(), "[TransferRPC] ", log.LstdFlags)))

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status, err := dbClient.Health(r.Context())
		if err != nil || !status.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})

	protocolServer := &http.Server{Addr: cfg.ListenAddr, Handler: protocolMux}
	rpcServer := &http.Server{Addr: cfg.RPCAddr, Handler: rpcMux}
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	go func() {
		log.Printf("protocol surface listening on %s", cfg.ListenAddr)
		if err := protocolServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("protocol server failed: %v", err)
		}
	}()
	go func() {
		log.Printf("RPC facade listening on %s", cfg.RPCAddr)
		if err := rpcServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("RPC server failed: %v", err)
		}
	}()
	go func() {
		log.Printf("metrics endpoint listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server failed: %v", err)
		}
	}()

	log.Println("dataspace connector ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range []*http.Server{protocolServer, rpcServer, metricsServer} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown error: %v", err)
		}
	}

	log.Println("dataspace connector stopped")
}
