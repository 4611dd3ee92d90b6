// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command query starts the Avicore query understanding API server.
//
// The server turns raw poultry-production questions into structured routing
// payloads: extracted entities, intent and complexity, a domain-gate verdict,
// a completeness score, and exactly one destination result (fused documents,
// a performance-standard value, a calculation, or a rejection).
//
// Usage:
//
//	go run ./cmd/query
//	go run ./cmd/query -port 9090
//
// With live backends:
//
//	WEAVIATE_HOST=localhost:8090 \
//	DOMAIN_CLASSIFIER_URL=http://localhost:9000 \
//	RERANKER_URL=http://localhost:9001 \
//	go run ./cmd/query
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/query/health
//
//	# Resolve a query
//	curl -X POST http://localhost:8080/v1/query/resolve \
//	  -H "Content-Type: application/json" \
//	  -d '{"query": "what should ross 308 males weigh at 35 days"}'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AvicoreAI/avicore/services/query"
	"github.com/AvicoreAI/avicore/services/query/calc"
	"github.com/AvicoreAI/avicore/services/query/classify"
	"github.com/AvicoreAI/avicore/services/query/collab"
	"github.com/AvicoreAI/avicore/services/query/config"
	"github.com/AvicoreAI/avicore/services/query/fusion"
	"github.com/AvicoreAI/avicore/services/query/gate"
	"github.com/AvicoreAI/avicore/services/query/pipeline"
	"github.com/AvicoreAI/avicore/services/query/route"
	badgerstore "github.com/AvicoreAI/avicore/services/query/storage/badger"
	"github.com/AvicoreAI/avicore/services/query/validate"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	configDir := flag.String("config-dir", "", "Directory watched for lexicon/pipeline config overrides")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
		slog.SetLogLoggerLevel(slog.LevelDebug)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext propagation: trace context flows from incoming HTTP
	// headers through every pipeline stage's spans.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger := slog.Default()

	// ==========================================================================
	// External collaborators
	// ==========================================================================

	var search collab.SearchService
	if host := os.Getenv("WEAVIATE_HOST"); host != "" {
		scheme := os.Getenv("WEAVIATE_SCHEME")
		if scheme == "" {
			scheme = "http"
		}
		client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
		if err != nil {
			slog.Warn("Weaviate client unavailable, retrieval disabled",
				slog.String("host", host),
				slog.String("error", err.Error()))
		} else {
			search = collab.NewWeaviateSearch(client, os.Getenv("WEAVIATE_CLASS"), 0, logger)
			slog.Info("Weaviate search connected", slog.String("host", host))
		}
	} else {
		slog.Warn("WEAVIATE_HOST not set, retrieval disabled")
	}

	var domainClassifier collab.DomainClassifier
	if url := os.Getenv("DOMAIN_CLASSIFIER_URL"); url != "" {
		domainClassifier = collab.NewHTTPDomainClassifier(url, 0, 50, logger)
		slog.Info("Domain classifier connected", slog.String("url", url))
	} else {
		slog.Warn("DOMAIN_CLASSIFIER_URL not set, gate falls back to search-based verification")
	}

	var reranker collab.Reranker
	if url := os.Getenv("RERANKER_URL"); url != "" {
		reranker = collab.NewHTTPReranker(url, 0, logger)
		slog.Info("Reranker connected", slog.String("url", url))
	} else {
		slog.Warn("RERANKER_URL not set, retrieval serves fused order without reranking")
	}

	// Gate decision cache. Separate from any per-request state; service-global,
	// in ~/.avicore/cache/gate/. Graceful degradation: if unavailable, the gate
	// re-verifies every query.
	var gateCache *gate.DecisionCache
	var gateDB *badgerstore.DB
	cacheDir := os.Getenv("QUERY_CACHE_DIR")
	if cacheDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cacheDir = filepath.Join(home, ".avicore", "cache", "gate")
		}
	}
	if cacheDir != "" {
		cfg := badgerstore.DefaultConfig()
		cfg.Path = cacheDir
		db, err := badgerstore.OpenDB(cfg)
		if err != nil {
			slog.Warn("Gate cache BadgerDB unavailable, decision caching disabled",
				slog.String("path", cacheDir),
				slog.String("error", err.Error()))
		} else {
			gateDB = db
			gateCache = gate.NewDecisionCache(db, 0, logger)
			slog.Info("Gate cache BadgerDB opened", slog.String("path", cacheDir))
		}
	}

	// ==========================================================================
	// Pipeline assembly
	// ==========================================================================

	sessions := collab.NewMemoryConversationStore(0)

	var fusionEngine *fusion.Engine
	if search != nil {
		fusionEngine = fusion.NewEngine(search, reranker, logger)
	}

	pipe := pipeline.New(pipeline.Options{
		Detector:     collab.NewHeuristicDetector(),
		Conversation: sessions,
		Classifier:   classify.NewClassifier(logger),
		Gate:         gate.NewGate(domainClassifier, search, gateCache, logger),
		Scorer:       validate.NewScorer(collab.NewConfigIntentRegistry(), logger),
		Router:       route.NewRouter(logger),
		Fusion:       fusionEngine,
		Metrics:      collab.NewStandardsStore(),
		Calc:         calc.NewAdapter(collab.NewLocalFormulaRunner(), logger),
		Logger:       logger,
	})

	svc := query.NewService(query.DefaultServiceConfig(), pipe, sessions, logger)
	handlers := query.NewHandlers(svc)

	// ==========================================================================
	// Router
	// ==========================================================================

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("avicore-query"))
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	query.RegisterRoutes(v1, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Hot reload: lexicon and pipeline config overrides dropped into the
	// watched directory swap in atomically, without a restart.
	reloadCtx, stopReload := context.WithCancel(context.Background())
	defer stopReload()
	if *configDir != "" {
		reloader, err := config.NewReloader(*configDir, logger)
		if err != nil {
			slog.Warn("Config reloader unavailable, overrides require a restart",
				slog.String("dir", *configDir),
				slog.String("error", err.Error()))
		} else {
			go reloader.Run(reloadCtx)
			slog.Info("Watching for config overrides", slog.String("dir", *configDir))
		}
	}

	// Periodic value-log GC for the gate cache.
	if gateDB != nil {
		go func() {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-reloadCtx.Done():
					return
				case <-ticker.C:
					if err := gateDB.RunGC(0.5); err != nil {
						slog.Debug("Gate cache GC", slog.String("error", err.Error()))
					}
				}
			}
		}()
	}

	printBanner(*port, search != nil, domainClassifier != nil)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down Avicore query server")
		stopReload()
		if gateDB != nil {
			if err := gateDB.Close(); err != nil {
				slog.Warn("Failed to close gate cache BadgerDB", slog.String("error", err.Error()))
			}
		}
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Starting Avicore query server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func printBanner(port int, retrievalEnabled, classifierEnabled bool) {
	fmt.Printf(`
Avicore Query Understanding Server
==================================
Listening:         http://localhost:%d
Resolve endpoint:  POST /v1/query/resolve
Health:            GET  /v1/query/health
Metrics:           GET  /metrics
Retrieval:         %v
Domain classifier: %v

`, port, retrievalEnabled, classifierEnabled)
}
