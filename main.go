package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/MitchMcQuinn/graphie-sub000/graphie"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := graphie.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	ctx := context.Background()

	var store graphie.GraphStore
	if cfg.MemoryStore {
		logger.Warn("using in-memory store, sessions will not survive restarts")
		store = graphie.NewMemStore()
	} else {
		neoStore, err := graphie.NewNeo4jStore(ctx, cfg.Neo4j)
		if err != nil {
			log.Fatalf("Error connecting to graph store: %v", err)
		}
		defer neoStore.Close(ctx)
		store = neoStore
	}

	registry := graphie.NewRegistry()
	graphie.RegisterBuiltins(registry, graphie.NewGenerator(cfg.OpenAI, logger))

	if cfg.WorkflowFile != "" {
		wf, err := graphie.LoadWorkflow(cfg.WorkflowFile)
		if err != nil {
			log.Fatalf("Error loading workflow: %v", err)
		}
		if err := graphie.ImportWorkflow(ctx, store, registry, wf); err != nil {
			log.Fatalf("Error importing workflow: %v", err)
		}
		logger.Info("imported workflow", "workflow", wf.ID, "steps", len(wf.Steps), "edges", len(wf.Edges))
	}

	engine := graphie.NewEngine(store, registry, cfg, logger)

	g := gin.Default()
	graphie.RegisterRoutes(g, engine, logger)

	if err := g.Run(cfg.Addr); err != nil {
		log.Fatalf("Error running server: %v", err)
	}
}
