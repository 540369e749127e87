package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/support-dispatch/internal/catalog"
	"github.com/spec-kit/support-dispatch/internal/knowledge"
)

// loadStore builds the catalog the way the service does at startup.
// Empty arguments fall back to the configured paths.
func loadStore(ctx context.Context, blueprint, knowledgeDir string) (*catalog.Store, *knowledge.Index, error) {
	if blueprint == "" {
		blueprint = cfg.Dispatch.BlueprintPath
	}
	if knowledgeDir == "" {
		knowledgeDir = cfg.Dispatch.KnowledgeDir
	}

	opts := catalog.BuildOptions{BlueprintPath: blueprint, Logger: logger.Named("catalog")}
	var corpus *knowledge.Index
	if knowledgeDir != "" {
		idx, err := knowledge.LoadDir(knowledgeDir)
		if err != nil {
			logger.Warn("knowledge corpus not loaded", zap.String("dir", knowledgeDir), zap.Error(err))
		} else {
			corpus = idx
			opts.Corpus = idx
		}
	}

	store, err := catalog.Build(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("build catalog: %w", err)
	}
	return store, corpus, nil
}
