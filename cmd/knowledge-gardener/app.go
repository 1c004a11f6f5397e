// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/knowledge-gardener/internal/llm"
	"github.com/pdiddy/knowledge-gardener/internal/ops"
	"github.com/pdiddy/knowledge-gardener/internal/pipeline"
	"github.com/pdiddy/knowledge-gardener/internal/report"
	"github.com/pdiddy/knowledge-gardener/internal/stage"
	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

// app holds the long-lived collaborators one process shares across runs.
type app struct {
	cfg     types.Config
	log     *zap.Logger
	store   report.Store
	ops     *ops.Set
	model   *llm.Client
	prompts stage.Prompts
}

// newApp wires the configured adapters. The caller closes it.
func newApp() (*app, error) {
	store, err := report.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("opening report store: %w", err)
	}
	set, err := buildOps(cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	prompts, err := stage.LoadPrompts(cfg.Stage.PromptDir)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &app{
		cfg:     cfg,
		log:     logger,
		store:   store,
		ops:     set,
		model:   llm.New(cfg.Model, logger),
		prompts: prompts,
	}, nil
}

// newStoreOnly opens just the report store, for commands that only read it.
func newStoreOnly() (report.Store, error) {
	store, err := report.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("opening report store: %w", err)
	}
	return store, nil
}

// buildOps assembles every operation the configuration enables.
func buildOps(c types.Config, store report.Store, log *zap.Logger) (*ops.Set, error) {
	lightrag := ops.NewLightRAG(c.LightRAG, log)
	search := ops.NewSearch(c.Search, log)
	files, err := ops.NewFiles(c.Files.Root)
	if err != nil {
		return nil, err
	}

	var all []ops.Operation
	all = append(all, lightrag.Operations()...)
	all = append(all, search.Operations()...)
	all = append(all, ops.NewFetcher(c.Fetch, log).Operation())
	all = append(all, files.Operations()...)
	all = append(all, ops.ReportLookup(store))
	all = append(all, ops.NewApproval(os.Stdin, os.Stderr, c.Approval.NonInteractive).Operation())
	return ops.NewSet(all...), nil
}

func (a *app) Close() error { return a.store.Close() }

// warnMissing logs, per stage the task runs, the operations nothing provides.
func (a *app) warnMissing(task pipeline.Task) {
	stages := types.Stages
	if !task.IsFull() {
		stages = []types.Stage{task.Stage}
	}
	for s, err := range stage.CheckCapabilities(a.ops, stages...) {
		a.log.Warn("stage is missing operations", zap.String("stage", string(s)), zap.Error(err))
	}
}

func (a *app) runContext(at time.Time) *stage.RunContext {
	return &stage.RunContext{
		RunID:        uuid.NewString(),
		Timestamp:    at.UTC(),
		Model:        a.model,
		Ops:          a.ops,
		Store:        a.store,
		Logger:       a.log,
		Settings:     a.cfg.Stage,
		StoreRetries: a.cfg.Store.MaxRetries,
		Prompts:      a.prompts,
	}
}

// run executes task once and prints the combined status.
func (a *app) run(ctx context.Context, task pipeline.Task, at time.Time) error {
	a.warnMissing(task)
	o := &pipeline.Orchestrator{HaltOnFailure: a.cfg.Pipeline.HaltOnFailure, Logger: a.log}
	sum, err := o.Run(ctx, a.runContext(at), task)
	if status := sum.Status(); status != "" {
		fmt.Println(status)
	}
	if err != nil {
		return err
	}
	if sum.Failed() {
		return fmt.Errorf("%s finished with failed stages", task)
	}
	return nil
}
