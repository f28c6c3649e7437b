package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/invoicewise/invoicewise/internal/adapter/store"
	"github.com/invoicewise/invoicewise/internal/port"
)

const backfillConcurrency = 4

// BackfillJob periodically embeds line items whose description embedding is
// still missing, either because ingestion-time embedding failed or because
// the items predate the vector column.
type BackfillJob struct {
	store    *store.PostgresStore
	vectors  *store.VectorStore
	embedder port.Embedder
	batch    int

	cron    *cron.Cron
	running atomic.Bool
}

// NewBackfillJob creates a backfill job processing up to batch items per run.
func NewBackfillJob(st *store.PostgresStore, vectors *store.VectorStore, embedder port.Embedder, batch int) *BackfillJob {
	if batch <= 0 {
		batch = 100
	}
	return &BackfillJob{
		store:    st,
		vectors:  vectors,
		embedder: embedder,
		batch:    batch,
	}
}

// Start schedules the job on the given cron expression and begins running.
func (j *BackfillJob) Start(schedule string) error {
	j.cron = cron.New()
	_, err := j.cron.AddFunc(schedule, func() {
		if err := j.RunOnce(context.Background()); err != nil {
			slog.Error("embedding backfill run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule backfill: %w", err)
	}
	j.cron.Start()
	slog.Info("embedding backfill scheduled", "schedule", schedule, "batch", j.batch)
	return nil
}

// Stop halts the schedule and waits for a running invocation to finish.
func (j *BackfillJob) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// RunOnce processes one batch of unembedded items. Overlapping invocations
// are skipped rather than queued.
func (j *BackfillJob) RunOnce(ctx context.Context) error {
	if !j.running.CompareAndSwap(false, true) {
		slog.Info("embedding backfill still running, skipping this tick")
		return nil
	}
	defer j.running.Store(false)

	items, err := j.store.ListItemsMissingEmbeddings(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("backfill list: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(backfillConcurrency)

	var stored atomic.Int64
	for _, item := range items {
		g.Go(func() error {
			vec := j.embedder.Embed(gctx, item.Description)
			if err := j.vectors.StoreItemEmbedding(gctx, item.ID, vec); err != nil {
				return fmt.Errorf("backfill item %d: %w", item.ID, err)
			}
			stored.Add(1)
			return nil
		})
	}

	err = g.Wait()
	slog.Info("embedding backfill run finished",
		"candidates", len(items), "stored", stored.Load())
	return err
}
