package service

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/oceanprotocol/aquarius"
	"github.com/oceanprotocol/aquarius/client"
	"github.com/oceanprotocol/aquarius/internal/domain"
	"github.com/oceanprotocol/aquarius/internal/usecase"
)

var monitorTracer = otel.Tracer("monitor")

const (
	cursorKey   = "aquarius:monitor:cursor"
	defaultPoll = 30 * time.Second
	workerCount = 8
)

// Monitor keeps the index synchronized with the chain: it ingests
// newly published assets, re-reconciles listed records through the
// updater, and applies the remote purgatory list.
type Monitor struct {
	store     usecase.RecordStore
	chain     usecase.ChainEventSource
	updater   *usecase.MetadataUpdater
	signals   usecase.SignalPublisher
	purgatory *client.Client
	rdb       *redis.Client

	startBlock   uint64
	pollInterval time.Duration
	purgeEvery   time.Duration
}

func NewMonitor(
	store usecase.RecordStore,
	chain usecase.ChainEventSource,
	updater *usecase.MetadataUpdater,
	signals usecase.SignalPublisher,
	purgatory *client.Client,
	rdb *redis.Client,
	startBlock uint64,
	purgeEvery time.Duration,
) *Monitor {
	return &Monitor{
		store:        store,
		chain:        chain,
		updater:      updater,
		signals:      signals,
		purgatory:    purgatory,
		rdb:          rdb,
		startBlock:   startBlock,
		pollInterval: defaultPoll,
		purgeEvery:   purgeEvery,
	}
}

// Run blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	poll := time.NewTicker(m.pollInterval)
	defer poll.Stop()
	purge := time.NewTicker(m.purgeEvery)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			if err := m.Sweep(ctx); err != nil {
				slog.ErrorContext(
					ctx, "Sweep failed",
					slog.String("error", err.Error()),
					slog.String("module", "monitor"),
				)
			}
		case <-purge.C:
			if err := m.ApplyPurgatoryList(ctx); err != nil {
				slog.ErrorContext(
					ctx, "Purgatory refresh failed",
					slog.String("error", err.Error()),
					slog.String("module", "monitor"),
				)
			}
		}
	}
}

// Sweep runs one ingestion pass followed by one reconciliation pass.
func (m *Monitor) Sweep(ctx context.Context) error {
	ctx, span := monitorTracer.Start(ctx, "Monitor.Sweep")
	defer span.End()

	if err := m.ingest(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	return m.reconcileAll(ctx)
}

// ingest creates main-index records for publish events not yet indexed
// and advances the scan cursor.
func (m *Monitor) ingest(ctx context.Context) error {
	cursor := m.cursor(ctx)

	events, err := m.chain.AllEventsSince(ctx, cursor)
	if err != nil {
		return errors.Wrap(err, "event scan failed")
	}

	var maxBlock uint64
	for i := range events {
		ev := &events[i]
		if ev.Point.Block > maxBlock {
			maxBlock = ev.Point.Block
		}
		if ev.Type != aquarius.EventMetadataCreated {
			continue
		}
		if err := m.ingestOne(ctx, ev); err != nil {
			slog.WarnContext(
				ctx, "Ingest skipped",
				slog.String("dataToken", ev.DataToken),
				slog.String("error", err.Error()),
				slog.String("module", "monitor"),
			)
		}
	}

	if maxBlock > cursor {
		m.setCursor(ctx, maxBlock)
	}
	return nil
}

func (m *Monitor) ingestOne(ctx context.Context, ev *aquarius.MetadataEvent) error {
	did, err := aquarius.DIDFromAddress(ev.DataToken)
	if err != nil {
		return err
	}

	if _, err := m.store.Get(ctx, did); err == nil {
		// already indexed; reconciliation handles updates
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	rec := &aquarius.Record{
		ID:        did,
		Created:   time.Now().UTC(),
		DataToken: ev.DataToken,
		DataTokenInfo: &aquarius.DataTokenInfo{
			Address: ev.DataToken,
		},
		Event: aquarius.EventPoint{}, // reconciliation applies the payload
	}

	if err := m.store.PutMain(ctx, rec); err != nil {
		return err
	}

	if m.signals != nil {
		_ = m.signals.Publish(ctx, aquarius.Signal{
			Type: domain.SignalCreated,
			DID:  did,
			At:   time.Now().UTC(),
		})
	}

	return m.updater.SingleUpdate(ctx, rec, false)
}

// reconcileAll runs SingleUpdate over every listed record with a
// bounded worker pool; reconciliation is I/O bound and independent
// across DIDs.
func (m *Monitor) reconcileAll(ctx context.Context) error {
	records, err := m.store.GetAllListed(ctx)
	if err != nil {
		return err
	}

	jobs := make(chan *aquarius.Record)
	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				if err := m.updater.SingleUpdate(ctx, rec, false); err != nil {
					slog.WarnContext(
						ctx, "Reconciliation failed",
						slog.String("did", rec.ID),
						slog.String("error", err.Error()),
						slog.String("module", "monitor"),
					)
				}
			}
		}()
	}

	for i := range records {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		case jobs <- &records[i]:
		}
	}
	close(jobs)
	wg.Wait()
	return nil
}

// ApplyPurgatoryList flags every record named by the remote purgatory
// list.
func (m *Monitor) ApplyPurgatoryList(ctx context.Context) error {
	ctx, span := monitorTracer.Start(ctx, "Monitor.ApplyPurgatoryList")
	defer span.End()

	if m.purgatory == nil {
		return nil
	}

	list, err := m.purgatory.Fetch(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}

	for did, reason := range list {
		rec, err := m.store.Get(ctx, did)
		if err != nil {
			continue
		}
		if rec.IsInPurgatory {
			continue
		}
		// Retire holds the per-DID mutex, so the flag cannot be
		// reverted by a reconciliation racing this sweep.
		if err := m.updater.Retire(ctx, rec, reason); err != nil {
			span.RecordError(err)
			continue
		}

		if m.signals != nil {
			_ = m.signals.Publish(ctx, aquarius.Signal{
				Type: domain.SignalRetired,
				DID:  did,
				At:   time.Now().UTC(),
			})
		}
	}

	return nil
}

func (m *Monitor) cursor(ctx context.Context) uint64 {
	if m.rdb == nil {
		return m.startBlock
	}
	val, err := m.rdb.Get(ctx, cursorKey).Result()
	if err != nil {
		return m.startBlock
	}
	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil || n < m.startBlock {
		return m.startBlock
	}
	return n
}

func (m *Monitor) setCursor(ctx context.Context, block uint64) {
	if m.rdb == nil {
		return
	}
	if err := m.rdb.Set(ctx, cursorKey, strconv.FormatUint(block, 10), 0).Err(); err != nil {
		slog.WarnContext(
			ctx, "Cursor persist failed",
			slog.String("error", err.Error()),
			slog.String("module", "monitor"),
		)
	}
}
