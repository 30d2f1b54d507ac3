package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/oceanprotocol/aquarius"
	"github.com/oceanprotocol/aquarius/internal/domain"
	"github.com/oceanprotocol/aquarius/internal/utils"
)

var tracer = otel.Tracer("updater")

const (
	purgatoryReasonRetired  = "retired on-chain"
	purgatoryReasonDelisted = "delisted by admin"
)

// MetadataUpdater reconciles stored records against on-chain truth.
// Safe to invoke concurrently for different DIDs; invocations for the
// same DID are serialized through the per-DID mutex arena.
type MetadataUpdater struct {
	store   RecordStore
	chain   ChainEventSource
	signals SignalPublisher
	locks   *utils.KeyMutex

	writeRetries int
	retryDelay   time.Duration
}

func NewMetadataUpdater(store RecordStore, chain ChainEventSource, signals SignalPublisher) *MetadataUpdater {
	return &MetadataUpdater{
		store:        store,
		chain:        chain,
		signals:      signals,
		locks:        utils.NewKeyMutex(),
		writeRetries: 3,
		retryDelay:   200 * time.Millisecond,
	}
}

// SingleUpdate reconciles one record against the latest chain events.
//
// With no events newer than the stored marker this is a no-op. A
// retirement event moves the record to purgatory in the main index and
// removes the plus entry. A metadata update overwrites the record's
// mutable fields, preserving id and creation time, and recomputes the
// plus entry when pricing-relevant fields changed. The last-processed
// marker advances in the same main-index write as the content.
//
// forceRetire applies the purgatory flag even when the chain shows no
// retirement event; the DELETE route uses it for delisting.
//
// The main and plus indices have no shared transaction: the main write
// carries a dirty flag that stays set until the plus write lands, and
// a later call finding the flag repairs the plus index before applying
// anything new.
func (u *MetadataUpdater) SingleUpdate(ctx context.Context, rec *aquarius.Record, forceRetire bool) error {
	reason := ""
	if forceRetire {
		reason = purgatoryReasonDelisted
	}
	return u.reconcile(ctx, rec, reason)
}

// Retire reconciles and then forces the record into purgatory with the
// given reason. Used by the purgatory-list sweep so flag application
// goes through the same per-DID serialization as every other write.
func (u *MetadataUpdater) Retire(ctx context.Context, rec *aquarius.Record, reason string) error {
	if reason == "" {
		reason = purgatoryReasonDelisted
	}
	return u.reconcile(ctx, rec, reason)
}

func (u *MetadataUpdater) reconcile(ctx context.Context, rec *aquarius.Record, retireReason string) error {
	ctx, span := tracer.Start(ctx, "Updater.Reconcile")
	defer span.End()

	if rec == nil || rec.ID == "" {
		return domain.InvalidRecordError{Reason: "missing id"}
	}

	token, err := rec.TokenAddress()
	if err != nil {
		span.RecordError(err)
		return domain.InvalidRecordError{DID: rec.ID, Reason: err.Error()}
	}

	u.locks.Lock(rec.ID)
	defer u.locks.Unlock(rec.ID)

	// Re-read under the lock: the caller's copy may be stale.
	current, err := u.store.Get(ctx, rec.ID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if current.Dirty {
		if err := u.repairPlus(ctx, current); err != nil {
			span.RecordError(errors.Wrap(err, "plus index repair failed"))
			return err
		}
		current.Dirty = false
		if u.signals != nil {
			_ = u.signals.Publish(ctx, aquarius.Signal{
				Type: domain.SignalRepaired,
				DID:  current.ID,
				At:   time.Now().UTC(),
			})
		}
	}

	events, err := u.chain.EventsSince(ctx, token, current.Event)
	if err != nil {
		span.RecordError(err)
		return err
	}

	oldPrice, oldSupply := pricingFields(current)

	changed := false
	for i := range events {
		if u.apply(current, &events[i]) {
			changed = true
		}
	}

	if retireReason != "" && !current.IsInPurgatory {
		current.IsInPurgatory = true
		current.PurgatoryReason = retireReason
		changed = true
	}

	if !changed {
		return nil
	}

	newPrice, newSupply := pricingFields(current)
	plusStale := current.IsInPurgatory || oldPrice != newPrice || oldSupply != newSupply

	// Abort cleanly while no writes have been issued.
	if err := ctx.Err(); err != nil {
		return err
	}

	// Once issued, the main write runs to completion even if the
	// request goes away, so the marker never lags a half-applied state.
	writeCtx := context.WithoutCancel(ctx)

	current.Dirty = plusStale
	if err := u.withRetry(writeCtx, func() error {
		return u.store.PutMain(writeCtx, current)
	}); err != nil {
		span.RecordError(errors.Wrap(err, "main index write failed"))
		return err
	}

	if !plusStale {
		return nil
	}

	if err := u.syncPlus(writeCtx, current); err != nil {
		// Recorded via the dirty flag already persisted with the main
		// write; the next reconciliation repairs it.
		span.RecordError(errors.Wrap(err, "plus index write failed, repair pending"))
		return nil
	}

	if err := u.withRetry(writeCtx, func() error {
		return u.store.SetDirty(writeCtx, current.ID, false)
	}); err != nil {
		// Worst case the next call re-runs an idempotent repair.
		span.RecordError(errors.Wrap(err, "clearing dirty flag failed"))
	}

	return nil
}

// apply folds one event into the working copy. Returns whether the
// record changed. The marker only ever advances.
func (u *MetadataUpdater) apply(rec *aquarius.Record, ev *aquarius.MetadataEvent) bool {
	if !ev.Point.After(rec.Event) {
		return false
	}

	switch ev.Type {
	case aquarius.EventMetadataRetired:
		rec.IsInPurgatory = true
		rec.PurgatoryReason = purgatoryReasonRetired

	case aquarius.EventMetadataCreated, aquarius.EventMetadataUpdated:
		attrs, err := decodePayload(ev.Payload)
		if err != nil {
			// A malformed payload still advances the marker, otherwise
			// reconciliation would retry it forever.
			rec.Event = ev.Point
			return true
		}
		meta := aquarius.MetadataService(rec.Service)
		if meta == nil {
			rec.Service = append(rec.Service, aquarius.Service{
				Type:       aquarius.ServiceTypeMetadata,
				Index:      len(rec.Service),
				Attributes: *attrs,
			})
		} else {
			meta.Attributes = *attrs
		}
		rec.Updated = time.Now().UTC()

	default:
		return false
	}

	rec.Event = ev.Point
	return true
}

// repairPlus re-derives the plus entry from the stored main record and
// clears the dirty flag. Idempotent.
func (u *MetadataUpdater) repairPlus(ctx context.Context, rec *aquarius.Record) error {
	if err := u.syncPlus(ctx, rec); err != nil {
		return err
	}
	return u.withRetry(ctx, func() error {
		return u.store.SetDirty(ctx, rec.ID, false)
	})
}

// syncPlus brings the plus index in line with the main record: removed
// for purgatory records, recomputed derived fields otherwise. A missing
// plus entry is not an error.
func (u *MetadataUpdater) syncPlus(ctx context.Context, rec *aquarius.Record) error {
	if rec.IsInPurgatory {
		return u.withRetry(ctx, func() error {
			return u.store.DeletePlus(ctx, rec.ID)
		})
	}

	price, supply := pricingFields(rec)
	plus := &aquarius.PlusRecord{
		DID:           rec.ID,
		PricePerToken: price,
		TotalSupply:   supply,
		IsInPurgatory: false,
		UpdatedBlock:  rec.Event.Block,
	}
	return u.withRetry(ctx, func() error {
		return u.store.PutPlus(ctx, plus)
	})
}

func (u *MetadataUpdater) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delay := u.retryDelay
	for attempt := 0; attempt < u.writeRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrTransientUnavailable) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func pricingFields(rec *aquarius.Record) (price string, supply string) {
	meta := aquarius.MetadataService(rec.Service)
	if meta == nil {
		return "", ""
	}
	return meta.Attributes.Price, meta.Attributes.Supply
}

func decodePayload(payload []byte) (*aquarius.ServiceAttributes, error) {
	var attrs aquarius.ServiceAttributes
	if err := json.Unmarshal(payload, &attrs); err != nil {
		return nil, errors.Wrap(err, "undecodable metadata payload")
	}
	return &attrs, nil
}
