package redisstore

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"time"

	"event-voucher/internal/domain/event"
	"event-voucher/internal/domain/voucher"
	"event-voucher/internal/infra"
	"event-voucher/internal/pkg/clock"
	"event-voucher/internal/pkg/errs"
	"event-voucher/internal/usecase/shared"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const defaultCASRetries = 16

var errEventMissing = errs.New("event hash missing")

// Store is the compare-and-swap AtomicResourceStore. Lease writes are
// WATCH/MULTI transactions re-run on conflict; the ledger is guarded by a
// conditional decrement script, and partial claims are undone by compensation.
type Store struct {
	client     *redis.Client
	keys       keys
	jobs       *Queue
	clock      clock.Clock
	logger     *slog.Logger
	casRetries int
}

var _ shared.AtomicResourceStore = (*Store)(nil)

func NewStore(client *redis.Client, prefix string, clk clock.Clock, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client:     client,
		keys:       newKeys(prefix),
		jobs:       NewQueue(client, prefix, logger),
		clock:      clk,
		logger:     logger,
		casRetries: defaultCASRetries,
	}
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (s *Store) CreateEvent(ctx context.Context, ev *event.Event) error {
	created, err := createEventScript.Run(ctx, s.client, []string{s.keys.event(ev.ID())}, encodeEvent(ev)...).Int()
	if err != nil {
		return infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to store event", err)
	}
	if created == 0 {
		return infra.WrapRepoErr(s.logger, infra.KindDuplicateKey, "event already exists", nil)
	}
	return nil
}

func (s *Store) FindEvent(ctx context.Context, id uuid.UUID) (*event.Event, error) {
	ev, err := s.readEvent(ctx, s.client, id)
	if err != nil {
		return nil, s.eventReadErr(err)
	}
	return ev, nil
}

func (s *Store) UpdateEvent(ctx context.Context, id uuid.UUID, mutate shared.EventMutation, opts ...shared.UpdateOption) (*event.Event, error) {
	o := shared.ApplyUpdateOptions(opts)
	eventKey := s.keys.event(id)

	var out *event.Event
	txf := func(tx *redis.Tx) error {
		ev, err := s.readEvent(ctx, tx, id)
		if err != nil {
			return s.eventReadErr(err)
		}
		before := ev.Clone()

		if err := mutate(ev); err != nil {
			if errs.Is(err, shared.ErrSkipWrite) {
				out = before
				return nil
			}
			return err
		}
		ev.Touch(s.clock.Now())

		var index []func(redis.Pipeliner)
		if o.SyncLeaseRecord {
			index, err = s.planLeaseIndex(ctx, tx, ev, o)
			if err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, eventKey,
				"editing_by", formatUUIDPtr(ev.EditingBy()),
				"last_edited_at", formatMicrosPtr(ev.LastEditedAt()),
				"version", ev.Version(),
				"updated_at", formatMicros(ev.UpdatedAt()),
			)
			if snap, held := ev.Snapshot(); held {
				pipe.ZAdd(ctx, s.keys.activeLeases(), redis.Z{Score: float64(snap.LastEditedAt.UnixMicro()), Member: id.String()})
			} else {
				pipe.ZRem(ctx, s.keys.activeLeases(), id.String())
			}
			for _, op := range index {
				op(pipe)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = ev
		return nil
	}

	for attempt := 0; attempt < s.casRetries; attempt++ {
		err := s.client.Watch(ctx, txf, eventKey, s.keys.leaseByEvent(id))
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			if isRedisFailure(err) {
				return nil, infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to update event", err)
			}
			return nil, err
		}
		s.logger.Debug("event changed during update, retrying", "event_id", id, "attempt", attempt+1)
	}
	return nil, infra.WrapRepoErr(s.logger, infra.KindConflict, "event update lost too many races", nil)
}

// planLeaseIndex reads the lease index under WATCH and returns the writes that
// make it match ev. A holder keeps at most one live record; records refreshed
// at or before Now-LeaseTTL are dropped instead of blocking.
func (s *Store) planLeaseIndex(ctx context.Context, tx *redis.Tx, ev *event.Event, o shared.UpdateOptions) ([]func(redis.Pipeliner), error) {
	id := ev.ID()
	current, err := s.readLeaseRecord(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	var ops []func(redis.Pipeliner)
	dropCurrent := func() error {
		if current == nil {
			return nil
		}
		holderKey := s.keys.leaseByHolder(current.HolderID)
		if err := tx.Watch(ctx, holderKey).Err(); err != nil {
			return err
		}
		points, err := tx.Get(ctx, holderKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		ops = append(ops, func(p redis.Pipeliner) {
			p.Del(ctx, s.keys.leaseByEvent(id))
			if points == id.String() {
				p.Del(ctx, holderKey)
			}
		})
		return nil
	}

	snap, held := ev.Snapshot()
	if !held {
		if err := dropCurrent(); err != nil {
			return nil, err
		}
		return ops, nil
	}

	holderKey := s.keys.leaseByHolder(snap.EditingBy)
	if err := tx.Watch(ctx, holderKey).Err(); err != nil {
		return nil, err
	}
	indexed, err := tx.Get(ctx, holderKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if indexed != "" && indexed != id.String() {
		otherID, err := uuid.Parse(indexed)
		if err != nil {
			return nil, err
		}
		otherKey := s.keys.leaseByEvent(otherID)
		if err := tx.Watch(ctx, otherKey).Err(); err != nil {
			return nil, err
		}
		other, err := s.readLeaseRecord(ctx, tx, otherID)
		if err != nil {
			return nil, err
		}
		if other != nil && other.HolderID == snap.EditingBy {
			if other.RefreshedAt.After(o.Now.Add(-o.LeaseTTL)) {
				return nil, errs.Mark(infra.WrapRepoErr(s.logger, infra.KindDuplicateKey, "holder already indexed", nil), shared.ErrHolderIndexed)
			}
			ops = append(ops, func(p redis.Pipeliner) { p.Del(ctx, otherKey) })
		}
	}

	if current != nil && current.HolderID != snap.EditingBy {
		if err := dropCurrent(); err != nil {
			return nil, err
		}
	}
	ops = append(ops, func(p redis.Pipeliner) {
		p.HSet(ctx, s.keys.leaseByEvent(id), "holder", snap.EditingBy.String(), "refreshed_at", formatMicros(snap.LastEditedAt))
		p.Set(ctx, holderKey, id.String(), 0)
	})
	return ops, nil
}

func (s *Store) ListStaleLeases(ctx context.Context, cutoff time.Time, limit int) ([]event.LeaseSnapshot, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.keys.activeLeases(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(cutoff.UnixMicro(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to list stale leases", err)
	}

	out := make([]event.LeaseSnapshot, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.logger.Warn("skipping malformed lease member", "member", raw)
			continue
		}
		ev, err := s.readEvent(ctx, s.client, id)
		if err != nil {
			if errs.Is(err, errEventMissing) {
				continue
			}
			return nil, infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to read leased event", err)
		}
		snap, held := ev.Snapshot()
		if !held || snap.LastEditedAt.After(cutoff) {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// ClaimVoucher debits first, then writes the voucher and, for gated claims,
// the job. Any failure after the debit credits the unit back.
func (s *Store) ClaimVoucher(ctx context.Context, req shared.ClaimRequest) (*shared.ClaimResult, error) {
	eventKey := s.keys.event(req.EventID)
	remaining, err := takeUnitScript.Run(ctx, s.client, []string{eventKey}, formatMicros(req.Now)).Int()
	if err != nil {
		return nil, infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to debit voucher ledger", err)
	}
	switch remaining {
	case -1:
		return nil, infra.WrapRepoErr(s.logger, infra.KindNotFound, "event not found", nil)
	case -2:
		return nil, event.ErrSoldOut
	}

	current, err := s.FindEvent(ctx, req.EventID)
	if err != nil {
		s.compensate(ctx, req.EventID, nil)
		return nil, err
	}
	// report the ledger as this claim left it, not as later claims did
	ev := event.Reconstruct(current.ID(), current.Name(), current.MaxVouchers(), remaining,
		current.EditingBy(), current.LastEditedAt(), current.Version(), current.CreatedAt(), current.UpdatedAt())

	v, err := s.insertVoucher(ctx, ev, req.Mint)
	if err != nil {
		s.compensate(ctx, req.EventID, nil)
		return nil, err
	}
	result := &shared.ClaimResult{Event: ev, Voucher: v}
	if req.Job == nil {
		return result, nil
	}

	job, err := req.Job(ev, v)
	if err != nil {
		s.compensate(ctx, req.EventID, v)
		return nil, errs.Mark(err, shared.ErrJobRejected)
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		s.compensate(ctx, req.EventID, v)
		return nil, errs.Mark(err, shared.ErrJobRejected)
	}
	result.Job = job
	return result, nil
}

func (s *Store) FindVoucher(ctx context.Context, code string) (*voucher.Voucher, error) {
	m, err := s.client.HGetAll(ctx, s.keys.voucher(code)).Result()
	if err != nil {
		return nil, infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to load voucher", err)
	}
	if len(m) == 0 {
		return nil, infra.WrapRepoErr(s.logger, infra.KindNotFound, "voucher not found", nil)
	}
	v, err := decodeVoucher(m)
	if err != nil {
		return nil, infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to decode voucher", err)
	}
	return v, nil
}

func (s *Store) CountVouchers(ctx context.Context, eventID uuid.UUID) (int, error) {
	n, err := s.client.SCard(ctx, s.keys.eventVouchers(eventID)).Result()
	if err != nil {
		return 0, infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to count vouchers", err)
	}
	return int(n), nil
}

func (s *Store) FindLeaseRecord(ctx context.Context, eventID uuid.UUID) (*shared.LeaseRecord, error) {
	rec, err := s.readLeaseRecord(ctx, s.client, eventID)
	if err != nil {
		return nil, infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to load lease record", err)
	}
	return rec, nil
}

func (s *Store) readEvent(ctx context.Context, r hashReader, id uuid.UUID) (*event.Event, error) {
	m, err := r.HGetAll(ctx, s.keys.event(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, errEventMissing
	}
	return decodeEvent(m)
}

func (s *Store) readLeaseRecord(ctx context.Context, r hashReader, eventID uuid.UUID) (*shared.LeaseRecord, error) {
	m, err := r.HGetAll(ctx, s.keys.leaseByEvent(eventID)).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	holder, err := uuid.Parse(m["holder"])
	if err != nil {
		return nil, err
	}
	refreshed, err := parseMicros(m["refreshed_at"])
	if err != nil {
		return nil, err
	}
	return &shared.LeaseRecord{EventID: eventID, HolderID: holder, RefreshedAt: refreshed}, nil
}

func (s *Store) eventReadErr(err error) error {
	if errs.Is(err, errEventMissing) {
		return infra.WrapRepoErr(s.logger, infra.KindNotFound, "event not found", err)
	}
	return infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to load event", err)
}

func (s *Store) insertVoucher(ctx context.Context, ev *event.Event, mint func(*event.Event) (*voucher.Voucher, error)) (*voucher.Voucher, error) {
	for attempt := 0; attempt < shared.MaxCodeAttempts; attempt++ {
		v, err := mint(ev)
		if err != nil {
			return nil, err
		}
		inserted, err := insertVoucherScript.Run(ctx, s.client,
			[]string{s.keys.voucher(v.Code()), s.keys.eventVouchers(v.EventID())},
			v.ID().String(), v.Code(), v.EventID().String(), v.Recipient(), formatMicros(v.IssuedAt()),
		).Int()
		if err != nil {
			return nil, infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to insert voucher", err)
		}
		if inserted == 1 {
			return v, nil
		}
		s.logger.Warn("voucher code collision, minting again", "event_id", ev.ID(), "attempt", attempt+1)
	}
	return nil, shared.ErrCodeSpaceExhausted
}

// compensate undoes a partially applied claim. It runs even if ctx is cancelled.
func (s *Store) compensate(ctx context.Context, eventID uuid.UUID, v *voucher.Voucher) {
	ctx = context.WithoutCancel(ctx)
	if v != nil {
		err := removeVoucherScript.Run(ctx, s.client,
			[]string{s.keys.voucher(v.Code()), s.keys.eventVouchers(eventID)}, v.Code()).Err()
		if err != nil {
			s.logger.Error("failed to remove voucher of an aborted claim", "event_id", eventID, "code", v.Code(), "error", err.Error())
		}
	}
	n, err := returnUnitScript.Run(ctx, s.client, []string{s.keys.event(eventID)}, formatMicros(s.clock.Now())).Int()
	if err != nil || n < 0 {
		s.logger.Error("failed to credit back voucher unit", "event_id", eventID, "result", n, "error", errString(err))
	}
}

func isRedisFailure(err error) bool {
	var repoErr infra.RepositoryError
	if errors.As(err, &repoErr) {
		return false
	}
	var (
		redisErr redis.Error
		netErr   net.Error
	)
	return errors.As(err, &redisErr) || errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func encodeEvent(ev *event.Event) []any {
	return []any{
		"id", ev.ID().String(),
		"name", ev.Name(),
		"max", ev.MaxVouchers(),
		"issued", ev.IssuedVouchers(),
		"editing_by", formatUUIDPtr(ev.EditingBy()),
		"last_edited_at", formatMicrosPtr(ev.LastEditedAt()),
		"version", ev.Version(),
		"created_at", formatMicros(ev.CreatedAt()),
		"updated_at", formatMicros(ev.UpdatedAt()),
	}
}

func decodeEvent(m map[string]string) (*event.Event, error) {
	id, err := uuid.Parse(m["id"])
	if err != nil {
		return nil, err
	}
	maxVouchers, err := strconv.Atoi(m["max"])
	if err != nil {
		return nil, err
	}
	issued, err := strconv.Atoi(m["issued"])
	if err != nil {
		return nil, err
	}
	editingBy, err := parseUUIDPtr(m["editing_by"])
	if err != nil {
		return nil, err
	}
	lastEditedAt, err := parseMicrosPtr(m["last_edited_at"])
	if err != nil {
		return nil, err
	}
	version, err := strconv.ParseInt(m["version"], 10, 64)
	if err != nil {
		return nil, err
	}
	createdAt, err := parseMicros(m["created_at"])
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseMicros(m["updated_at"])
	if err != nil {
		return nil, err
	}
	return event.Reconstruct(id, m["name"], maxVouchers, issued, editingBy, lastEditedAt, version, createdAt, updatedAt), nil
}

func decodeVoucher(m map[string]string) (*voucher.Voucher, error) {
	id, err := uuid.Parse(m["id"])
	if err != nil {
		return nil, err
	}
	eventID, err := uuid.Parse(m["event_id"])
	if err != nil {
		return nil, err
	}
	issuedAt, err := parseMicros(m["issued_at"])
	if err != nil {
		return nil, err
	}
	return voucher.Reconstruct(id, m["code"], eventID, m["recipient"], issuedAt), nil
}
