// Package registry assigns each source document a stable numeric identity
// within a dated partition and tracks the document's lifecycle through to
// a terminal status. Identities are allocated under a cross-process file
// lock and persisted before they are handed out, so no two documents ever
// share an identity even when the process crashes between allocation and
// completion.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"
)

// ErrUnknownIdentity is returned by Advance and Get for an identity the
// partition has no record of.
var ErrUnknownIdentity = errors.New("registry: unknown identity")

// ErrEmptyLocator is returned by Allocate when the locator normalizes to
// an empty string.
var ErrEmptyLocator = errors.New("registry: empty locator")

// Allocation is the outcome of presenting a locator to a partition.
type Allocation struct {
	Identity int
	Status   Status

	// Fresh means the identity was newly assigned in this call.
	Fresh bool

	// Skip means the caller should not process the document: its record
	// is already terminal, or it was just marked duplicate.
	Skip bool

	// RetryCount carries the attempt count for retrying records.
	RetryCount int

	// DuplicateOf points at the completed record in another partition
	// when Status is duplicate.
	DuplicateOf *Location
}

// Registry manages identity allocation and lifecycle for one partition.
type Registry struct {
	store     Store
	partition string
	global    *GlobalIndex
	lock      *allocLock
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger; defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New builds a registry for one partition. lockDir hosts the allocation
// lock file shared by all partitions of the same data root.
func New(store Store, partition, lockDir string, global *GlobalIndex, opts ...Option) *Registry {
	r := &Registry{
		store:     store,
		partition: partition,
		global:    global,
		lock:      newAllocLock(filepath.Join(lockDir, ".registry.lock")),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Partition returns the partition this registry manages.
func (r *Registry) Partition() string { return r.partition }

// Allocate presents a locator to the partition and returns its identity
// and what the caller should do with it. The record is durable before
// Allocate returns.
//
// A locator already known to the partition keeps its identity forever:
// terminal records are returned as-is with Skip set; failed or in-flight
// records are first checked against every other partition, becoming a
// duplicate if one completed the same locator, otherwise moving to
// retrying with an incremented attempt count. An unknown locator is also
// checked globally: one completed elsewhere is reported as duplicate
// without burning a fresh identity. Otherwise it gets the next identity
// above both the partition's own maximum and the global maximum, starting
// as processing.
func (r *Registry) Allocate(ctx context.Context, locator string) (*Allocation, error) {
	norm := NormalizeLocator(locator)
	if norm == "" {
		return nil, ErrEmptyLocator
	}

	if err := r.lock.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.lock.release()

	var alloc *Allocation
	err := r.store.Update(r.partition, func(records map[int]*Record) error {
		identity, rec := findByLocator(records, norm)
		if rec != nil {
			a, err := r.reuse(identity, rec, norm)
			if err != nil {
				return err
			}
			alloc = a
			return nil
		}

		// Never hand out a fresh identity for a locator some other
		// partition already completed.
		loc, err := r.global.CompletedElsewhere(norm, r.partition)
		if err != nil {
			return err
		}
		if loc != nil {
			r.logger.Info("registry: locator completed elsewhere, skipping",
				"partition", r.partition, "url", norm, "of", loc.String())
			alloc = &Allocation{
				Identity:    loc.Identity,
				Status:      StatusDuplicate,
				Skip:        true,
				DuplicateOf: loc,
			}
			return nil
		}

		globalMax, err := r.global.MaxIdentity()
		if err != nil {
			return err
		}
		next := maxIdentity(records, globalMax) + 1
		records[next] = NewRecord(norm, r.now())
		alloc = &Allocation{Identity: next, Status: StatusProcessing, Fresh: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if alloc.Fresh {
		r.global.Observe(alloc.Identity)
		r.logger.Info("registry: identity allocated",
			"partition", r.partition, "identity", FormatIdentity(alloc.Identity), "url", norm)
	}
	return alloc, nil
}

// reuse decides what happens to a locator the partition already knows.
// Called inside the store update; mutating rec mutates the registry.
func (r *Registry) reuse(identity int, rec *Record, norm string) (*Allocation, error) {
	if rec.Status.Terminal() {
		r.logger.Debug("registry: locator already terminal",
			"partition", r.partition, "identity", FormatIdentity(identity), "status", rec.Status)
		return &Allocation{
			Identity:    identity,
			Status:      rec.Status,
			Skip:        true,
			DuplicateOf: rec.DuplicateOf,
		}, nil
	}

	// Failed or in-flight here; another partition may have finished the
	// same document since.
	loc, err := r.global.CompletedElsewhere(norm, r.partition)
	if err != nil {
		return nil, err
	}
	if loc != nil {
		rec.MarkDuplicate(*loc, r.now())
		r.logger.Info("registry: locator completed elsewhere, marking duplicate",
			"partition", r.partition, "identity", FormatIdentity(identity), "of", loc.String())
		return &Allocation{
			Identity:    identity,
			Status:      StatusDuplicate,
			Skip:        true,
			DuplicateOf: rec.DuplicateOf,
		}, nil
	}

	rec.MarkRetrying()
	r.logger.Info("registry: locator retrying",
		"partition", r.partition, "identity", FormatIdentity(identity), "attempt", rec.RetryCount)
	return &Allocation{
		Identity:   identity,
		Status:     StatusRetrying,
		RetryCount: rec.RetryCount,
	}, nil
}

// Transition describes an Advance target. Error is only meaningful for
// failed, DuplicateOf only for duplicate.
type Transition struct {
	To          Status
	Error       string
	DuplicateOf *Location
}

// Failed builds a transition to failed with its cause.
func Failed(cause error) Transition {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return Transition{To: StatusFailed, Error: msg}
}

// Completed builds a transition to completed.
func Completed() Transition { return Transition{To: StatusCompleted} }

// Skipped builds a transition to skipped.
func Skipped() Transition { return Transition{To: StatusSkipped} }

// Duplicate builds a transition to duplicate of a record elsewhere.
func Duplicate(of Location) Transition {
	return Transition{To: StatusDuplicate, DuplicateOf: &of}
}

// Advance moves an identity to a new lifecycle status and persists the
// change. Advancing a record that is already at the target status is a
// no-op, so a retried document that crashed after its last persist does
// not churn the registry.
func (r *Registry) Advance(ctx context.Context, identity int, tr Transition) error {
	if err := validateTransition(tr); err != nil {
		return err
	}
	if err := r.lock.acquire(ctx); err != nil {
		return err
	}
	defer r.lock.release()

	return r.store.Update(r.partition, func(records map[int]*Record) error {
		rec, ok := records[identity]
		if !ok {
			return fmt.Errorf("%w: %s in %s", ErrUnknownIdentity, FormatIdentity(identity), r.partition)
		}
		if rec.Status == tr.To {
			return nil
		}

		switch tr.To {
		case StatusCompleted:
			rec.MarkCompleted(r.now())
		case StatusFailed:
			rec.MarkFailed(tr.Error, r.now())
		case StatusSkipped:
			rec.MarkSkipped(r.now())
		case StatusDuplicate:
			rec.MarkDuplicate(*tr.DuplicateOf, r.now())
		}
		r.logger.Info("registry: status advanced",
			"partition", r.partition, "identity", FormatIdentity(identity), "status", tr.To)
		return nil
	})
}

// Get returns the record for an identity.
func (r *Registry) Get(identity int) (*Record, error) {
	records, err := r.store.Load(r.partition)
	if err != nil {
		return nil, err
	}
	rec, ok := records[identity]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrUnknownIdentity, FormatIdentity(identity), r.partition)
	}
	return rec, nil
}

// Snapshot returns a copy of the partition's full registry.
func (r *Registry) Snapshot() (map[int]*Record, error) {
	records, err := r.store.Load(r.partition)
	if err != nil {
		return nil, err
	}
	out := make(map[int]*Record, len(records))
	for identity, rec := range records {
		c := *rec
		out[identity] = &c
	}
	return out, nil
}

func validateTransition(tr Transition) error {
	switch tr.To {
	case StatusCompleted, StatusFailed, StatusSkipped:
		if tr.DuplicateOf != nil {
			return fmt.Errorf("registry: %s transition carries duplicate location", tr.To)
		}
	case StatusDuplicate:
		if tr.DuplicateOf == nil {
			return errors.New("registry: duplicate transition needs a location")
		}
	default:
		return fmt.Errorf("registry: cannot advance to %q", tr.To)
	}
	return nil
}

func findByLocator(records map[int]*Record, norm string) (int, *Record) {
	for identity, rec := range records {
		if NormalizeLocator(rec.SourceLocator) == norm {
			return identity, rec
		}
	}
	return 0, nil
}

func maxIdentity(records map[int]*Record, floor int) int {
	max := floor
	for identity := range records {
		if identity > max {
			max = identity
		}
	}
	return max
}
