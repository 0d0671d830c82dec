package report

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/somnari/somnari-backend/internal/types"
)

// EntrySource exposes the live journal entries a report is built from.
// Satisfied by repos.DreamEntryRepo.
type EntrySource interface {
	CountForWeek(ctx context.Context, userID uuid.UUID, weekKey string) (int, error)
	ListByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]*types.DreamEntry, error)
}

// RecordStore is the durable per-(user, week) report store. Get returns
// (nil, nil) for an absent record. Satisfied by repos.ReportRecordRepo.
type RecordStore interface {
	Get(ctx context.Context, userID uuid.UUID, weekKey string) (*types.ReportRecord, error)
	Merge(ctx context.Context, userID uuid.UUID, weekKey string, patch map[string]any) error
}

// FieldCache is the offline-first local cache. GetRecord returns
// (nil, nil) when nothing is cached. Satisfied by clients/redis.ReportCache.
type FieldCache interface {
	GetRecord(ctx context.Context, userID uuid.UUID, weekKey string) (*types.ReportRecord, error)
	PutRecord(ctx context.Context, userID uuid.UUID, weekKey string, rec *types.ReportRecord) error
	AcquireUpgradeLease(ctx context.Context, userID uuid.UUID, weekKey string, ttl time.Duration) (bool, error)
	ReleaseUpgradeLease(ctx context.Context, userID uuid.UUID, weekKey string) error
}

// Aggregator recomputes the base report. On success it must have written
// a record with stale=false and sourceCount equal to the live entry
// count; the bounded rebuild in the reload loop relies on that.
type Aggregator interface {
	Aggregate(ctx context.Context, userID uuid.UUID, weekKey string) error
}

// Enhancer performs the paid synthesis call and returns the raw
// narrative text with the embedded metrics marker.
type Enhancer interface {
	Synthesize(ctx context.Context, userID uuid.UUID, weekKey string, entries []*types.DreamEntry) (string, error)
}

// ConsentOutcome is a terminal gate signal. Granted and Closed are not
// mutually exclusive in time: both can arrive for one session.
type ConsentOutcome string

const (
	ConsentGranted ConsentOutcome = "granted"
	ConsentClosed  ConsentOutcome = "closed"
	ConsentFailed  ConsentOutcome = "failed"
)

// ConsentGate opens the external consent flow for a session. Resolution
// arrives out-of-band via Instance.ResolveConsent.
type ConsentGate interface {
	Show(ctx context.Context, userID uuid.UUID, sessionID uuid.UUID, weekKey string) error
}

type Deps struct {
	Entries EntrySource
	Store   RecordStore
	Cache   FieldCache
	Agg     Aggregator
	Enhance Enhancer
	Gate    ConsentGate
}

type Options struct {
	MinEntries       int
	DebounceWindow   time.Duration
	EmptyPromptDelay time.Duration
	UpgradeLeaseTTL  time.Duration
	WatchdogTimeout  time.Duration
}

func DefaultOptions() Options {
	return Options{
		MinEntries:       2,
		DebounceWindow:   300 * time.Millisecond,
		EmptyPromptDelay: 2 * time.Second,
		UpgradeLeaseTTL:  3 * time.Second,
		WatchdogTimeout:  30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MinEntries <= 0 {
		o.MinEntries = d.MinEntries
	}
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.EmptyPromptDelay <= 0 {
		o.EmptyPromptDelay = d.EmptyPromptDelay
	}
	if o.UpgradeLeaseTTL <= 0 {
		o.UpgradeLeaseTTL = d.UpgradeLeaseTTL
	}
	if o.WatchdogTimeout <= 0 {
		o.WatchdogTimeout = d.WatchdogTimeout
	}
	return o
}
