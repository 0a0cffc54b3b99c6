// Package gateway decides where a document's state comes from when the
// collaboration engine opens it, and where the state goes when the engine
// flushes it.
package gateway

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"docgate/internal/cache"
	"docgate/internal/crdt"
	"docgate/internal/metrics"
	"docgate/internal/origin"
	"docgate/internal/search"
	"docgate/internal/store"
)

var (
	ErrNotReady      = errors.New("gateway not ready")
	ErrEmptyName     = errors.New("document name is empty")
	ErrMalformedName = errors.New("malformed document name")
	ErrStoreFailed   = errors.New("snapshot could not be persisted")
)

// Source tells where a loaded state came from.
type Source string

const (
	SourceCache     Source = "cache"
	SourceDraft     Source = "draft"
	SourcePublished Source = "published"
	SourceFresh     Source = "fresh"
)

type Cache interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Store(ctx context.Context, name string, state []byte) error
	Update(ctx context.Context, name string, fn cache.UpdateFunc) error
	Delete(ctx context.Context, name string) error
}

type Fetcher interface {
	Fetch(ctx context.Context, pageID, spaceID string, caller map[string]string) (origin.Document, error)
}

type Normalizer interface {
	Ready() bool
	Normalize(ctx context.Context, page []byte) ([]byte, error)
}

type Outbox interface {
	EnqueueFlush(ctx context.Context, name string, state []byte) (int64, error)
	ListPendingFlushes(ctx context.Context, limit int) ([]store.PendingFlush, error)
	PendingFlush(ctx context.Context, name string) (store.PendingFlush, bool, error)
	CompleteFlush(ctx context.Context, name string, version int64) (bool, error)
	MarkFlushFailed(ctx context.Context, name string, version int64, cause error) error
	DiscardFlush(ctx context.Context, name string) error
	PendingFlushCount(ctx context.Context) (int, error)
}

type Indexer interface {
	IndexDocument(doc search.DocumentRecord)
	DeleteDocument(documentName string)
}

type Archiver interface {
	ArchiveSnapshot(ctx context.Context, documentName string, state []byte) (string, error)
}

// Options wires a Service. Outbox, Indexer and Archiver are optional.
type Options struct {
	Cache      Cache
	Origin     Fetcher
	Normalizer Normalizer
	Engine     crdt.Engine

	Outbox   Outbox
	Indexer  Indexer
	Archiver Archiver

	// OriginTimeout bounds a shared load resolution; zero means 10s.
	OriginTimeout time.Duration
	// StoreAttempts and StoreDelay configure the cache write retry; zero
	// values mean 3 attempts and 100ms.
	StoreAttempts uint
	StoreDelay    time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type Service struct {
	cache      Cache
	origin     Fetcher
	normalizer Normalizer
	engine     crdt.Engine
	outbox     Outbox
	indexer    Indexer
	archiver   Archiver

	resolveTimeout time.Duration
	storeAttempts  uint
	storeDelay     time.Duration

	loads   singleflight.Group
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(opts Options) *Service {
	s := &Service{
		cache:          opts.Cache,
		origin:         opts.Origin,
		normalizer:     opts.Normalizer,
		engine:         opts.Engine,
		outbox:         opts.Outbox,
		indexer:        opts.Indexer,
		archiver:       opts.Archiver,
		resolveTimeout: opts.OriginTimeout,
		storeAttempts:  opts.StoreAttempts,
		storeDelay:     opts.StoreDelay,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		now:            time.Now,
	}
	if s.engine == nil {
		s.engine = crdt.DefaultEngine{}
	}
	if s.resolveTimeout <= 0 {
		s.resolveTimeout = 10 * time.Second
	}
	// cache reads and the write-back get headroom on top of the origin call
	s.resolveTimeout += 5 * time.Second
	if s.storeAttempts == 0 {
		s.storeAttempts = 3
	}
	if s.storeDelay <= 0 {
		s.storeDelay = 100 * time.Millisecond
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	return s
}

// Ready reports whether loads can be served.
func (s *Service) Ready() bool {
	return s.normalizer != nil && s.normalizer.Ready()
}

// HasOutbox reports whether failed cache writes can be parked.
func (s *Service) HasOutbox() bool {
	return s.outbox != nil
}
