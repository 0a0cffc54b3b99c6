package gateway

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"docgate/internal/cache"
	"docgate/internal/normalize"
	"docgate/internal/origin"
	"docgate/internal/search"
	"docgate/internal/store"
)

// LoadResult is what the engine receives for an opened document.
type LoadResult struct {
	State  []byte
	Source Source
	Title  string
}

// Load returns the state the engine should start name from. Every failure
// to find or read the document degrades to a fresh document, so the only
// errors are ErrEmptyName, ErrNotReady and the caller's own context error.
//
// Concurrent loads of one name share a single resolution. It runs detached
// from the first caller's cancellation and is bounded by the origin timeout.
func (s *Service) Load(ctx context.Context, name string, caller map[string]string) (LoadResult, error) {
	if name == "" {
		return LoadResult{}, ErrEmptyName
	}
	if !s.Ready() {
		return LoadResult{}, ErrNotReady
	}

	start := time.Now()
	ch := s.loads.DoChan(name, func() (interface{}, error) {
		resolveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.resolveTimeout)
		defer cancel()
		return s.resolve(resolveCtx, name, caller), nil
	})

	select {
	case <-ctx.Done():
		return LoadResult{}, ctx.Err()
	case res := <-ch:
		result := res.Val.(LoadResult)
		result.State = bytes.Clone(result.State)
		s.metrics.LoadDuration.Observe(time.Since(start).Seconds())
		s.metrics.Loads.WithLabelValues(string(result.Source)).Inc()
		return result, nil
	}
}

func (s *Service) resolve(ctx context.Context, name string, caller map[string]string) LoadResult {
	state, err := s.cache.Load(ctx, name)
	switch {
	case err == nil:
		state = s.foldParked(ctx, name, state)
		return LoadResult{State: state, Source: SourceCache, Title: s.titleOf(state)}
	case errors.Is(err, cache.ErrNotFound):
	default:
		s.logger.Warn("cache read failed, treating as miss", zap.String("document", name), zap.Error(err))
	}

	result := s.fromOrigin(ctx, name, caller)
	if item, ok := s.parked(ctx, name); ok {
		if merged, err := s.merge(name, result.State, true, item.State); err == nil {
			result.State = merged
			result.Title = s.titleOf(merged)
		} else {
			s.logger.Warn("parked snapshot unreadable, ignoring it", zap.String("document", name), zap.Error(err))
		}
	}
	s.writeBack(ctx, name, result.State)
	s.index(name, result.State, result.Source)
	return result
}

// parked returns the outbox entry for name, if any. Outbox errors are logged
// and treated as no entry.
func (s *Service) parked(ctx context.Context, name string) (store.PendingFlush, bool) {
	if s.outbox == nil {
		return store.PendingFlush{}, false
	}
	item, found, err := s.outbox.PendingFlush(ctx, name)
	if err != nil {
		s.logger.Warn("outbox read failed", zap.String("document", name), zap.Error(err))
		return store.PendingFlush{}, false
	}
	return item, found
}

// foldParked merges a snapshot the store hook accepted but could not cache
// into the cached state, so the engine never starts from a state older than
// one it was told is saved. The merge is written through the cache and the
// entry completed; if that fails the merged state is still returned and the
// flusher keeps the entry.
func (s *Service) foldParked(ctx context.Context, name string, cached []byte) []byte {
	item, ok := s.parked(ctx, name)
	if !ok {
		return cached
	}

	var merged []byte
	err := s.cache.Update(ctx, name, func(current []byte, found bool) ([]byte, error) {
		next, err := s.merge(name, current, found, item.State)
		if err != nil {
			return nil, err
		}
		merged = next
		return next, nil
	})
	if err == nil {
		if _, err := s.outbox.CompleteFlush(ctx, name, item.Version); err != nil {
			s.logger.Warn("complete flush after load", zap.String("document", name), zap.Error(err))
		}
		return merged
	}

	s.logger.Warn("parked snapshot not written back on load", zap.String("document", name), zap.Error(err))
	merged, err = s.merge(name, cached, true, item.State)
	if err != nil {
		return cached
	}
	return merged
}

func (s *Service) fromOrigin(ctx context.Context, name string, caller map[string]string) LoadResult {
	pageID, spaceID, err := SplitName(name)
	if err != nil {
		s.logger.Info("document name has no origin identity", zap.String("document", name), zap.Error(err))
		return s.fresh(origin.Metadata{})
	}

	doc, err := s.origin.Fetch(ctx, pageID, spaceID, caller)
	if err != nil {
		if !errors.Is(err, origin.ErrNotFound) {
			s.logger.Warn("origin fetch failed, starting fresh document", zap.String("document", name), zap.Error(err))
		}
		return s.fresh(origin.Metadata{})
	}
	meta := doc.Metadata

	switch doc.Payload.Kind {
	case origin.PayloadDraft:
		d := s.engine.NewDocument()
		if err := d.ApplyUpdate(doc.Payload.Draft); err != nil {
			s.logger.Warn("draft state rejected, starting fresh document", zap.String("document", name), zap.Error(err))
			return s.fresh(meta)
		}
		return LoadResult{
			State:  d.EncodeStateAsUpdate(),
			Source: SourceDraft,
			Title:  firstNonBlank(d.GetText(normalize.FieldTitle), meta.Title),
		}

	case origin.PayloadPublished:
		update, err := s.normalizer.Normalize(ctx, doc.Payload.Published)
		if err != nil {
			s.logger.Warn("published page could not be normalized, starting fresh document", zap.String("document", name), zap.Error(err))
			return s.fresh(meta)
		}
		d := s.engine.NewDocument()
		if err := d.ApplyUpdate(update); err != nil {
			s.logger.Warn("normalized state rejected, starting fresh document", zap.String("document", name), zap.Error(err))
			return s.fresh(meta)
		}
		if strings.TrimSpace(d.GetText(normalize.FieldTitle)) == "" && meta.Title != "" {
			d.SetText(normalize.FieldTitle, meta.Title)
		}
		return LoadResult{
			State:  d.EncodeStateAsUpdate(),
			Source: SourcePublished,
			Title:  d.GetText(normalize.FieldTitle),
		}

	default:
		return s.fresh(meta)
	}
}

// fresh builds an empty document whose identity fields are merged in from
// independent single-field documents.
func (s *Service) fresh(meta origin.Metadata) LoadResult {
	seeds := []struct{ field, value string }{
		{normalize.FieldTitle, meta.Title},
		{normalize.FieldDocID, strconv.FormatInt(meta.DocID, 10)},
		{normalize.FieldParentID, strconv.FormatInt(meta.ParentID, 10)},
	}

	d := s.engine.NewDocument()
	for _, seed := range seeds {
		sub := s.engine.NewDocument()
		sub.SetText(seed.field, seed.value)
		if err := d.ApplyUpdate(sub.EncodeStateAsUpdate()); err != nil {
			s.logger.Error("seed fresh document", zap.String("field", seed.field), zap.Error(err))
		}
	}
	return LoadResult{State: d.EncodeStateAsUpdate(), Source: SourceFresh, Title: meta.Title}
}

// writeBack stores a resolved state. The caller gets the document even when
// the write fails; the state is parked in the outbox if there is one.
func (s *Service) writeBack(ctx context.Context, name string, state []byte) {
	err := s.storeWithRetry(ctx, name, state)
	if err == nil {
		return
	}
	s.logger.Warn("write-back failed", zap.String("document", name), zap.Error(err))
	if s.outbox == nil {
		return
	}
	if _, err := s.outbox.EnqueueFlush(ctx, name, state); err != nil {
		s.logger.Error("write-back could not be parked in outbox", zap.String("document", name), zap.Error(err))
	}
}

func (s *Service) titleOf(state []byte) string {
	d := s.engine.NewDocument()
	if err := d.ApplyUpdate(state); err != nil {
		return ""
	}
	return d.GetText(normalize.FieldTitle)
}

func (s *Service) index(name string, state []byte, source Source) {
	if s.indexer == nil {
		return
	}
	d := s.engine.NewDocument()
	if err := d.ApplyUpdate(state); err != nil {
		return
	}
	pageID, spaceID, _ := SplitName(name)
	docID, _ := strconv.ParseInt(d.GetText(normalize.FieldDocID), 10, 64)
	parentID, _ := strconv.ParseInt(d.GetText(normalize.FieldParentID), 10, 64)
	s.indexer.IndexDocument(search.DocumentRecord{
		ID:           search.RecordID(name),
		DocumentName: name,
		Title:        d.GetText(normalize.FieldTitle),
		DocID:        docID,
		ParentID:     parentID,
		PageID:       pageID,
		SpaceID:      spaceID,
		Source:       string(source),
		UpdatedAt:    s.now().Unix(),
	})
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
