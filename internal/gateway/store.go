package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"docgate/internal/cache"
	"docgate/internal/crdt"
	"docgate/internal/normalize"
	"docgate/internal/prosemirror"
)

// Store persists a snapshot flushed by the engine. The cache write is retried;
// if it still fails the snapshot goes to the outbox. Without an outbox the
// failure is returned so the engine keeps the snapshot and flushes again.
func (s *Service) Store(ctx context.Context, name string, state []byte) error {
	if name == "" {
		return ErrEmptyName
	}

	err := s.storeWithRetry(ctx, name, state)
	if err == nil {
		s.metrics.Stores.WithLabelValues("ok").Inc()
		s.index(name, state, "engine")
		return nil
	}

	if s.outbox == nil {
		s.metrics.Stores.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	version, qerr := s.outbox.EnqueueFlush(ctx, name, state)
	if qerr != nil {
		s.metrics.Stores.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %w", ErrStoreFailed, errors.Join(err, qerr))
	}

	s.metrics.Stores.WithLabelValues("outbox").Inc()
	s.logger.Warn("cache write failed, snapshot parked in outbox",
		zap.String("document", name),
		zap.Int64("version", version),
		zap.Error(err),
	)
	return nil
}

func (s *Service) storeWithRetry(ctx context.Context, name string, state []byte) error {
	return retry.Do(
		func() error {
			return s.cache.Store(ctx, name, state)
		},
		retry.Context(ctx),
		retry.Attempts(s.storeAttempts),
		retry.Delay(s.storeDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Debug("retrying cache write", zap.String("document", name), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
}

// Delete removes a document from the gateway. When an archiver is configured
// the cached snapshot is archived first, and the delete is refused if that fails.
func (s *Service) Delete(ctx context.Context, name string) error {
	if name == "" {
		return ErrEmptyName
	}

	if s.archiver != nil {
		state, err := s.cache.Load(ctx, name)
		switch {
		case err == nil:
			key, err := s.archiver.ArchiveSnapshot(ctx, name, state)
			if err != nil {
				return fmt.Errorf("archive before delete: %w", err)
			}
			s.logger.Info("snapshot archived", zap.String("document", name), zap.String("key", key))
		case errors.Is(err, cache.ErrNotFound):
		default:
			return fmt.Errorf("read snapshot for archive: %w", err)
		}
	}

	// the outbox goes first so a flush cannot bring the entry back
	if s.outbox != nil {
		if err := s.outbox.DiscardFlush(ctx, name); err != nil {
			return err
		}
	}
	if err := s.cache.Delete(ctx, name); err != nil {
		return err
	}
	if s.indexer != nil {
		s.indexer.DeleteDocument(name)
	}
	return nil
}

// Snapshot decodes the cached state of name into an engine document.
func (s *Service) Snapshot(ctx context.Context, name string) (crdt.Document, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	state, err := s.cache.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	d := s.engine.NewDocument()
	if err := d.ApplyUpdate(state); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return d, nil
}

// NodeExport is a cached document flattened back into the origin's row schema.
type NodeExport struct {
	DocumentName string             `json:"documentName"`
	Title        string             `json:"title"`
	DocID        int64              `json:"docId"`
	ParentID     int64              `json:"parentId"`
	NodeData     normalize.NodeData `json:"nodeData"`
}

// Nodes flattens the cached content of name into legacy rows.
func (s *Service) Nodes(ctx context.Context, name string) (NodeExport, error) {
	d, err := s.Snapshot(ctx, name)
	if err != nil {
		return NodeExport{}, err
	}

	export := NodeExport{
		DocumentName: name,
		Title:        d.GetText(normalize.FieldTitle),
		NodeData:     normalize.NodeData{Content: []normalize.ContentNode{}, Text: []normalize.TextNode{}},
	}
	export.DocID, _ = strconv.ParseInt(d.GetText(normalize.FieldDocID), 10, 64)
	export.ParentID, _ = strconv.ParseInt(d.GetText(normalize.FieldParentID), 10, 64)

	content := d.GetText(normalize.FieldContent)
	if content == "" {
		return export, nil
	}
	tree, err := prosemirror.Parse([]byte(content))
	if err != nil {
		return NodeExport{}, fmt.Errorf("parse document content: %w", err)
	}
	export.NodeData = normalize.Flatten(export.DocID, tree)
	return export, nil
}
