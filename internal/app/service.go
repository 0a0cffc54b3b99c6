package app

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"docgate/internal/config"
	"docgate/internal/crdt"
	"docgate/internal/gateway"
	"docgate/internal/normalize"
	"docgate/internal/prosemirror"
	"docgate/internal/render"
	"docgate/internal/search"
)

// documents is the part of the gateway the HTTP surface drives.
type documents interface {
	Load(ctx context.Context, name string, caller map[string]string) (gateway.LoadResult, error)
	Store(ctx context.Context, name string, state []byte) error
	Delete(ctx context.Context, name string) error
	Snapshot(ctx context.Context, name string) (crdt.Document, error)
	Nodes(ctx context.Context, name string) (gateway.NodeExport, error)
	Ready() bool
}

type printer interface {
	PDF(ctx context.Context, title, body string) ([]byte, error)
}

type searcher interface {
	Enabled() bool
	Search(q search.Query) search.Response
}

// Check is one dependency reported by the readiness endpoint.
type Check struct {
	Name string
	Ping func(context.Context) error
}

type Service struct {
	cfg       config.Config
	documents documents
	search    searcher
	printer   printer
	checks    []Check
	logger    *zap.Logger
}

func New(cfg config.Config, docs documents, searchService searcher, logger *zap.Logger, checks ...Check) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		documents: docs,
		search:    searchService,
		checks:    checks,
		logger:    logger,
	}
}

// WithPrinter enables the PDF view.
func (s *Service) WithPrinter(p printer) *Service {
	s.printer = p
	return s
}

// ValidHookToken compares token with the configured hook token in constant time.
func (s *Service) ValidHookToken(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" || s.cfg.HookToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.HookToken)) == 1
}

// Readiness runs every check and reports per-dependency status. The gateway
// itself is reported as "normalizer".
func (s *Service) Readiness(ctx context.Context) (bool, map[string]any) {
	ready := true
	checks := make(map[string]any, len(s.checks)+1)
	for _, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			ready = false
			checks[check.Name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[check.Name] = map[string]any{"status": "ok"}
	}
	if s.documents.Ready() {
		checks["normalizer"] = map[string]any{"status": "ok"}
	} else {
		ready = false
		checks["normalizer"] = map[string]any{"status": "error", "error": gateway.ErrNotReady.Error()}
	}
	return ready, checks
}

// Search runs q against the index. A disabled index is reported as unavailable.
func (s *Service) Search(q search.Query) (search.Response, error) {
	if strings.TrimSpace(q.Text) == "" {
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
	}
	if s.search == nil || !s.search.Enabled() {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(q), nil
}

// Preview renders the cached content field of name as HTML.
func (s *Service) Preview(ctx context.Context, name string) (string, error) {
	doc, err := s.documents.Snapshot(ctx, name)
	if err != nil {
		return "", err
	}
	return previewHTML(doc)
}

// PDF prints the preview of name and returns it with an attachment filename.
func (s *Service) PDF(ctx context.Context, name string) ([]byte, string, error) {
	if s.printer == nil {
		return nil, "", domainError(http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF rendering is not configured", nil)
	}
	doc, err := s.documents.Snapshot(ctx, name)
	if err != nil {
		return nil, "", err
	}
	body, err := previewHTML(doc)
	if err != nil {
		return nil, "", err
	}
	title := doc.GetText(normalize.FieldTitle)
	pdf, err := s.printer.PDF(ctx, title, body)
	if err != nil {
		return nil, "", err
	}
	return pdf, render.Filename(title), nil
}

func previewHTML(doc crdt.Document) (string, error) {
	content := doc.GetText(normalize.FieldContent)
	if content == "" {
		return "", nil
	}
	node, err := prosemirror.Parse([]byte(content))
	if err != nil {
		return "", fmt.Errorf("render preview: %w", err)
	}
	return prosemirror.ToHTML(node), nil
}

func (s *Service) logHookFailure(requestID, hook, name string, err error) {
	s.logger.Warn(fmt.Sprintf("%s hook failed", hook),
		zap.String("request_id", requestID),
		zap.String("document", name),
		zap.Error(err),
	)
}
