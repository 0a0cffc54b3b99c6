package search

import (
	"sync"

	"go.uber.org/zap"
)

type backend interface {
	IndexDocument(doc DocumentRecord) error
	DeleteDocument(documentName string) error
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Service is the fire-and-forget facade the gateway talks to. A Service with
// no backend accepts every call and does nothing.
type Service struct {
	backend backend
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewService wraps m, which may be nil when Meilisearch is not configured.
func NewService(m *Meili, logger *zap.Logger) *Service {
	var b backend
	if m != nil {
		b = m
	}
	return newService(b, logger)
}

func newService(b backend, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{backend: b, logger: logger.Named("search")}
}

func (s *Service) Enabled() bool {
	return s.backend != nil
}

// Search returns an empty, unavailable response when the backend is down.
func (s *Service) Search(q Query) Response {
	if s.backend == nil || !s.backend.Healthy() {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.backend.Search(q)
	if err != nil {
		s.logger.Warn("search failed", zap.String("query", q.Text), zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text}
	}
	if results == nil {
		results = []Result{}
	}
	return Response{Results: results, Total: total, Query: q.Text, Available: true}
}

// IndexDocument indexes a document in the background.
func (s *Service) IndexDocument(doc DocumentRecord) {
	if s.backend == nil || !s.backend.Healthy() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.backend.IndexDocument(doc); err != nil {
			s.logger.Warn("index document failed", zap.String("document", doc.DocumentName), zap.Error(err))
		}
	}()
}

// DeleteDocument removes a document from the index in the background.
func (s *Service) DeleteDocument(documentName string) {
	if s.backend == nil || !s.backend.Healthy() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.backend.DeleteDocument(documentName); err != nil {
			s.logger.Warn("delete document failed", zap.String("document", documentName), zap.Error(err))
		}
	}()
}

// Wait blocks until background index writes have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
