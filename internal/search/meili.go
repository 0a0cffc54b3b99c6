package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const idxDocuments = "docgate_documents"

var ErrUnhealthy = errors.New("meilisearch unhealthy")

// Meili indexes and searches documents in Meilisearch.
type Meili struct {
	client         meili.ServiceManager
	logger         *zap.Logger
	healthInterval time.Duration
	healthy        atomic.Bool
	done           chan struct{}
	closed         atomic.Bool
}

// NewMeili creates a Meilisearch client and configures the index. An
// unreachable server is not an error: the health loop keeps probing and
// configures the index once it answers.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	return newMeili(url, apiKey, logger, 10*time.Second)
}

func newMeili(url, apiKey string, logger *zap.Logger, healthInterval time.Duration) *Meili {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Meili{
		client:         meili.New(url, meili.WithAPIKey(apiKey)),
		logger:         logger.Named("search"),
		healthInterval: healthInterval,
		done:           make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxDocuments,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", zap.String("index", idxDocuments), zap.Error(err))
	}

	index := m.client.Index(idxDocuments)
	filterable := []interface{}{"spaceId", "source", "docId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", zap.String("index", idxDocuments), zap.Error(err))
	}
	searchable := []string{"title", "documentName"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", zap.String("index", idxDocuments), zap.Error(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor. It is safe to call twice.
func (m *Meili) Close() {
	if m.closed.CompareAndSwap(false, true) {
		close(m.done)
	}
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexDocument adds or replaces the record. The id is derived from the
// document name when unset.
func (m *Meili) IndexDocument(doc DocumentRecord) error {
	if doc.ID == "" {
		doc.ID = RecordID(doc.DocumentName)
	}
	if _, err := m.client.Index(idxDocuments).AddDocuments([]DocumentRecord{doc}, nil); err != nil {
		return fmt.Errorf("index document: %w", err)
	}
	return nil
}

// DeleteDocument removes the record for a document name.
func (m *Meili) DeleteDocument(documentName string) error {
	if _, err := m.client.Index(idxDocuments).DeleteDocument(RecordID(documentName), nil); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, ErrUnhealthy
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}
	request := &meili.SearchRequest{
		IndexUID:              idxDocuments,
		Query:                 q.Text,
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"title"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if q.FilterSpaceID != "" {
		request.Filter = []string{fmt.Sprintf("spaceId = %q", q.FilterSpaceID)}
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{request},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	title := decodeString(hit, "title")
	return Result{
		DocumentName: decodeString(hit, "documentName"),
		Title:        title,
		Snippet:      firstNonBlank(decodeFormattedString(hit, "title"), title),
		DocID:        decodeInt(hit, "docId"),
		SpaceID:      decodeString(hit, "spaceId"),
		Source:       decodeString(hit, "source"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt(hit meili.Hit, key string) int64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
