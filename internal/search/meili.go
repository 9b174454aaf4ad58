package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"linguist/api/internal/logger"
)

const idxCourses = "linguist_courses"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	log     *logger.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the course index. An
// unreachable server is not an error: the health loop keeps probing and the
// service falls back until it recovers.
func NewMeili(url, apiKey string, log *logger.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		log:    log,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Warn("search: meilisearch unavailable", "url", url, "error", err)
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
		Uid:        idxCourses,
		PrimaryKey: "id",
	}); err != nil {
		m.log.Debug("search: create index (may already exist)", "index", idxCourses, "error", err)
	}

	index := m.client.Index(idxCourses)
	filterable := []interface{}{"languageCode", "ownerId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn("search: update filterable attrs", "index", idxCourses, "error", err)
	}
	searchable := []string{"title", "description"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn("search: update searchable attrs", "index", idxCourses, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
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
				m.log.Info("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	sr := &meili.SearchRequest{
		IndexUID:              idxCourses,
		Query:                 q.Text,
		Limit:                 int64(limitOrDefault(q.Limit)),
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"title", "description"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if q.LanguageCode != "" {
		sr.Filter = []string{fmt.Sprintf("languageCode = %q", q.LanguageCode)}
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var results []Result
	total := 0
	for _, res := range resp.Results {
		total += int(res.EstimatedTotalHits)
		for _, hit := range res.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		ID:           decodeString(hit, "id"),
		LanguageCode: decodeString(hit, "languageCode"),
		Title:        firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
		Snippet:      firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description")),
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

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexCourse adds or updates a course in the index.
func (m *Meili) IndexCourse(record CourseRecord) error {
	_, err := m.client.Index(idxCourses).AddDocuments([]CourseRecord{record}, nil)
	return err
}

// IndexCourses bulk-indexes courses.
func (m *Meili) IndexCourses(records []CourseRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxCourses).AddDocuments(records, nil)
	return err
}

// DeleteCourse removes a course from the index.
func (m *Meili) DeleteCourse(id string) error {
	_, err := m.client.Index(idxCourses).DeleteDocument(id, nil)
	return err
}
