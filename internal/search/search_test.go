package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linguist/api/internal/logger"
	"linguist/api/internal/store"
	"linguist/api/internal/store/memstore"
)

func seedCatalog(st *memstore.Store) {
	st.SeedCourse(store.Course{ID: "c-pt", Title: "Portuguese basics", Description: "Greetings and verbs", LanguageCode: "pt", IsPublic: true, IsPublished: true})
	st.SeedCourse(store.Course{ID: "c-es", Title: "Spanish travel", Description: "Basics for the road", LanguageCode: "es", IsPublic: true, IsPublished: true})
	st.SeedCourse(store.Course{ID: "c-draft", Title: "Basics draft", LanguageCode: "pt", IsPublic: true})
	st.SeedCourse(store.Course{ID: "c-private", Title: "Private basics", LanguageCode: "pt", IsPublished: true})
}

func TestCatalogSearchRanksTitleMatchesFirst(t *testing.T) {
	st := memstore.New()
	seedCatalog(st)
	catalog := NewCatalog(st.Repos().Courses)

	results, total, err := catalog.Search(context.Background(), Query{Text: "BASICS"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, results, 2)
	assert.Equal(t, "c-pt", results[0].ID)
	assert.Equal(t, "c-es", results[1].ID)
}

func TestCatalogSearchFiltersAndPages(t *testing.T) {
	st := memstore.New()
	seedCatalog(st)
	catalog := NewCatalog(st.Repos().Courses)
	ctx := context.Background()

	results, total, err := catalog.Search(ctx, Query{Text: "basics", LanguageCode: "es"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "c-es", results[0].ID)

	results, total, err = catalog.Search(ctx, Query{Text: "basics", Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, results, 1)
	assert.Equal(t, "c-es", results[0].ID)

	results, _, err = catalog.Search(ctx, Query{Text: "basics verbs road"})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, total, err = catalog.Search(ctx, Query{Text: "   "})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, results)
}

func TestServiceFallsBackWithoutMeili(t *testing.T) {
	st := memstore.New()
	seedCatalog(st)
	service := NewService(nil, NewCatalog(st.Repos().Courses), logger.Nop())

	resp := service.Search(context.Background(), Query{Text: "spanish"})
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "spanish", resp.Query)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "c-es", resp.Results[0].ID)

	// No-ops without an index.
	service.IndexCourse(store.Course{ID: "c-es"})
	service.DeleteCourse("c-es")
	service.ReindexAll(context.Background(), st.Repos())
	service.Close()
}

func TestServiceReturnsEmptyOnFallbackFailure(t *testing.T) {
	st := memstore.New()
	seedCatalog(st)
	st.Fail("ListPublishedCourses", errors.New("connection reset"))
	service := NewService(nil, NewCatalog(st.Repos().Courses), logger.Nop())

	resp := service.Search(context.Background(), Query{Text: "basics"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
	assert.Zero(t, resp.Total)
}

func TestMeiliUnavailableFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewMeili(srv.URL, "key", logger.Nop())
	defer m.Close()
	assert.False(t, m.Healthy())

	_, _, err := m.Search(context.Background(), Query{Text: "x"})
	assert.Error(t, err)

	st := memstore.New()
	seedCatalog(st)
	service := &Service{meili: m, fallback: NewCatalog(st.Repos().Courses), log: logger.Nop()}
	resp := service.Search(context.Background(), Query{Text: "portuguese"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "c-pt", resp.Results[0].ID)
}

func TestHitToResultPrefersHighlightedFields(t *testing.T) {
	formatted, err := json.Marshal(map[string]string{"title": "<mark>Portuguese</mark> basics"})
	require.NoError(t, err)
	hit := meili.Hit{
		"id":           json.RawMessage(`"c-pt"`),
		"title":        json.RawMessage(`"Portuguese basics"`),
		"description":  json.RawMessage(`"Greetings"`),
		"languageCode": json.RawMessage(`"pt"`),
		"_formatted":   formatted,
	}

	got := hitToResult(hit)
	assert.Equal(t, Result{
		ID:           "c-pt",
		Title:        "<mark>Portuguese</mark> basics",
		Snippet:      "Greetings",
		LanguageCode: "pt",
	}, got)
}

func TestRecordFromCourseAndListed(t *testing.T) {
	course := store.Course{ID: "c1", Title: "T", OwnerID: "o", LanguageCode: "fr", IsPublic: true}
	assert.False(t, Listed(course))
	course.IsPublished = true
	assert.True(t, Listed(course))

	record := RecordFromCourse(course)
	assert.Equal(t, "c1", record.ID)
	assert.Equal(t, "fr", record.LanguageCode)
	assert.Equal(t, "o", record.OwnerID)
}

func TestLimitOrDefault(t *testing.T) {
	assert.Equal(t, 20, limitOrDefault(0))
	assert.Equal(t, 5, limitOrDefault(5))
	assert.Equal(t, 100, limitOrDefault(500))
}
