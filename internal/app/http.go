package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"linguist/api/internal/logger"
	"linguist/api/internal/search"
	"linguist/api/internal/store"
)

const (
	sessionKey   = "session"
	requestIDKey = "request_id"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *logger.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, log *logger.Logger) *HTTPServer {
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: log.With("component", "http")}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.Router()
}

func (s *HTTPServer) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("linguist-api"))
	r.Use(s.withRequestLog())

	config := cors.DefaultConfig()
	if s.corsOrigin == "" || s.corsOrigin == "*" {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = strings.Split(s.corsOrigin, ",")
	}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	config.ExposeHeaders = []string{"X-Request-ID"}
	r.Use(cors.New(config))

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/ready", s.handleReady)

	authed := api.Group("")
	authed.Use(s.withSession(), withUUIDParam("id"))
	{
		authed.GET("/courses/search", s.handleSearch)
		authed.GET("/courses/:id", s.handleCourse)
		authed.GET("/courses/:id/history", s.handleHistory)

		authed.POST("/courses/:id/enroll", s.handleEnroll)
		authed.GET("/courses/:id/enrollment", s.handleEnrollment)
		authed.GET("/me/enrollments", s.handleMyEnrollments)
		authed.PUT("/lessons/:id/progress", s.handleProgress)

		authed.GET("/courses/:id/collaborators", s.handleListCollaborators)
		authed.POST("/courses/:id/collaborators", s.handleAddCollaborator)
		authed.PATCH("/collaborators/:id", s.handleUpdateCollaborator)
		authed.DELETE("/courses/:id/collaboration", s.handleCancelCollaboration)

		authed.GET("/courses/:id/suggestions", s.handleListSuggestions)
		authed.POST("/courses/:id/suggestions", s.handleSubmitSuggestion)
		authed.POST("/suggestions/:id/review", s.handleReviewSuggestion)
		authed.POST("/suggestions/:id/merge", s.handleMergeSuggestion)
	}

	r.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	return r
}

// withUUIDParam answers 404 for path ids that cannot name a row, before they
// reach a UUID column and surface as a store error.
func withUUIDParam(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Param(name)
		if raw == "" {
			c.Next()
			return
		}
		// Only the canonical 36-character form; uuid.Parse also takes urn and brace forms.
		if _, err := uuid.Parse(raw); err != nil || len(raw) != 36 {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *HTTPServer) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.service.Ready(ctx); err != nil {
		s.log.Warn("readiness check failed", "error", err)
		writeJSON(c, http.StatusServiceUnavailable, map[string]any{
			"ok":     false,
			"status": "not_ready",
			"checks": map[string]any{"database": map[string]any{"status": "error"}},
		})
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"ok":     true,
		"status": "ready",
		"checks": map[string]any{"database": map[string]any{"status": "ok"}},
	})
}

func (s *HTTPServer) handleSearch(c *gin.Context) {
	q := search.Query{
		Text:         strings.TrimSpace(c.Query("q")),
		LanguageCode: c.Query("language"),
		Limit:        queryInt(c, "limit", 20),
		Offset:       queryInt(c, "offset", 0),
	}
	if q.Text == "" {
		writeError(c, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	writeJSON(c, http.StatusOK, s.service.SearchCourses(c.Request.Context(), q))
}

func (s *HTTPServer) handleCourse(c *gin.Context) {
	loaded, err := s.service.CourseWithContent(c.Request.Context(), sessionOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, courseContentView(loaded))
}

func (s *HTTPServer) handleHistory(c *gin.Context) {
	commits, err := s.service.CourseHistory(c.Request.Context(), sessionOf(c), c.Param("id"), queryInt(c, "limit", 50))
	if err != nil {
		s.fail(c, err)
		return
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, map[string]any{
			"hash":      commit.Hash,
			"message":   commit.Message,
			"author":    commit.Author,
			"createdAt": commit.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(c, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleEnroll(c *gin.Context) {
	enrolled, err := s.service.Enroll(c.Request.Context(), sessionOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, enrollmentView(*enrolled))
}

func (s *HTTPServer) handleEnrollment(c *gin.Context) {
	enrolled, err := s.service.Enrollment(c.Request.Context(), sessionOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, enrollmentView(*enrolled))
}

func (s *HTTPServer) handleMyEnrollments(c *gin.Context) {
	items, err := s.service.Enrollments(c.Request.Context(), sessionOf(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		views = append(views, enrollmentView(item))
	}
	writeJSON(c, http.StatusOK, map[string]any{"items": views})
}

func (s *HTTPServer) handleProgress(c *gin.Context) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(c, &body); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.RecordProgress(c.Request.Context(), sessionOf(c), c.Param("id"), store.ProgressStatus(body.Status))
	if err != nil {
		s.fail(c, err)
		return
	}
	response := map[string]any{
		"progress": progressView(result.Progress),
		"courseId": result.CourseID,
	}
	if result.Enrollment != nil {
		response["enrollment"] = enrollmentView(*result.Enrollment)
	}
	writeJSON(c, http.StatusOK, response)
}

func (s *HTTPServer) handleListCollaborators(c *gin.Context) {
	items, err := s.service.Collaborators(c.Request.Context(), sessionOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		view := collaboratorView(item.Collaborator)
		view["displayName"] = item.DisplayName
		view["avatarUrl"] = item.AvatarURL
		views = append(views, view)
	}
	writeJSON(c, http.StatusOK, map[string]any{"items": views})
}

func (s *HTTPServer) handleAddCollaborator(c *gin.Context) {
	var body struct {
		UserID string `json:"userId"`
		Status string `json:"status"`
	}
	if err := decodeBody(c, &body); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	row, err := s.service.AddCollaborator(c.Request.Context(), sessionOf(c), c.Param("id"), strings.TrimSpace(body.UserID), store.CollaboratorStatus(body.Status))
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, collaboratorView(*row))
}

func (s *HTTPServer) handleUpdateCollaborator(c *gin.Context) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(c, &body); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	row, err := s.service.UpdateCollaborator(c.Request.Context(), sessionOf(c), c.Param("id"), store.CollaboratorStatus(body.Status))
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, collaboratorView(*row))
}

func (s *HTTPServer) handleCancelCollaboration(c *gin.Context) {
	row, err := s.service.CancelCollaboration(c.Request.Context(), sessionOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, collaboratorView(*row))
}

func (s *HTTPServer) handleListSuggestions(c *gin.Context) {
	items, err := s.service.Suggestions(c.Request.Context(), sessionOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		views = append(views, suggestionView(item))
	}
	writeJSON(c, http.StatusOK, map[string]any{"items": views})
}

func (s *HTTPServer) handleSubmitSuggestion(c *gin.Context) {
	var body struct {
		Summary string          `json:"summary"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := decodeBody(c, &body); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	edit, err := s.service.SubmitSuggestion(c.Request.Context(), sessionOf(c), c.Param("id"), body.Summary, body.Payload)
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, suggestionView(*edit))
}

func (s *HTTPServer) handleReviewSuggestion(c *gin.Context) {
	var body struct {
		Decision string `json:"decision"`
	}
	if err := decodeBody(c, &body); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	outcome, err := s.service.ReviewSuggestion(c.Request.Context(), sessionOf(c), c.Param("id"), store.SuggestionStatus(body.Decision))
	if err != nil {
		s.fail(c, err)
		return
	}
	response := map[string]any{"suggestion": suggestionView(outcome.Edit)}
	if outcome.Merge != nil {
		response["merge"] = mergeView(*outcome.Merge)
	}
	writeJSON(c, http.StatusOK, response)
}

func (s *HTTPServer) handleMergeSuggestion(c *gin.Context) {
	result, err := s.service.MergeSuggestion(c.Request.Context(), sessionOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"suggestion": suggestionView(result.Edit),
		"merge":      mergeView(*result),
	})
}

// withSession attaches the caller's session. A request without a token is
// anonymous; a request with a bad token is rejected.
func (s *HTTPServer) withSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.Request)
		if token == "" {
			c.Set(sessionKey, Session{})
			c.Next()
			return
		}
		session, err := s.service.SessionFromToken(token)
		if err != nil {
			writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			c.Abort()
			return
		}
		c.Set(sessionKey, session)
		c.Next()
	}
}

func (s *HTTPServer) withRequestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Header("Cache-Control", "no-store")

		started := time.Now()
		c.Next()

		s.log.Info("request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(started).Milliseconds(),
		)
	}
}

func (s *HTTPServer) fail(c *gin.Context, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			"request_id", c.GetString(requestIDKey),
			"path", c.Request.URL.Path,
			"error", err,
		)
	}
	writeError(c, status, code, message, details)
}

func sessionOf(c *gin.Context) Session {
	if value, ok := c.Get(sessionKey); ok {
		if session, ok := value.(Session); ok {
			return session
		}
	}
	return Session{}
}

func writeJSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}

func writeError(c *gin.Context, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(c, status, response)
}

func decodeBody(c *gin.Context, target any) error {
	if c.Request.Body == nil {
		return nil
	}
	decoder := json.NewDecoder(c.Request.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
