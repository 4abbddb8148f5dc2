package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partnerly/callmesh/internal/assist"
	"github.com/partnerly/callmesh/internal/domain"
	"github.com/partnerly/callmesh/internal/media"
	"github.com/partnerly/callmesh/internal/session"
)

type stubSignaler struct {
	events chan domain.Envelope
}

func (s *stubSignaler) Events() <-chan domain.Envelope { return s.events }

func (s *stubSignaler) CreateRoom(context.Context, string, string, string) (string, error) {
	return "abc123", nil
}

func (s *stubSignaler) JoinRoom(context.Context, string) error { return nil }

func (s *stubSignaler) EndRoom(context.Context, string) error { return nil }

func (s *stubSignaler) SendSignal(context.Context, string, json.RawMessage) error { return nil }

func (s *stubSignaler) SetActiveCall(string) {}

func (s *stubSignaler) ClearActiveCall() {}

type noSources struct{}

func (noSources) LocalTap() (assist.Tap, error) { return assist.Tap{}, assist.ErrNoAudioSource }
func (noSources) PeerTap() (assist.Tap, error)  { return assist.Tap{}, assist.ErrNoAudioSource }

func newTestRouter(t *testing.T) (*gin.Engine, *session.Session) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	callSession := session.New(session.Config{
		UserID:      "alice",
		CallTimeout: time.Second,
	}, &stubSignaler{events: make(chan domain.Envelope)}, media.NewAcquirer(media.NewSyntheticDevice(), nil), nil)
	t.Cleanup(callSession.Dispose)

	assistSession := assist.New(assist.Config{
		UserID:          "alice",
		AmbientInterval: time.Hour,
	}, assist.NewClient("http://127.0.0.1:0", time.Second, nil), noSources{}, nil)
	t.Cleanup(assistSession.Stop)

	router := SetupRouter(NewCallController(callSession), NewAssistController(assistSession))
	return router, callSession
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCallLifecycleOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/calls/create", gin.H{"title": "Standup"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "partnership_id is required")

	rec = doJSON(t, router, http.MethodPost, "/api/calls/create", gin.H{
		"partnership_id": "p1",
		"title":          "Standup",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "abc123")

	rec = doJSON(t, router, http.MethodPost, "/api/calls/create", gin.H{
		"partnership_id": "p1",
		"title":          "Another",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/calls/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"waiting"`)

	rec = doJSON(t, router, http.MethodPost, "/api/media/mic/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mic_enabled":false`)

	rec = doJSON(t, router, http.MethodPost, "/api/calls/end", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/calls/end", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToggleWithoutMediaConflicts(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/media/mic/toggle", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/media/video/toggle", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAssistEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/assist/source", gin.H{"source": "satellite"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/assist/source", gin.H{"source": "peer"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// no stream behind the selected source
	rec = doJSON(t, router, http.MethodPost, "/api/assist/record/start", nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/assist/record/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/assist/record/flush", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/assist/prompt", gin.H{"prompt": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/assist/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"source":"peer"`)
	assert.Contains(t, rec.Body.String(), `"recording":false`)
}
