package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/ragchat/internal/api/handlers"
	"github.com/nikhilbhutani/ragchat/internal/auth"
	"github.com/nikhilbhutani/ragchat/internal/config"
	"github.com/nikhilbhutani/ragchat/internal/document"
	"github.com/nikhilbhutani/ragchat/internal/embedding"
	"github.com/nikhilbhutani/ragchat/internal/eval"
	"github.com/nikhilbhutani/ragchat/internal/ingest"
	"github.com/nikhilbhutani/ragchat/internal/llm"
	"github.com/nikhilbhutani/ragchat/internal/llm/llmtest"
	"github.com/nikhilbhutani/ragchat/internal/memory"
	"github.com/nikhilbhutani/ragchat/internal/models"
	"github.com/nikhilbhutani/ragchat/internal/queue"
	"github.com/nikhilbhutani/ragchat/internal/rag"
	"github.com/nikhilbhutani/ragchat/internal/vectorstore"
	"github.com/nikhilbhutani/ragchat/pkg/chunker"
)

const judgeModel = "judge"

type fakeEnqueuer struct {
	payloads []queue.IngestFilePayload
}

func (f *fakeEnqueuer) EnqueueIngestFile(_ context.Context, p queue.IngestFilePayload) (string, error) {
	f.payloads = append(f.payloads, p)
	return "task-1", nil
}

type testServer struct {
	cfg     *config.Config
	gateway *llmtest.Gateway
	store   *vectorstore.ChromemStore
	handler http.Handler
}

func newTestServer(t *testing.T, mutate func(*config.Config), enqueuer handlers.Enqueuer) *testServer {
	t.Helper()
	cfg := config.Defaults()
	cfg.Storage.UploadDir = t.TempDir()
	cfg.Eval.OutputDir = t.TempDir()
	cfg.Server.RateLimitRPS = 0
	if mutate != nil {
		mutate(cfg)
	}

	gw := llmtest.New()
	gw.Reply = func(req llm.ChatRequest) (string, error) {
		if req.Model == judgeModel {
			return `{"score": 0.5, "reasoning": "partly"}`, nil
		}
		return "Paris.", nil
	}
	store, err := vectorstore.NewChromemStore(chromem.NewDB(), "kb", func(_ context.Context, text string) ([]float32, error) {
		return llmtest.Vector(text), nil
	})
	require.NoError(t, err)

	embedder := embedding.NewService(gw, "")
	pipeline, err := ingest.New(store, embedder, chunker.DefaultOptions(), ingest.WithAllowed(cfg.Storage.AllowedExtension))
	require.NoError(t, err)
	docs := document.NewService(cfg.Storage.UploadDir, store,
		document.WithMaxBytes(cfg.Storage.MaxUploadBytes),
		document.WithAllowed(cfg.Storage.AllowedExtension),
	)
	orch := rag.NewOrchestrator(gw, store, embedder, rag.Options{TopK: 3})

	router := NewRouter(cfg, Deps{
		Health: handlers.NewHealthHandler(store, nil),
		Files:  handlers.NewFileHandler(docs, pipeline, enqueuer, cfg.Storage.MaxUploadBytes),
		Chat:   rag.NewConversation(orch, memory.NewInMemorySessions(cfg.History.MaxTurns, cfg.History.TTL)),
		Eval:   eval.NewHarness(orch, eval.DefaultMetrics(gw, judgeModel)),
	})
	return &testServer{cfg: cfg, gateway: gw, store: store, handler: router.Setup()}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = io.WriteString(part, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (s *testServer) upload(t *testing.T, files map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, files)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	return s.do(t, req)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func listFiles(t *testing.T, s *testServer) []models.FileMetadata {
	t.Helper()
	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/files", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return decode[[]models.FileMetadata](t, rec)
}

func TestFileLifecycle(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := s.upload(t, map[string]string{"handbook.txt": "The capital of France is Paris."})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	up := decode[struct {
		Message string   `json:"message"`
		Files   []string `json:"files"`
		DocIDs  []string `json:"doc_ids"`
	}](t, rec)
	require.Len(t, up.DocIDs, 1)
	require.Len(t, up.Files, 1)
	stored := up.Files[0]
	assert.True(t, strings.HasPrefix(stored, "handbook_"))

	files := listFiles(t, s)
	require.Len(t, files, 1)
	assert.Equal(t, up.DocIDs[0], files[0].DocID)
	assert.Equal(t, "handbook.txt", files[0].OriginalFilename)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/files/"+stored, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "The capital of France is Paris.", rec.Body.String())

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/files/handbook.txt?metadata=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	meta := decode[models.FileMetadata](t, rec)
	assert.Equal(t, stored, meta.StoredFilename)
	assert.Equal(t, up.DocIDs[0], meta.DocID)

	req := httptest.NewRequest(http.MethodDelete, "/files", strings.NewReader(`{"filenames":["handbook.txt","ghost.pdf"]}`))
	rec = s.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	del := decode[struct {
		Deleted  int `json:"deleted"`
		NotFound int `json:"not_found"`
		Errors   int `json:"errors"`
	}](t, rec)
	assert.Equal(t, 1, del.Deleted)
	assert.Equal(t, 1, del.NotFound)
	assert.Zero(t, del.Errors)

	assert.Empty(t, listFiles(t, s))
	n, err := s.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUploadRejectsUnsupportedBeforeWriting(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := s.upload(t, map[string]string{"notes.txt": "fine", "tool.exe": "MZ"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	entries, err := os.ReadDir(s.cfg.Storage.UploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	n, err := s.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUploadTooLarge(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Storage.MaxUploadBytes = 256 }, nil)

	rec := s.upload(t, map[string]string{"big.txt": strings.Repeat("x", 4096)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUploadBadRequests(t *testing.T) {
	s := newTestServer(t, nil, nil)

	body, ct := multipartBody(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	assert.Equal(t, http.StatusBadRequest, s.do(t, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("plain"))
	assert.Equal(t, http.StatusBadRequest, s.do(t, req).Code)
}

func TestUploadAsyncQueues(t *testing.T) {
	q := &fakeEnqueuer{}
	s := newTestServer(t, nil, q)

	rec := s.upload(t, map[string]string{"later.md": "# Later\n\nProcessed by the worker."})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, q.payloads, 1)
	assert.Equal(t, "later.md", q.payloads[0].File.OriginalFilename)
	assert.FileExists(t, q.payloads[0].File.Path)

	n, err := s.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteRequiresNames(t *testing.T) {
	s := newTestServer(t, nil, nil)

	for _, body := range []string{`{"filenames":[]}`, `{}`, `not json`} {
		rec := s.do(t, httptest.NewRequest(http.MethodDelete, "/files", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestGetMissingFile(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/files/nothing.pdf", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/files/nothing.pdf?metadata=true", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatKeepsSession(t *testing.T) {
	s := newTestServer(t, nil, nil)
	require.Equal(t, http.StatusOK, s.upload(t, map[string]string{"geo.txt": "The capital of France is Paris."}).Code)

	rec := s.do(t, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"What is the capital of France?"}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[struct {
		Response  string       `json:"response"`
		SessionID string       `json:"session_id"`
		Sources   []rag.Source `json:"sources"`
	}](t, rec)
	assert.Equal(t, "Paris.", first.Response)
	require.NotEmpty(t, first.SessionID)
	require.NotEmpty(t, first.Sources)
	assert.Contains(t, first.Sources[0].Content, "Paris")

	before := len(s.gateway.Chats())
	body := `{"message":"And its population?","session_id":"` + first.SessionID + `"}`
	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	// Reformulation and generation: the second turn sees history.
	assert.Equal(t, 2, len(s.gateway.Chats())-before)

	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"  "}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatSocket(t *testing.T) {
	s := newTestServer(t, nil, nil)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/chat", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	type payload struct {
		Message   string `json:"message"`
		SessionID string `json:"session_id"`
		Error     string `json:"error"`
	}
	roundTrip := func(event string, data any) (string, payload) {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(handlers.Envelope{Event: event, Data: raw}))
		var env handlers.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		var p payload
		require.NoError(t, json.Unmarshal(env.Data, &p))
		return env.Event, p
	}

	event, p := roundTrip(handlers.EventInitializeChat, map[string]string{})
	assert.Equal(t, handlers.EventChatInitialized, event)
	assert.Equal(t, "Welcome to the chat!", p.Message)
	assert.NotEmpty(t, p.SessionID)

	event, p = roundTrip(handlers.EventSendMessage, map[string]string{"message": "Capital of France?"})
	assert.Equal(t, handlers.EventReceiveMessage, event)
	assert.Equal(t, "Paris.", p.Message)

	event, p = roundTrip(handlers.EventSendMessage, map[string]string{"message": ""})
	assert.Equal(t, handlers.EventReceiveMessage, event)
	assert.NotEmpty(t, p.Error)

	event, _ = roundTrip("dance", nil)
	assert.Equal(t, handlers.EventError, event)
}

func TestEvalEndpoint(t *testing.T) {
	s := newTestServer(t, nil, nil)
	require.Equal(t, http.StatusOK, s.upload(t, map[string]string{"geo.txt": "The capital of France is Paris."}).Code)

	body, ct := multipartBody(t, map[string]string{"questions.csv": "Question,Answer\nWhat is the capital of France?,Paris.\n"})
	req := httptest.NewRequest(http.MethodPost, "/eval", body)
	req.Header.Set("Content-Type", ct)
	rec := s.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode[struct {
		ResultsFile string     `json:"results_file"`
		Table       eval.Table `json:"table"`
	}](t, rec)
	require.Len(t, out.Table.Rows, 2)
	assert.Equal(t, eval.MeanLabel, out.Table.Rows[1].Question)
	for _, m := range out.Table.Metrics {
		assert.Contains(t, out.Table.Rows[0].Scores, m)
	}
	assert.Equal(t, filepath.Join(s.cfg.Eval.OutputDir, "questions_evaluation_results.csv"), out.ResultsFile)
	assert.FileExists(t, out.ResultsFile)
}

func TestEvalTooLarge(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Storage.MaxUploadBytes = 256 }, nil)

	csv := "Question,Answer\n" + strings.Repeat("What is the capital of France?,Paris.\n", 100)
	body, ct := multipartBody(t, map[string]string{"questions.csv": csv})
	req := httptest.NewRequest(http.MethodPost, "/eval", body)
	req.Header.Set("Content-Type", ct)
	rec := s.do(t, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.NoFileExists(t, filepath.Join(s.cfg.Eval.OutputDir, "questions_evaluation_results.csv"))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil, nil)

	assert.Equal(t, http.StatusOK, s.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"index":"ok"`)
}

func TestAuthGuardsAPI(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Auth.JWTSecret = "s3cret" }, nil)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, httptest.NewRequest(http.MethodGet, "/files", nil)).Code)
	assert.Equal(t, http.StatusOK, s.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)

	token, err := auth.NewJWTMiddleware("s3cret").Sign(auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "ada"}})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, s.do(t, req).Code)
}
