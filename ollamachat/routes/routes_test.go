package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollamachat/ollamachat/config"
	"ollamachat/ollamachat/controllers"
	"ollamachat/ollamachat/middlewares"
	"ollamachat/ollamachat/services/catalog"
	"ollamachat/ollamachat/services/engine"
	"ollamachat/ollamachat/services/history"
	"ollamachat/ollamachat/services/inference"
	"ollamachat/ollamachat/sources/session"
	"ollamachat/ollamachat/sources/storage"
	"ollamachat/ollamachat/utils/logging"
	"ollamachat/ollamachat/utils/validation"
)

const (
	testSession = "0123456789abcdef0123456789abcdef"
	testModel   = "llama3:8b"
)

// fakeEngine stands in for the engine binary in every role.
type fakeEngine struct {
	models []string
	lines  []string
	exit   engine.Exit
	runs   atomic.Int32
}

func (f *fakeEngine) ListModels(context.Context) ([]string, error) { return f.models, nil }

func (f *fakeEngine) Version(context.Context) (string, error) { return "ollama version is 0.5.7", nil }

func (f *fakeEngine) Run(ctx context.Context, model, prompt string, onLine func(string)) (engine.Exit, error) {
	f.runs.Add(1)
	for _, l := range f.lines {
		onLine(l)
	}
	return f.exit, nil
}

// countingStore records how often sessions are read.
type countingStore struct {
	*session.MemoryStore
	loads atomic.Int32
}

func (s *countingStore) Load(ctx context.Context, id string) ([]byte, error) {
	s.loads.Add(1)
	return s.MemoryStore.Load(ctx, id)
}

// memArchive is an in-memory export archive.
type memArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (a *memArchive) UploadExport(_ context.Context, sessionID, filename string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := storage.ExportKey(sessionID, filename)
	a.objects[key] = bytes.Clone(data)
	return key, nil
}

func (a *memArchive) GetExport(_ context.Context, sessionID, filename string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.objects[storage.ExportKey(sessionID, filename)]
	if !ok {
		return nil, storage.ErrExportNotFound
	}
	return bytes.Clone(data), nil
}

type server struct {
	handler http.Handler
	engine  *fakeEngine
	store   *countingStore
}

func newServer(t *testing.T, eng *fakeEngine, mutate ...func(*config.Config)) *server {
	t.Helper()
	return buildServer(t, eng, nil, mutate...)
}

func buildServer(t *testing.T, eng *fakeEngine, archive controllers.Archiver, mutate ...func(*config.Config)) *server {
	t.Helper()
	cfg := config.Default()
	cfg.UploadDir = t.TempDir()
	cfg.RateLimitPerMin = 6000
	cfg.RateLimitBurst = 1000
	for _, m := range mutate {
		m(&cfg)
	}
	logs := logging.Nop()
	v := validation.Validator{MaxPromptChars: cfg.MaxPromptChars, MaxModelName: cfg.MaxModelName}

	store := &countingStore{MemoryStore: session.NewMemoryStore()}
	sessions := session.NewManager(store)
	hist := history.NewStore(logs)
	cat := catalog.New(eng, v, 0, logs)
	exporter, err := storage.NewLocalExporter(cfg.UploadDir)
	require.NoError(t, err)

	h := NewRouter(Deps{
		Config:  cfg,
		Logs:    logs,
		Limiter: middlewares.NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitBurst),
		Health:  controllers.NewHealthController(eng, logs),
		Models:  controllers.NewModelController(cat, sessions, v, logs),
		History: controllers.NewHistoryController(hist, sessions, exporter, archive, v, logs),
		Chat:    controllers.NewChatController(inference.NewService(eng, cat, hist, sessions, v, logs)),
	})
	return &server{handler: h, engine: eng, store: store}
}

func (s *server) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: config.Default().SessionCookie, Value: testSession})
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *server) newChat(t *testing.T) string {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/new_chat", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.True(t, validation.ValidChatID(body["chat_id"]), body["chat_id"])
	return body["chat_id"]
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestStreamChat_SSE(t *testing.T) {
	s := newServer(t, &fakeEngine{models: []string{testModel}, lines: []string{"Hello", "", "World"}})
	chatID := s.newChat(t)

	rr := s.do(t, http.MethodPost, "/stream_chat", map[string]string{
		"prompt": "hi", "model": testModel, "chat_id": chatID,
	})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Equal(t, "data: Hello\n\ndata: World\n\ndata: [DONE]\n\n", rr.Body.String())

	rr = s.do(t, http.MethodGet, "/chats/"+chatID+"/messages", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	msgs := decode(t, rr)["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello\nWorld", msgs[1].(map[string]any)["content"])
}

func TestStreamChat_EngineMissing(t *testing.T) {
	s := newServer(t, &fakeEngine{models: []string{testModel}, exit: engine.Exit{Code: engine.ExitNotFound}})
	chatID := s.newChat(t)

	rr := s.do(t, http.MethodPost, "/stream_chat", map[string]string{
		"prompt": "hi", "model": testModel, "chat_id": chatID,
	})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t,
		"data: Error: Ollama command not found. Please ensure Ollama is installed and in PATH\n\ndata: [DONE]\n\n",
		rr.Body.String())
}

func TestStreamChat_StderrSpansLines(t *testing.T) {
	s := newServer(t, &fakeEngine{models: []string{testModel}, exit: engine.Exit{Code: 3, Stderr: "out of memory\nretry later"}})
	chatID := s.newChat(t)

	rr := s.do(t, http.MethodPost, "/stream_chat", map[string]string{
		"prompt": "hi", "model": testModel, "chat_id": chatID,
	})
	assert.Equal(t,
		"data: Error: Insufficient system resources: out of memory\ndata: retry later\n\ndata: [DONE]\n\n",
		rr.Body.String())
}

func TestStreamChat_RejectsBeforeStreaming(t *testing.T) {
	s := newServer(t, &fakeEngine{models: []string{testModel}})
	chatID := s.newChat(t)

	rr := s.do(t, http.MethodPost, "/stream_chat", map[string]string{"prompt": "hi", "chat_id": chatID})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "The field 'model' is required and cannot be empty.", decode(t, rr)["message"])

	rr = s.do(t, http.MethodPost, "/stream_chat", map[string]string{
		"prompt": "hi", "model": "mistral:7b", "chat_id": chatID,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Model not available", decode(t, rr)["error"])
	assert.Zero(t, s.engine.runs.Load())
}

func TestMalformedBodyIsValidationError(t *testing.T) {
	s := newServer(t, &fakeEngine{models: []string{testModel}})
	req := httptest.NewRequest(http.MethodPost, "/stream_chat", strings.NewReader(`{"prompt":`))
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "The field 'prompt' is required and cannot be empty.", decode(t, rr)["message"])
}

func TestBadChatIDRejectedBeforeStoreAccess(t *testing.T) {
	bad := []string{
		"not-a-uuid",
		"3F2B8C1E-5A4D-4E6F-9A0B-1C2D3E4F5A6B",
		"3f2b8c1e5a4d4e6f9a0b1c2d3e4f5a6b",
		"3f2b8c1e-5a4d-4e6f-9a0b-1c2d3e4f5a6bb",
	}
	for _, id := range bad {
		t.Run(id, func(t *testing.T) {
			s := newServer(t, &fakeEngine{models: []string{testModel}})

			requests := []*httptest.ResponseRecorder{
				s.do(t, http.MethodPost, "/stream_chat", map[string]string{"prompt": "hi", "model": testModel, "chat_id": id}),
				s.do(t, http.MethodPost, "/reset_chat", map[string]string{"chat_id": id}),
				s.do(t, http.MethodGet, "/chats/"+id+"/messages", nil),
			}
			for _, rr := range requests {
				assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			}
			assert.Zero(t, s.store.loads.Load())
			assert.Zero(t, s.engine.runs.Load())
		})
	}
}

func TestResetChat(t *testing.T) {
	s := newServer(t, &fakeEngine{models: []string{testModel}})
	chatID := s.newChat(t)

	rr := s.do(t, http.MethodPost, "/reset_chat", map[string]string{"chat_id": chatID})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodPost, "/reset_chat", map[string]string{"chat_id": chatID})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Chat not found", decode(t, rr)["error"])

	rr = s.do(t, http.MethodGet, "/chats/"+chatID+"/messages", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestChats(t *testing.T) {
	s := newServer(t, &fakeEngine{models: []string{testModel}})
	a := s.newChat(t)
	b := s.newChat(t)

	rr := s.do(t, http.MethodGet, "/chats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	chats := decode(t, rr)["chats"].([]any)
	require.Len(t, chats, 2)
	assert.Equal(t, a, chats[0].(map[string]any)["chat_id"])
	assert.Equal(t, b, chats[1].(map[string]any)["chat_id"])
}

func TestModels(t *testing.T) {
	s := newServer(t, &fakeEngine{models: []string{"llama3:8b", "phi3:mini"}})

	rr := s.do(t, http.MethodGet, "/models", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, []any{"llama3:8b", "phi3:mini"}, body["models"])
	assert.Equal(t, "Found 2 available models", body["message"])

	rr = s.do(t, http.MethodPost, "/add_model", map[string]string{"model_name": "phi3:mini"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Successfully added model 'phi3:mini'", decode(t, rr)["message"])

	rr = s.do(t, http.MethodPost, "/add_model", map[string]string{"model_name": "phi3:mini"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, "/add_model", map[string]string{"model_name": "bad name"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, "/remove_model", map[string]string{"model_name": "phi3:mini"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []any{"llama3:8b", "phi3:mini"}, decode(t, rr)["models"])
}

func TestRemoveModel_LastInstalled(t *testing.T) {
	s := newServer(t, &fakeEngine{models: []string{testModel}})
	rr := s.do(t, http.MethodPost, "/remove_model", map[string]string{"model_name": testModel})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Cannot remove model", decode(t, rr)["error"])
}

func TestSearch(t *testing.T) {
	s := newServer(t, &fakeEngine{models: []string{testModel}, lines: []string{"Goroutines are cheap"}})
	chatID := s.newChat(t)
	s.do(t, http.MethodPost, "/stream_chat", map[string]string{"prompt": "tell me about goroutines", "model": testModel, "chat_id": chatID})

	rr := s.do(t, http.MethodPost, "/search", map[string]string{"query": "GOROUTINES"})
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Len(t, body["results"], 2)
	assert.Equal(t, "Found 2 results for 'GOROUTINES'", body["message"])

	rr = s.do(t, http.MethodPost, "/search", map[string]string{"query": " g "})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Search query too short", decode(t, rr)["error"])
}

func TestExport_NothingToExport(t *testing.T) {
	s := newServer(t, &fakeEngine{models: []string{testModel}})
	rr := s.do(t, http.MethodGet, "/export", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "No chats to export", decode(t, rr)["error"])
}

func upload(t *testing.T, s *server, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(&http.Cookie{Name: config.Default().SessionCookie, Value: "ffffffffffffffffffffffffffffffff"})
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func TestExportThenImport(t *testing.T) {
	s := newServer(t, &fakeEngine{models: []string{testModel}, lines: []string{"pong"}})
	chatID := s.newChat(t)
	s.do(t, http.MethodPost, "/stream_chat", map[string]string{"prompt": "ping", "model": testModel, "chat_id": chatID})

	rr := s.do(t, http.MethodGet, "/export", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Regexp(t, `^attachment; filename="chat_export_\d{8}_\d{6}\.json"$`, rr.Header().Get("Content-Disposition"))
	exported := rr.Body.Bytes()
	var bundle map[string]any
	require.NoError(t, json.Unmarshal(exported, &bundle))
	assert.Equal(t, "1.0", bundle["version"])

	// another session imports it, twice
	rr = upload(t, s, "backup.json", exported)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, float64(1), decode(t, rr)["imported_count"])

	rr = upload(t, s, "backup.json", exported)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(0), decode(t, rr)["imported_count"])
}

func TestExportArchive(t *testing.T) {
	archive := &memArchive{objects: map[string][]byte{}}
	s := buildServer(t, &fakeEngine{models: []string{testModel}, lines: []string{"pong"}}, archive)
	chatID := s.newChat(t)
	s.do(t, http.MethodPost, "/stream_chat", map[string]string{"prompt": "ping", "model": testModel, "chat_id": chatID})

	rr := s.do(t, http.MethodGet, "/export", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	exported := rr.Body.String()
	name := strings.TrimSuffix(strings.TrimPrefix(rr.Header().Get("Content-Disposition"), `attachment; filename="`), `"`)
	require.Len(t, archive.objects, 1)

	rr = s.do(t, http.MethodGet, "/export/archive/"+name, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, exported, rr.Body.String())
	assert.Equal(t, `attachment; filename="`+name+`"`, rr.Header().Get("Content-Disposition"))

	// another session cannot read it
	req := httptest.NewRequest(http.MethodGet, "/export/archive/"+name, nil)
	req.AddCookie(&http.Cookie{Name: config.Default().SessionCookie, Value: "ffffffffffffffffffffffffffffffff"})
	other := httptest.NewRecorder()
	s.handler.ServeHTTP(other, req)
	assert.Equal(t, http.StatusNotFound, other.Code)
	assert.Equal(t, "Export not found", decode(t, other)["error"])

	rr = s.do(t, http.MethodGet, "/export/archive/notes.txt", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestExportArchive_NotConfigured(t *testing.T) {
	s := newServer(t, &fakeEngine{models: []string{testModel}})
	rr := s.do(t, http.MethodGet, "/export/archive/chat_export_20260102_030405.json", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Archive not available", decode(t, rr)["error"])
}

func TestImport_Rejections(t *testing.T) {
	s := newServer(t, &fakeEngine{models: []string{testModel}})

	rr := upload(t, s, "backup.txt", []byte(`{"chat_histories": {}}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid file type", decode(t, rr)["error"])

	rr = upload(t, s, "backup.json", []byte(`{"nope": 1}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid file format", decode(t, rr)["error"])

	rr = upload(t, s, "backup.json", []byte(`{`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid JSON format", decode(t, rr)["error"])

	rr = upload(t, s, "backup.json", []byte{0xff, 0xfe})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "File encoding error", decode(t, rr)["error"])

	rr = upload(t, s, "backup.json", []byte(`{"chat_histories": {"not-a-chat-id": []}, "user_models": ["bad model; rm -rf"]}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid file format", decode(t, rr)["error"])
}

func TestImport_TooLarge(t *testing.T) {
	s := newServer(t, &fakeEngine{models: []string{testModel}}, func(c *config.Config) { c.MaxUploadBytes = 1024 })
	rr := upload(t, s, "big.json", bytes.Repeat([]byte("x"), 4096))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Equal(t, "File too large", decode(t, rr)["error"])
}

func TestHealth(t *testing.T) {
	s := newServer(t, &fakeEngine{})
	rr := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", decode(t, rr)["status"])
}

func TestIndex(t *testing.T) {
	s := newServer(t, &fakeEngine{models: []string{testModel, "<script>"}})
	rr := s.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `<option value="llama3:8b">llama3:8b</option>`)
	assert.NotContains(t, rr.Body.String(), "<option value=\"<script>\"")
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	s := newServer(t, &fakeEngine{})

	rr := s.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Page not found", decode(t, rr)["error"])

	rr = s.do(t, http.MethodGet, "/reset_chat", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "Method not allowed", decode(t, rr)["error"])
}

func TestRateLimited(t *testing.T) {
	s := newServer(t, &fakeEngine{models: []string{testModel}}, func(c *config.Config) {
		c.RateLimitPerMin = 1
		c.RateLimitBurst = 1
	})
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/chats", nil).Code)
	rr := s.do(t, http.MethodGet, "/chats", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "Too many requests", decode(t, rr)["error"])
}

func TestWebSocketStream(t *testing.T) {
	s := newServer(t, &fakeEngine{models: []string{testModel}, lines: []string{"Hello", "", "World"}})
	chatID := s.newChat(t)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	ctx := context.Background()
	header := http.Header{}
	header.Set("Cookie", config.Default().SessionCookie+"="+testSession)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/stream_chat",
		&websocket.DialOptions{HTTPHeader: header})
	require.NoError(t, err)
	defer conn.CloseNow()

	req, _ := json.Marshal(map[string]string{"prompt": "hi", "model": testModel, "chat_id": chatID})
	require.NoError(t, conn.Write(ctx, websocket.MessageText, req))

	var frames []string
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		frames = append(frames, string(data))
	}
	assert.Equal(t, []string{"Hello", "World", "[DONE]"}, frames)
}

func TestWebSocketStream_ValidationError(t *testing.T) {
	s := newServer(t, &fakeEngine{models: []string{testModel}})
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	ctx := context.Background()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/stream_chat", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"prompt": "hi"}`)))
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "Invalid request", body["error"])

	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}
