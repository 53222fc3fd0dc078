package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/webchat/internal/ai"
	"github.com/suPer8Hu/webchat/internal/auth"
	"github.com/suPer8Hu/webchat/internal/blob"
	"github.com/suPer8Hu/webchat/internal/chat"
	"github.com/suPer8Hu/webchat/internal/db"
	"github.com/suPer8Hu/webchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/webchat/internal/httpapi/middleware"
	"github.com/suPer8Hu/webchat/internal/imagegen"
	"github.com/suPer8Hu/webchat/internal/logger"
	"github.com/suPer8Hu/webchat/internal/models"
	"github.com/suPer8Hu/webchat/internal/ratelimit"
)

type cannedProvider struct{}

func (cannedProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	return "Hi **there**", nil
}

func (cannedProvider) StreamChat(ctx context.Context, messages []ai.Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 2)
	errs := make(chan error, 1)
	chunks <- "Hi "
	chunks <- "**there**"
	close(chunks)
	close(errs)
	return chunks, errs
}

type testEnv struct {
	router *gin.Engine
	auth   *auth.Service
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestEnv(t *testing.T, limits Limits) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.Connect("sqlite:file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	log := logger.Nop()
	authSvc := auth.NewService(gdb, "test-secret", time.Hour, log)

	reg := ai.NewRegistry("canned")
	reg.Register("canned", func(ctx context.Context, model string) (ai.Provider, error) {
		return cannedProvider{}, nil
	})
	chatSvc := chat.NewService(chat.NewRepo(gdb), reg, log, 20)

	objects, err := blob.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)
	files := blob.NewStore(gdb, objects, log)
	gw := imagegen.NewGateway(nil, nil, nil, files, log)

	h := &handlers.Handler{
		Auth:   authSvc,
		Chat:   chatSvc,
		Files:  files,
		Images: gw,
		Jobs:   imagegen.NewJobService(imagegen.NewJobRepo(gdb), gw, nil, log),
		Log:    log,
	}
	r := NewRouter(Deps{
		Handler: h,
		Limiter: ratelimit.NewSQLLimiter(gdb),
		Limits:  limits,
	})
	return &testEnv{router: r, auth: authSvc}
}

func (e *testEnv) login(t *testing.T, username string, role models.Role) string {
	t.Helper()
	_, err := e.auth.CreateUser(context.Background(), auth.NewUser{Username: username, Password: "password123", Role: role})
	require.NoError(t, err)

	w := e.do(t, http.MethodPost, "/login", "", gin.H{"username": username, "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Token string `json:"token"`
	}
	decode(t, w, &data)
	require.NotEmpty(t, data.Token)
	return data.Token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if into != nil {
		require.NoError(t, json.Unmarshal(env.Data, into))
	}
}

func TestPingAndFallbacks(t *testing.T) {
	e := newTestEnv(t, Limits{})

	w := e.do(t, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	w = e.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPut, "/ping", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestAuth_CookieSessionAndLogout(t *testing.T) {
	e := newTestEnv(t, Limits{})

	w := e.do(t, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	_, err := e.auth.CreateUser(context.Background(), auth.NewUser{Username: "alice", Password: "password123"})
	require.NoError(t, err)

	w = e.do(t, http.MethodPost, "/login", "", gin.H{"username": "alice", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, "/login", "", gin.H{"username": "alice", "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code)
	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var me struct {
		User models.User `json:"user"`
	}
	decode(t, w, &me)
	assert.Equal(t, "alice", me.User.Username)

	// logout revokes the session behind the cookie
	req = httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChat_ConversationLifecycle(t *testing.T) {
	e := newTestEnv(t, Limits{})
	alice := e.login(t, "alice", models.RoleEmployer)
	bob := e.login(t, "bob", models.RoleEmployer)

	w := e.do(t, http.MethodPost, "/chat", alice, gin.H{"message": "Hello"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var sent struct {
		Conversation     chat.Conversation `json:"conversation"`
		AssistantMessage chat.Message      `json:"assistant_message"`
		HTML             string            `json:"html"`
	}
	decode(t, w, &sent)
	assert.Equal(t, "Hello", sent.Conversation.Title)
	assert.Equal(t, "Hi **there**", sent.AssistantMessage.Content)
	assert.Contains(t, sent.HTML, "<strong>there</strong>")

	convPath := "/conversations/" + jsonNumber(sent.Conversation.ID)

	w = e.do(t, http.MethodGet, "/conversations", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Conversations []chat.ConversationSummary `json:"conversations"`
	}
	decode(t, w, &list)
	require.Len(t, list.Conversations, 1)
	assert.EqualValues(t, 2, list.Conversations[0].MessageCount)

	w = e.do(t, http.MethodGet, convPath+"/messages", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msgs struct {
		Messages []struct {
			Role string `json:"role"`
			HTML string `json:"html"`
		} `json:"messages"`
	}
	decode(t, w, &msgs)
	require.Len(t, msgs.Messages, 2)
	assert.Equal(t, "user", msgs.Messages[0].Role)
	assert.Empty(t, msgs.Messages[0].HTML)
	assert.NotEmpty(t, msgs.Messages[1].HTML)

	// foreign owner sees nothing
	w = e.do(t, http.MethodGet, convPath+"/messages", bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(t, http.MethodPost, "/chat", bob, gin.H{"conversation_id": sent.Conversation.ID, "message": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPatch, convPath, alice, gin.H{"title": "Renamed"})
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodPatch, convPath, alice, gin.H{"title": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodDelete, convPath, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var del struct {
		Deleted bool `json:"deleted"`
	}
	decode(t, w, &del)
	assert.True(t, del.Deleted)

	w = e.do(t, http.MethodDelete, convPath, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &del)
	assert.False(t, del.Deleted)
}

func TestChat_Validation(t *testing.T) {
	e := newTestEnv(t, Limits{})
	tok := e.login(t, "alice", models.RoleEmployer)

	w := e.do(t, http.MethodPost, "/chat", tok, gin.H{"message": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/chat", tok, gin.H{"message": "hi", "provider": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/conversations", tok, nil)
	var list struct {
		Conversations []chat.ConversationSummary `json:"conversations"`
	}
	decode(t, w, &list)
	assert.Empty(t, list.Conversations)
}

func TestChat_StreamEvents(t *testing.T) {
	e := newTestEnv(t, Limits{})
	tok := e.login(t, "alice", models.RoleEmployer)

	w := e.do(t, http.MethodPost, "/chat/stream", tok, gin.H{"message": "Hello"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	start := strings.Index(body, "event: start")
	content := strings.Index(body, "event: content")
	done := strings.Index(body, "event: done")
	assert.True(t, start >= 0 && content > start && done > content, body)
	assert.Contains(t, body, `"content":"Hi "`)
	assert.NotContains(t, body, "event: error")
}

func TestRateLimit_Returns429WithUsage(t *testing.T) {
	e := newTestEnv(t, Limits{ChatPerHour: 1})
	tok := e.login(t, "alice", models.RoleEmployer)

	w := e.do(t, http.MethodPost, "/chat", tok, gin.H{"message": "one"})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/chat", tok, gin.H{"message": "two"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	var d struct {
		Limit   int       `json:"limit"`
		Used    int       `json:"used"`
		ResetAt time.Time `json:"reset_at"`
	}
	decode(t, w, &d)
	assert.Equal(t, 1, d.Limit)
	assert.Equal(t, 1, d.Used)
	assert.True(t, d.ResetAt.After(time.Now()))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestAdmin_RequiresSuperRole(t *testing.T) {
	e := newTestEnv(t, Limits{})
	emp := e.login(t, "worker", models.RoleEmployer)
	root := e.login(t, "root", models.RoleSuper)

	body := gin.H{"username": "carol", "password": "password123"}
	w := e.do(t, http.MethodPost, "/admin/users", emp, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, "/admin/users", root, body)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = e.do(t, http.MethodPost, "/admin/users", root, body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPost, "/admin/users", root, gin.H{"username": "dave", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFiles_UploadListDownloadDelete(t *testing.T) {
	e := newTestEnv(t, Limits{})
	tok := e.login(t, "alice", models.RoleEmployer)
	other := e.login(t, "bob", models.RoleEmployer)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("category", "documents"))
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("hello file"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var up struct {
		File blob.FileMetadata `json:"file"`
	}
	decode(t, w, &up)
	assert.Equal(t, "notes.txt", up.File.OriginalName)

	w = e.do(t, http.MethodGet, "/files?category=documents", tok, nil)
	var list struct {
		Files []blob.FileMetadata `json:"files"`
	}
	decode(t, w, &list)
	require.Len(t, list.Files, 1)

	w = e.do(t, http.MethodGet, "/files?category=bogus", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/files/"+up.File.ID, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello file", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "notes.txt")

	w = e.do(t, http.MethodGet, "/files/"+up.File.ID, other, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodDelete, "/files/"+up.File.ID, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodGet, "/files/"+up.File.ID, tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestImages_PlaceholderAndAsyncDisabled(t *testing.T) {
	e := newTestEnv(t, Limits{})
	tok := e.login(t, "alice", models.RoleEmployer)

	w := e.do(t, http.MethodPost, "/images/generate", tok, gin.H{"prompt": "a red fox", "width": 128, "height": 128})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		File blob.FileMetadata `json:"file"`
	}
	decode(t, w, &out)
	assert.Equal(t, blob.CategoryImages, out.File.Category)
	assert.Equal(t, "placeholder", out.File.Tags["source"])

	w = e.do(t, http.MethodPost, "/images/generate", tok, gin.H{"prompt": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/images/generate", tok, gin.H{"prompt": "x", "async": true})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = e.do(t, http.MethodGet, "/images/jobs/01ARZ3NDEKTSV4RRFFQ69G5FAV", tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRender_Endpoint(t *testing.T) {
	e := newTestEnv(t, Limits{})
	tok := e.login(t, "alice", models.RoleEmployer)

	w := e.do(t, http.MethodPost, "/render", tok, gin.H{"markdown": "# Hi\n<script>alert(1)</script>"})
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		HTML string `json:"html"`
	}
	decode(t, w, &out)
	assert.Contains(t, out.HTML, "<h1")
	assert.NotContains(t, out.HTML, "<script>")
}

func jsonNumber(id uint64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
