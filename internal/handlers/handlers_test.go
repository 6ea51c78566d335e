package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/facefinder/internal/auth"
	"github.com/example/facefinder/internal/faceservice"
	"github.com/example/facefinder/internal/screening"
	"github.com/example/facefinder/internal/usecase"
	"github.com/example/facefinder/internal/workspace"
)

const testJWTSecret = "test-secret"

// pngHeader is enough for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// matchingClient matches targets containing "match".
type matchingClient struct{}

func (matchingClient) CompareFaces(_ context.Context, req faceservice.Request) (*faceservice.Response, error) {
	if bytes.Contains(req.Target, []byte("match")) {
		return &faceservice.Response{FaceMatches: []faceservice.FaceMatch{{Similarity: 97.5, Confidence: 99.9}}}, nil
	}
	return &faceservice.Response{}, nil
}

type stubHistory struct {
	record  *usecase.PassRecord
	summary *usecase.HistorySummary
	err     error
	owner   string
}

func (s *stubHistory) GetPass(_ context.Context, owner, _ string) (*usecase.PassRecord, error) {
	s.owner = owner
	return s.record, s.err
}

func (s *stubHistory) GetSummary(_ context.Context, owner string) (*usecase.HistorySummary, error) {
	s.owner = owner
	return s.summary, s.err
}

type testServer struct {
	router  *gin.Engine
	manager *workspace.Manager
}

func newTestServer(t *testing.T, client faceservice.Client, history HistoryService) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	manager := workspace.NewManager(func(owner string) *screening.Orchestrator {
		return screening.New(client, logger, screening.WithOwner(owner))
	}, logger)

	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	h := NewHandler(manager, history, context.Background(), logger)
	RegisterRoutes(router, h, auth.JWTMiddleware(testJWTSecret, ""), nil)
	return &testServer{router: router, manager: manager}
}

func (s *testServer) do(t *testing.T, method, path, subject string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if subject != "" {
		req.Header.Set("Authorization", "Bearer "+buildTestToken(t, subject))
	}
	resp := httptest.NewRecorder()
	s.router.ServeHTTP(resp, req)
	return resp
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t, matchingClient{}, nil)
	resp := srv.do(t, http.MethodGet, "/health", "", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
}

func TestWorkspaceRequiresToken(t *testing.T) {
	srv := newTestServer(t, matchingClient{}, nil)
	resp := srv.do(t, http.MethodGet, "/workspace", "", nil, "")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
}

func TestScreeningWorkflow(t *testing.T) {
	srv := newTestServer(t, matchingClient{}, nil)

	body, contentType := buildMultipartBody(t, "image", []byte("reference"))
	resp := srv.do(t, http.MethodPut, "/workspace/reference", "alice", body, contentType)
	if resp.Code != http.StatusOK {
		t.Fatalf("reference upload: expected %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}

	body, contentType = buildMultipartBody(t, "images", []byte("match-1"), []byte("other"), []byte("match-2"))
	resp = srv.do(t, http.MethodPost, "/workspace/candidates", "alice", body, contentType)
	if resp.Code != http.StatusCreated {
		t.Fatalf("candidate upload: expected %d, got %d: %s", http.StatusCreated, resp.Code, resp.Body.String())
	}
	var uploaded struct {
		Indices []int `json:"indices"`
	}
	decode(t, resp, &uploaded)
	if len(uploaded.Indices) != 3 || uploaded.Indices[0] != 0 || uploaded.Indices[2] != 2 {
		t.Fatalf("unexpected indices %v", uploaded.Indices)
	}

	resp = srv.do(t, http.MethodPost, "/workspace/run", "alice", nil, "")
	if resp.Code != http.StatusAccepted {
		t.Fatalf("run: expected %d, got %d: %s", http.StatusAccepted, resp.Code, resp.Body.String())
	}
	var started struct {
		PassID string `json:"pass_id"`
	}
	decode(t, resp, &started)
	if started.PassID == "" {
		t.Fatal("expected pass id")
	}

	ws, ok := srv.manager.Lookup("alice")
	if !ok {
		t.Fatal("expected workspace for alice")
	}
	select {
	case <-ws.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pass did not finish")
	}

	resp = srv.do(t, http.MethodGet, "/workspace", "alice", nil, "")
	var snap workspaceResponse
	decode(t, resp, &snap)
	if snap.Status != screening.StatusDone {
		t.Fatalf("expected status done, got %q", snap.Status)
	}
	if snap.MatchedCount != 2 {
		t.Fatalf("expected 2 matches, got %d", snap.MatchedCount)
	}
	if snap.PassID != started.PassID {
		t.Fatalf("expected pass id %q, got %q", started.PassID, snap.PassID)
	}
	if !snap.Candidates[0].Matched || snap.Candidates[1].Matched || !snap.Candidates[2].Matched {
		t.Fatalf("unexpected match flags %+v", snap.Candidates)
	}
	if snap.Candidates[0].Similarity != 97.5 {
		t.Fatalf("expected similarity 97.5, got %v", snap.Candidates[0].Similarity)
	}
	if !snap.Candidates[1].Compared {
		t.Fatal("expected unmatched candidate to be marked compared")
	}

	resp = srv.do(t, http.MethodDelete, "/workspace", "alice", nil, "")
	decode(t, resp, &snap)
	if snap.Status != screening.StatusIdle || snap.HasReference || len(snap.Candidates) != 0 || snap.MatchedCount != 0 {
		t.Fatalf("expected cleared workspace, got %+v", snap)
	}
}

func TestWorkspacesAreIsolatedByOwner(t *testing.T) {
	srv := newTestServer(t, matchingClient{}, nil)

	body, contentType := buildMultipartBody(t, "images", []byte("match"))
	srv.do(t, http.MethodPost, "/workspace/candidates", "alice", body, contentType)

	resp := srv.do(t, http.MethodGet, "/workspace", "bob", nil, "")
	var snap workspaceResponse
	decode(t, resp, &snap)
	if len(snap.Candidates) != 0 || snap.Status != screening.StatusIdle {
		t.Fatalf("expected bob's workspace to be empty, got %+v", snap)
	}
	if _, ok := srv.manager.Lookup("bob"); ok {
		t.Fatal("reading the workspace must not create one")
	}
	if resp := srv.do(t, http.MethodGet, "/workspace/candidates/0/image", "bob", nil, ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
	if srv.manager.Len() != 1 {
		t.Fatalf("expected only alice's workspace, got %d", srv.manager.Len())
	}
}

func TestRunValidation(t *testing.T) {
	srv := newTestServer(t, matchingClient{}, nil)

	resp := srv.do(t, http.MethodPost, "/workspace/run", "alice", nil, "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}

	resp = srv.do(t, http.MethodGet, "/workspace", "alice", nil, "")
	var snap workspaceResponse
	decode(t, resp, &snap)
	if snap.Status != screening.StatusIdle {
		t.Fatalf("expected idle after rejected run, got %q", snap.Status)
	}
}

type blockingClient struct {
	release chan struct{}
}

func (b blockingClient) CompareFaces(ctx context.Context, _ faceservice.Request) (*faceservice.Response, error) {
	select {
	case <-b.release:
		return &faceservice.Response{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRunRejectsConcurrentPass(t *testing.T) {
	client := blockingClient{release: make(chan struct{})}
	srv := newTestServer(t, client, nil)

	body, contentType := buildMultipartBody(t, "image", []byte("reference"))
	srv.do(t, http.MethodPut, "/workspace/reference", "alice", body, contentType)
	body, contentType = buildMultipartBody(t, "images", []byte("one"))
	srv.do(t, http.MethodPost, "/workspace/candidates", "alice", body, contentType)

	if resp := srv.do(t, http.MethodPost, "/workspace/run", "alice", nil, ""); resp.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, resp.Code)
	}
	if resp := srv.do(t, http.MethodPost, "/workspace/run", "alice", nil, ""); resp.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, resp.Code)
	}

	close(client.release)
	ws, _ := srv.manager.Lookup("alice")
	<-ws.Done()
}

func TestUploadRejectsLargeReference(t *testing.T) {
	srv := newTestServer(t, matchingClient{}, nil)

	body, contentType := buildMultipartBody(t, "image", bytes.Repeat([]byte("a"), MaxUploadSize+1))
	resp := srv.do(t, http.MethodPut, "/workspace/reference", "alice", body, contentType)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestUploadRejectsLargeCandidate(t *testing.T) {
	srv := newTestServer(t, matchingClient{}, nil)

	body, contentType := buildMultipartBody(t, "images", []byte("small"), bytes.Repeat([]byte("a"), MaxUploadSize+1))
	resp := srv.do(t, http.MethodPost, "/workspace/candidates", "alice", body, contentType)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}

	ws, _ := srv.manager.Lookup("alice")
	if n := len(ws.Snapshot().Candidates); n != 0 {
		t.Fatalf("expected no candidates stored, got %d", n)
	}
}

func TestUploadCandidatesRequiresImages(t *testing.T) {
	srv := newTestServer(t, matchingClient{}, nil)

	body, contentType := buildMultipartBody(t, "other")
	resp := srv.do(t, http.MethodPost, "/workspace/candidates", "alice", body, contentType)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestCandidateImage(t *testing.T) {
	srv := newTestServer(t, matchingClient{}, nil)

	body, contentType := buildMultipartBody(t, "images", pngHeader)
	srv.do(t, http.MethodPost, "/workspace/candidates", "alice", body, contentType)

	resp := srv.do(t, http.MethodGet, "/workspace/candidates/0/image", "alice", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if got := resp.Header().Get("Content-Type"); got != "image/png" {
		t.Fatalf("expected image/png, got %q", got)
	}
	if !bytes.Equal(resp.Body.Bytes(), pngHeader) {
		t.Fatal("expected uploaded bytes back")
	}

	if resp := srv.do(t, http.MethodGet, "/workspace/candidates/7/image", "alice", nil, ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
	if resp := srv.do(t, http.MethodGet, "/workspace/candidates/x/image", "alice", nil, ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestPassesWithoutHistory(t *testing.T) {
	srv := newTestServer(t, matchingClient{}, nil)
	resp := srv.do(t, http.MethodGet, "/passes/summary", "alice", nil, "")
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, resp.Code)
	}
}

func TestGetPass(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "found", want: http.StatusOK},
		{name: "missing", err: gorm.ErrRecordNotFound, want: http.StatusNotFound},
		{name: "failure", err: errors.New("db down"), want: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			history := &stubHistory{record: &usecase.PassRecord{PassID: "pass-1", Status: "done"}, err: tc.err}
			srv := newTestServer(t, matchingClient{}, history)

			resp := srv.do(t, http.MethodGet, "/passes/pass-1", "alice", nil, "")
			if resp.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, resp.Code)
			}
			if history.owner != "alice" {
				t.Fatalf("expected owner alice, got %q", history.owner)
			}
			if tc.want == http.StatusOK && !strings.Contains(resp.Body.String(), `"pass_id":"pass-1"`) {
				t.Fatalf("unexpected body %s", resp.Body.String())
			}
		})
	}
}

func TestPassSummary(t *testing.T) {
	history := &stubHistory{summary: &usecase.HistorySummary{TotalPasses: 4, MatchRate: 0.5}}
	srv := newTestServer(t, matchingClient{}, history)

	resp := srv.do(t, http.MethodGet, "/passes/summary", "alice", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	var summary usecase.HistorySummary
	decode(t, resp, &summary)
	if summary.TotalPasses != 4 || summary.MatchRate != 0.5 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORS([]string{"https://app.example.com"}))
	router.GET("/workspace", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/workspace", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("expected allowed origin header, got %q", got)
	}
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), into); err != nil {
		t.Fatalf("failed to decode %q: %v", resp.Body.String(), err)
	}
}

func buildMultipartBody(t *testing.T, field string, payloads ...[]byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, payload := range payloads {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="upload"`)
		header.Set("Content-Type", "application/octet-stream")

		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("failed to create multipart part: %v", err)
		}
		if _, err := part.Write(payload); err != nil {
			t.Fatalf("failed to write payload: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
