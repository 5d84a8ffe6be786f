package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rulebook_backend/internal/config"
	"rulebook_backend/internal/model"
	"rulebook_backend/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t   *testing.T
	app *App
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Server:   config.ServerConfig{Port: "0", Mode: gin.TestMode},
		JWT:      config.JWTConfig{Secret: "app-test-secret-of-at-least-32-chars", ExpireTime: time.Hour},
		Auth:     config.AuthConfig{MasterSecret: "master"},
		Storage:  config.StorageConfig{Type: "local", LocalPath: t.TempDir(), MaxImageMB: 1},
		Workflow: config.WorkflowConfig{ChangeSummary: config.DefaultChangeSummary},
	}
	app := New(cfg, testutil.DB(t), nil)
	t.Cleanup(app.services.hub.Stop)
	return &testServer{t: t, app: app}
}

func (s *testServer) do(method, path, token string, body interface{}) (int, envelope) {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.app.Router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "text/plain; charset=utf-8" {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func (s *testServer) decode(env envelope, v interface{}) {
	s.t.Helper()
	require.NoError(s.t, json.Unmarshal(env.Data, v))
}

type session struct {
	Token string `json:"token"`
	User  struct {
		ID         uint   `json:"id"`
		MemberCode string `json:"userId"`
		Role       string `json:"role"`
	} `json:"user"`
}

func (s *testServer) signup(username string) session {
	s.t.Helper()
	code, _ := s.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username, "password": "secret1", "fullName": username,
	})
	require.Equal(s.t, http.StatusCreated, code)

	code, env := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": username, "password": "secret1",
	})
	require.Equal(s.t, http.StatusOK, code)
	var sess session
	s.decode(env, &sess)
	return sess
}

type proposalBody struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Actions []string `json:"actions"`
}

func TestProposalFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	admin := s.signup("admin")
	member := s.signup("member")
	assert.Equal(t, "admin", admin.User.Role)
	assert.Equal(t, "SFARB02", member.User.MemberCode)

	code, _ := s.do(http.MethodPost, "/api/proposals", "", map[string]interface{}{"action": "add"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env := s.do(http.MethodPost, "/api/proposals", admin.Token, map[string]interface{}{
		"action":  "add",
		"level":   "Level 1",
		"title":   map[string]string{"en": "Kick-off", "hi": "किक-ऑफ"},
		"content": map[string]string{"en": "<p>Start</p>"},
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var p proposalBody
	s.decode(env, &p)
	assert.Equal(t, "draft", p.Status)
	assert.Contains(t, p.Actions, "submit_internal")

	// drafts are private to the author
	code, _ = s.do(http.MethodGet, "/api/proposals/"+p.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, code)

	for _, step := range []string{"submit_internal", "open"} {
		code, env = s.do(http.MethodPut, "/api/proposals/"+p.ID+"/"+step, admin.Token, nil)
		require.Equal(t, http.StatusOK, code, "%s: %s", step, env.Message)
	}

	code, env = s.do(http.MethodGet, "/api/proposals", "", nil)
	require.Equal(t, http.StatusOK, code)
	var listed []proposalBody
	s.decode(env, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, "open", listed[0].Status)

	code, env = s.do(http.MethodPut, "/api/proposals/"+p.ID+"/consent", member.Token, nil)
	require.Equal(t, http.StatusOK, code)
	var consent struct {
		Agreed bool `json:"agreed"`
	}
	s.decode(env, &consent)
	assert.True(t, consent.Agreed)

	code, env = s.do(http.MethodPut, "/api/proposals/"+p.ID+"/withdraw", admin.Token, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "Cannot withdraw: Proposal has received votes.", env.Message)

	code, _ = s.do(http.MethodPut, "/api/proposals/"+p.ID+"/approve", member.Token, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = s.do(http.MethodPut, "/api/proposals/"+p.ID+"/approve", admin.Token, nil)
	require.Equal(t, http.StatusOK, code)
	var approved struct {
		Ready bool `json:"readyToPublish"`
	}
	s.decode(env, &approved)
	assert.True(t, approved.Ready)

	code, _ = s.do(http.MethodPut, "/api/proposals/"+p.ID+"/publish", member.Token, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = s.do(http.MethodPut, "/api/proposals/"+p.ID+"/publish", admin.Token, nil)
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = s.do(http.MethodGet, "/api/lessons", "", nil)
	require.Equal(t, http.StatusOK, code)
	var lessons []struct {
		ID    string            `json:"id"`
		Title map[string]string `json:"title"`
	}
	s.decode(env, &lessons)
	require.Len(t, lessons, 1)
	assert.Equal(t, "Kick-off", lessons[0].Title["en"])

	code, _ = s.do(http.MethodPut, "/api/proposals/"+p.ID+"/publish", admin.Token, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestOpenReportsProgress(t *testing.T) {
	s := newTestServer(t)
	first := s.signup("first")
	second := s.signup("second")

	code, _ := s.do(http.MethodPut, fmt.Sprintf("/api/users/%d/role", second.User.ID), first.Token,
		map[string]string{"role": "admin"})
	require.Equal(t, http.StatusOK, code)

	code, env := s.do(http.MethodPost, "/api/proposals", first.Token, map[string]interface{}{
		"action": "add",
		"level":  "Level 1",
		"title":  map[string]string{"en": "Throw-in"},
	})
	require.Equal(t, http.StatusCreated, code)
	var p proposalBody
	s.decode(env, &p)

	code, _ = s.do(http.MethodPut, "/api/proposals/"+p.ID+"/submit_internal", first.Token, nil)
	require.Equal(t, http.StatusOK, code)

	code, env = s.do(http.MethodPut, "/api/proposals/"+p.ID+"/open", first.Token, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "Cannot open for voting. Only 1/2 admins have approved.", env.Message)

	code, env = s.do(http.MethodPut, "/api/proposals/"+p.ID+"/approve_internal", second.Token, nil)
	require.Equal(t, http.StatusOK, code)
	var progress struct {
		ApprovalCount int  `json:"approvalCount"`
		TotalAdmins   int  `json:"totalAdmins"`
		AllApproved   bool `json:"allApproved"`
	}
	s.decode(env, &progress)
	assert.Equal(t, 2, progress.ApprovalCount)
	assert.Equal(t, 2, progress.TotalAdmins)
	assert.True(t, progress.AllApproved)
}

func TestRoleIsReadPerRequest(t *testing.T) {
	s := newTestServer(t)
	admin := s.signup("admin")
	member := s.signup("member")

	code, _ := s.do(http.MethodGet, "/api/users", member.Token, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(http.MethodPost, "/api/auth/promote", "", map[string]string{
		"username": "member", "masterSecret": "master",
	})
	require.Equal(t, http.StatusOK, code)

	// same token, new role
	code, _ = s.do(http.MethodGet, "/api/users", member.Token, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(http.MethodPut, fmt.Sprintf("/api/users/%d/role", admin.User.ID), member.Token,
		map[string]string{"role": "member"})
	require.Equal(t, http.StatusOK, code)

	code, env := s.do(http.MethodPut, fmt.Sprintf("/api/users/%d/role", member.User.ID), member.Token,
		map[string]string{"role": "member"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "cannot demote the last admin", env.Message)
}

func TestPublicEndpoints(t *testing.T) {
	s := newTestServer(t)
	admin := s.signup("admin")

	code, env := s.do(http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, code)
	var health struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	s.decode(env, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "disabled", health.Components["cache"])

	code, env = s.do(http.MethodGet, "/api/public/members", "", nil)
	require.Equal(t, http.StatusOK, code)
	var members []map[string]interface{}
	s.decode(env, &members)
	require.Len(t, members, 1)
	assert.Equal(t, "SFARB01", members[0]["userId"])
	assert.NotContains(t, members[0], "role")

	code, _ = s.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "admin", "password": "secret1",
	})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(http.MethodPost, "/api/lessons/seed", admin.Token, []map[string]interface{}{
		{"level": "Level 1", "title": map[string]string{"en": "One"}},
	})
	assert.Equal(t, http.StatusCreated, code)
	code, _ = s.do(http.MethodPost, "/api/lessons/seed", admin.Token, []map[string]interface{}{
		{"level": "Level 1", "title": map[string]string{"en": "Two"}},
	})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(http.MethodGet, "/api/lessons/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(http.MethodGet, "/api/auth/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRemovedUserReadsPublicListAsGuest(t *testing.T) {
	s := newTestServer(t)
	admin := s.signup("admin")
	gone := s.signup("gone")

	code, env := s.do(http.MethodPost, "/api/proposals", admin.Token, map[string]interface{}{
		"action": "add",
		"level":  "Level 1",
		"title":  map[string]string{"en": "Corner kick"},
	})
	require.Equal(t, http.StatusCreated, code)
	var p proposalBody
	s.decode(env, &p)
	for _, step := range []string{"submit_internal", "open"} {
		code, _ = s.do(http.MethodPut, "/api/proposals/"+p.ID+"/"+step, admin.Token, nil)
		require.Equal(t, http.StatusOK, code)
	}

	require.NoError(t, s.app.DB.Delete(&model.User{}, gone.User.ID).Error)

	code, env = s.do(http.MethodGet, "/api/proposals", gone.Token, nil)
	require.Equal(t, http.StatusOK, code)
	var listed []proposalBody
	s.decode(env, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, "open", listed[0].Status)

	// authenticated routes still refuse the stale identity
	code, _ = s.do(http.MethodGet, "/api/auth/me", gone.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}
