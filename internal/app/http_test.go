package app

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ideabot/api/internal/search"
	"ideabot/api/internal/slackapi"
)

type capturedRequest struct {
	called bool
	body   string
}

func newTestServer(t *testing.T, env *testEnv) (*HTTPServer, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.called = true
		body, _ := io.ReadAll(r.Body)
		captured.body = string(body)
		w.WriteHeader(http.StatusTeapot)
	})
	return NewHTTPServer(env.service, zerolog.Nop(), WithFallthrough(next)), captured
}

func postForm(t *testing.T, server *HTTPServer, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func get(server *HTTPServer, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func getWithToken(server *HTTPServer, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func slashValues(teamID string) url.Values {
	return url.Values{
		"command":    {"/share"},
		"text":       {"ship it"},
		"team_id":    {teamID},
		"trigger_id": {"trig1"},
		"user_id":    {"U1"},
		"user_name":  {"ann"},
	}
}

func payloadValues(t *testing.T, payload any) url.Values {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return url.Values{"payload": {string(raw)}}
}

func TestSlashCommandOpensDialog(t *testing.T) {
	env := newTestEnv(t)
	env.install(t, "T1")
	server, _ := newTestServer(t, env)

	rec := postForm(t, server, slashValues("T1"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	require.Len(t, env.chat.dialogs, 1)
	assert.Equal(t, "trig1", env.chat.dialogs[0].triggerID)
	assert.Equal(t, "xoxp-T1", env.chat.dialogs[0].token)
	assert.Equal(t, "ship it", ideaTextValue(t, env.chat.dialogs[0]))
}

func ideaTextValue(t *testing.T, call dialogCall) string {
	t.Helper()
	raw, err := json.Marshal(call.dialog.Elements[0])
	require.NoError(t, err)
	var element struct {
		Value string `json:"value"`
	}
	require.NoError(t, json.Unmarshal(raw, &element))
	return element.Value
}

func TestSlashCommandNotInstalled(t *testing.T) {
	env := newTestEnv(t)
	server, _ := newTestServer(t, env)

	rec := postForm(t, server, slashValues("T9"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "ERROR: This workspace is not authorized. Goto https://slack.com/apps/A1 to install the app", rec.Body.String())
	assert.Empty(t, env.chat.dialogs)
}

func TestSlashCommandDialogFailure(t *testing.T) {
	env := newTestEnv(t)
	env.install(t, "T1")
	env.chat.dialogErr = &slackapi.APIError{Method: "dialog.open", Code: "expired_trigger_id"}
	server, _ := newTestServer(t, env)

	rec := postForm(t, server, slashValues("T1"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "ERROR: "))
	assert.Contains(t, rec.Body.String(), "expired_trigger_id")
}

func TestSubmissionAcknowledgesThenStoresAndBroadcasts(t *testing.T) {
	env := newTestEnv(t)
	env.install(t, "T1")
	server, _ := newTestServer(t, env)

	rec := postForm(t, server, payloadValues(t, map[string]any{
		"type":        "dialog_submission",
		"callback_id": "submit_idea",
		"submission":  map[string]any{"idea": "use go", "articleURL": nil},
		"team":        map[string]string{"id": "T1"},
		"channel":     map[string]string{"id": "C1"},
		"user":        map[string]string{"id": "U1", "name": "ann"},
	}))
	server.Wait()

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	ideas := env.ideas(t, "T1")
	require.Len(t, ideas, 1)
	assert.Equal(t, "use go", ideas[0].Idea)
	assert.Equal(t, "ann", ideas[0].User)

	posts := env.chat.postCalls()
	require.Len(t, posts, 1)
	assert.Equal(t, "C1", posts[0].msg.Channel)
	assert.Equal(t, "@ann shared", posts[0].msg.Text)
}

func TestSubmissionFailureAfterAcknowledgmentIsOnlyLogged(t *testing.T) {
	env := newTestEnv(t)
	server, _ := newTestServer(t, env)

	rec := postForm(t, server, payloadValues(t, map[string]any{
		"callback_id": "submit_idea",
		"submission":  map[string]any{"idea": "use go"},
		"team":        map[string]string{"id": "T9"},
		"channel":     map[string]string{"id": "C1"},
		"user":        map[string]string{"id": "U1", "name": "ann"},
	}))
	server.Wait()

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Empty(t, env.ideas(t, "T9"))
	assert.Empty(t, env.chat.postCalls())
}

func TestBroadcastFailureAfterAcknowledgmentKeepsIdea(t *testing.T) {
	env := newTestEnv(t)
	env.install(t, "T1")
	env.chat.postErr = errors.New("channel_not_found")
	server, _ := newTestServer(t, env)

	rec := postForm(t, server, payloadValues(t, map[string]any{
		"callback_id": "submit_idea",
		"submission":  map[string]any{"idea": "use go"},
		"team":        map[string]string{"id": "T1"},
		"channel":     map[string]string{"id": "C1"},
		"user":        map[string]string{"id": "U1", "name": "ann"},
	}))
	server.Wait()

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.ideas(t, "T1"), 1)
}

func TestLikeActionRedrawsWithCount(t *testing.T) {
	env := newTestEnv(t)
	env.install(t, "T1")
	seedIdea(t, env, "T1", "I1")
	server, _ := newTestServer(t, env)

	rec := postForm(t, server, payloadValues(t, map[string]any{
		"type":         "interactive_message",
		"callback_id":  "idea_action",
		"actions":      []map[string]string{{"name": "like", "type": "button", "value": `{"id":"I1","team_id":"T1"}`}},
		"team":         map[string]string{"id": "T1"},
		"channel":      map[string]string{"id": "C1"},
		"user":         map[string]string{"id": "U2", "name": "bob"},
		"response_url": "https://hooks.slack.test/respond/1",
	}))
	server.Wait()

	assert.Equal(t, http.StatusOK, rec.Code)
	posts := env.chat.postCalls()
	require.Len(t, posts, 1)
	assert.Equal(t, "https://hooks.slack.test/respond/1", posts[0].msg.ResponseURL)
	assert.Equal(t, "1 Likes", posts[0].msg.Attachments[0].Actions[0].Text)
}

func TestDialogCancellationIsAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	server, next := newTestServer(t, env)

	rec := postForm(t, server, payloadValues(t, map[string]any{
		"type":        "dialog_cancellation",
		"callback_id": "submit_idea",
		"team":        map[string]string{"id": "T1"},
	}))
	server.Wait()

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, next.called)
	assert.Empty(t, env.chat.postCalls())
}

func TestUnrecognizedInteractionPassesThrough(t *testing.T) {
	tests := []struct {
		name   string
		values url.Values
	}{
		{name: "no command or payload", values: url.Values{"text": {"hello"}}},
		{name: "other slash command", values: url.Values{"command": {"/other"}, "text": {"x"}}},
		{name: "unknown callback", values: url.Values{"payload": {`{"callback_id":"other"}`}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			server, next := newTestServer(t, env)

			rec := postForm(t, server, tt.values)

			assert.Equal(t, http.StatusTeapot, rec.Code)
			assert.True(t, next.called)
			assert.Equal(t, tt.values.Encode(), next.body)
		})
	}
}

func TestMalformedPayloadFailsBeforeAcknowledgment(t *testing.T) {
	env := newTestEnv(t)
	server, next := newTestServer(t, env)

	rec := postForm(t, server, url.Values{"payload": {"{oops"}})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "ERROR: Invalid request, malformed payload.", rec.Body.String())
	assert.False(t, next.called)
}

func TestSlashCommandFromJSONBody(t *testing.T) {
	env := newTestEnv(t)
	env.install(t, "T1")
	server, _ := newTestServer(t, env)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"command":"/share","text":"from json","team_id":"T1","trigger_id":"trig2"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.chat.dialogs, 1)
	assert.Equal(t, "trig2", env.chat.dialogs[0].triggerID)
	assert.Equal(t, "from json", ideaTextValue(t, env.chat.dialogs[0]))
}

func TestOAuthRedirectsToAppPage(t *testing.T) {
	env := newTestEnv(t)
	env.chat.access = slackapi.OAuthAccess{OK: true, AccessToken: "xoxp-new", TeamID: "T1", TeamName: "Acme", UserID: "U0"}
	server, _ := newTestServer(t, env)

	rec := get(server, "/oauth?code=abc")

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://slack.com/apps/A1", rec.Header().Get("Location"))
	assert.Equal(t, []string{"abc"}, env.chat.codes)
}

func TestOAuthMissingCode(t *testing.T) {
	env := newTestEnv(t)
	server, _ := newTestServer(t, env)

	rec := get(server, "/oauth")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "ERROR: Invalid code", rec.Body.String())
	assert.Empty(t, env.chat.codes)
}

func TestOAuthSlackError(t *testing.T) {
	env := newTestEnv(t)
	env.chat.exchangeErr = &slackapi.APIError{Method: "oauth.access", Code: "invalid_code"}
	server, _ := newTestServer(t, env)

	rec := get(server, "/oauth?code=bad")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "ERROR: Operation failed with an error: invalid_code", rec.Body.String())
}

func TestInstallRedirectsToAuthorizePage(t *testing.T) {
	env := newTestEnv(t)
	server, _ := newTestServer(t, env)

	rec := get(server, "/install")

	assert.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "slack.test", location.Host)
	assert.Equal(t, "cid", location.Query().Get("client_id"))
	assert.NotEmpty(t, location.Query().Get("state"))
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)
	server, _ := newTestServer(t, env)

	rec := get(server, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = get(server, "/api/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := newTestEnv(t)
	server, _ := newTestServer(t, env)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestListIdeasEndpoint(t *testing.T) {
	env := newTestEnv(t)
	seedIdea(t, env, "T1", "I1")
	server, _ := newTestServer(t, env)

	rec := getWithToken(server, "/api/ideas?team_id=T1", "api-secret")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Ideas []struct {
			ID   string `json:"id"`
			Idea string `json:"idea"`
		} `json:"ideas"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Ideas, 1)
	assert.Equal(t, "I1", body.Ideas[0].ID)

	rec = getWithToken(server, "/api/ideas", "api-secret")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"code":"VALIDATION_ERROR","error":"team_id is required"}`, rec.Body.String())
}

func TestSearchIdeasEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.service.search = search.NewService(nil, search.NewScan(env.store), zerolog.Nop())
	seedIdea(t, env, "T1", "I1")
	server, _ := newTestServer(t, env)

	rec := getWithToken(server, "/api/ideas/search?team_id=T1&q=GO", "api-secret")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp search.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "I1", resp.Results[0].ID)

	rec = getWithToken(server, "/api/ideas/search?team_id=T2&q=go", "api-secret")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Results)
}

func TestReadAPIRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	seedIdea(t, env, "T1", "I1")
	server, _ := newTestServer(t, env)

	for _, target := range []string{"/api/ideas?team_id=T1", "/api/ideas/search?team_id=T1&q=go"} {
		rec := get(server, target)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
		assert.JSONEq(t, `{"code":"UNAUTHORIZED","error":"Unauthorized"}`, rec.Body.String())
		assert.NotContains(t, rec.Body.String(), "use go")

		rec = getWithToken(server, target, "wrong")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
	}
}

func TestReadAPIClosedWithoutConfiguredToken(t *testing.T) {
	env := newTestEnv(t)
	env.service.cfg.APIToken = ""
	seedIdea(t, env, "T1", "I1")
	server, _ := newTestServer(t, env)

	rec := getWithToken(server, "/api/ideas?team_id=T1", "anything")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOversizedInteractionIsRejected(t *testing.T) {
	env := newTestEnv(t)
	server, next := newTestServer(t, env)

	body := "text=" + strings.Repeat("a", maxInteractionBody)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "ERROR: Invalid request, body too large.", rec.Body.String())
	assert.False(t, next.called)
}

func TestUnknownRouteFallsThrough(t *testing.T) {
	env := newTestEnv(t)
	server, next := newTestServer(t, env)

	rec := get(server, "/elsewhere")

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.True(t, next.called)
}
