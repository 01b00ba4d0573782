package dialogflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modavia/celia/internal/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		Endpoint:    srv.URL,
		Project:     "proj",
		Location:    "southamerica-east1",
		AgentID:     "agent-1",
		Language:    "pt-br",
		AccessToken: "test-token",
		Timeout:     2 * time.Second,
		Retry:       retry.Policy{Attempts: 3, Base: time.Millisecond},
	})
}

func TestDetectIntentParsesTextsAndParameters(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"queryResult": {
				"responseMessages": [
					{"text": {"text": ["Olá, Maria!"]}},
					{"payload": {"x": 1}},
					{"text": {"text": ["Como posso ajudar?", ""]}}
				],
				"parameters": {"user_name": "Maria", "handoff_requested": false}
			}
		}`))
	})

	resp, err := c.DetectIntent(context.Background(), "5541999998888", "Oi", "+5541999998888", nil)
	require.NoError(t, err)

	assert.Equal(t, "/v3/projects/proj/locations/southamerica-east1/agents/agent-1/sessions/5541999998888:detectIntent", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, []string{"Olá, Maria!", "Como posso ajudar?"}, resp.Texts)
	assert.Equal(t, "Maria", resp.Parameters["user_name"].String())
	assert.False(t, resp.Parameters["handoff_requested"].Truthy())

	queryInput := gotReq["queryInput"].(map[string]any)
	assert.Equal(t, "pt-br", queryInput["languageCode"])
	qp := gotReq["queryParams"].(map[string]any)["parameters"].(map[string]any)
	assert.Equal(t, "+5541999998888", qp["user_id"])
}

func TestDetectIntentSendsOverrides(t *testing.T) {
	var gotReq struct {
		QueryParams struct {
			Parameters map[string]any `json:"parameters"`
		} `json:"queryParams"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"queryResult":{}}`))
	})

	overrides := map[string]any{
		"handoff_requested": nil,
		"user_name":         "Maria",
		"retries":           3,
	}
	_, err := c.DetectIntent(context.Background(), "55", "oi", "+55", overrides)
	require.NoError(t, err)

	params := gotReq.QueryParams.Parameters
	assert.Contains(t, params, "handoff_requested")
	assert.Nil(t, params["handoff_requested"], "nil override is an explicit clear")
	assert.Equal(t, "Maria", params["user_name"])
	assert.Equal(t, "3", params["retries"], "non-scalar values travel as strings")
}

func TestDetectIntentMergesSessionInfoParameters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"queryResult": {"parameters": {"a": "1"}},
			"sessionInfo": {"parameters": {"a": "2", "b": "3"}}
		}`))
	})

	resp, err := c.DetectIntent(context.Background(), "55", "oi", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "2", resp.Parameters["a"].String(), "sessionInfo wins over queryResult")
	assert.Equal(t, "3", resp.Parameters["b"].String())
}

func TestDetectIntentRetriesTransientStatus(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"code":503,"status":"UNAVAILABLE","message":"try later"}}`))
			return
		}
		w.Write([]byte(`{"queryResult":{"responseMessages":[{"text":{"text":["ok"]}}]}}`))
	})

	resp, err := c.DetectIntent(context.Background(), "55", "oi", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{"ok"}, resp.Texts)
}

func TestDetectIntentDoesNotRetryPermanentStatus(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"status":"INVALID_ARGUMENT","message":"bad text"}}`))
	})

	_, err := c.DetectIntent(context.Background(), "55", "oi", "", nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "INVALID_ARGUMENT", se.RPCStatus)
	assert.Equal(t, "bad text", se.Message)
}

func TestDetectIntentExhaustsRetries(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":500,"status":"INTERNAL","message":"boom"}}`))
	})

	_, err := c.DetectIntent(context.Background(), "55", "oi", "", nil)
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, IsTransient(err))
}

func TestIsTransientClassification(t *testing.T) {
	assert.True(t, IsTransient(&StatusError{RPCStatus: "UNAVAILABLE"}))
	assert.True(t, IsTransient(&StatusError{RPCStatus: "DEADLINE_EXCEEDED"}))
	assert.True(t, IsTransient(&StatusError{RPCStatus: "ABORTED"}))
	assert.True(t, IsTransient(&StatusError{RPCStatus: "RESOURCE_EXHAUSTED"}))
	assert.True(t, IsTransient(&StatusError{RPCStatus: "INTERNAL"}))
	assert.True(t, IsTransient(&transportError{err: errors.New("connection reset")}))

	assert.False(t, IsTransient(&StatusError{RPCStatus: "INVALID_ARGUMENT"}))
	assert.False(t, IsTransient(&StatusError{RPCStatus: "PERMISSION_DENIED"}))
	assert.False(t, IsTransient(&StatusError{RPCStatus: "NOT_FOUND"}))
	assert.False(t, IsTransient(errors.New("plain error")))
}

func TestRPCStatusForHTTPFallback(t *testing.T) {
	assert.Equal(t, "UNAVAILABLE", rpcStatusForHTTP(503))
	assert.Equal(t, "RESOURCE_EXHAUSTED", rpcStatusForHTTP(429))
	assert.Equal(t, "ABORTED", rpcStatusForHTTP(409))
	assert.Equal(t, "UNKNOWN", rpcStatusForHTTP(418))
}
