package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClaude(t *testing.T, handler http.HandlerFunc) *Claude {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClaude("test-key", ClaudeOptions{Endpoint: srv.URL, HTTPClient: srv.Client()})
}

func textReply(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(apiResponse{
		Type:    "message",
		Role:    "assistant",
		Content: []apiContentBlock{{Type: "text", Text: text}},
	})
}

func TestClaudeClassify(t *testing.T) {
	var got apiRequest
	c := newTestClaude(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		textReply(w, "```json\n{\"label\":\"TASK\",\"confidence\":0.7}\n```")
	})

	cls, err := c.Classify(context.Background(), Input{
		Subject: "Quarterly report",
		Sender:  "boss@example.com",
		Content: "Please review by Friday",
	})
	require.NoError(t, err)
	assert.Equal(t, LabelTask, cls.Label)
	assert.InDelta(t, 0.7, cls.Confidence, 1e-9)

	assert.Equal(t, defaultModel, got.Model)
	require.Len(t, got.Messages, 1)
	assert.Contains(t, got.Messages[0].Content[0].Text, "Quarterly report")
}

func TestClaudeClassifyMalformedIsUnavailable(t *testing.T) {
	c := newTestClaude(t, func(w http.ResponseWriter, r *http.Request) {
		textReply(w, "I'm not sure how to answer.")
	})

	_, err := c.Classify(context.Background(), Input{Subject: "hi"})
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestClaudeAPIError(t *testing.T) {
	c := newTestClaude(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	})

	_, err := c.Summarize(context.Background(), "text")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.Contains(t, err.Error(), "slow down")
}

func TestClaudeSummarizeAndRewrite(t *testing.T) {
	c := newTestClaude(t, func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.System == summarizeSystem {
			textReply(w, "  A short summary.  ")
			return
		}
		assert.Contains(t, req.System, "formal")
		textReply(w, "Dear team, the report is attached.")
	})

	sum, err := c.Summarize(context.Background(), "long text")
	require.NoError(t, err)
	assert.Equal(t, "A short summary.", sum)

	out, err := c.Rewrite(context.Background(), "report attached", ToneFormal)
	require.NoError(t, err)
	assert.Equal(t, "Dear team, the report is attached.", out)
}

func TestClaudeEmptySummaryIsUnavailable(t *testing.T) {
	c := newTestClaude(t, func(w http.ResponseWriter, r *http.Request) {
		textReply(w, "   ")
	})

	_, err := c.Summarize(context.Background(), "text")
	assert.True(t, IsUnavailable(err))
}
