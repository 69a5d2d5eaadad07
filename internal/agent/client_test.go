package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailpipe/internal/model"
	"mailpipe/internal/pipeline"
	"mailpipe/pkg/circuitbreaker"
	"mailpipe/pkg/trace"
)

// gateway answers every /generate call with text.
func gateway(t *testing.T, status int, text string, seen *generateRequest, traceID *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, generatePath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		if seen != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		if traceID != nil {
			*traceID = r.Header.Get(trace.HeaderName)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(generateResponse{Text: text})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		text string
		want model.EmailCategory
		err  bool
	}{
		{"plain json", `{"category":"general"}`, model.CategoryGeneral, false},
		{"fenced json", "```json\n{\"category\": \"Scam\"}\n```", model.CategoryScam, false},
		{"blank label is other", `{"category":""}`, model.CategoryOther, false},
		{"unknown label", `{"category":"urgent"}`, model.CategoryFailed, false},
		{"missing key", `{"label":"general"}`, model.CategoryFailed, true},
		{"not json", "general", model.CategoryFailed, true},
		{"empty text", "  ", model.CategoryFailed, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := gateway(t, http.StatusOK, tc.text, nil, nil)
			c := NewClient(srv.URL, time.Second, zap.NewNop())

			got, err := c.Classify(context.Background(), pipeline.ClassifyInput{Subject: "Hi"})
			assert.Equal(t, tc.want, got)
			if tc.err {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClassify_SendsPromptAndTrace(t *testing.T) {
	var seen generateRequest
	var traceID string
	srv := gateway(t, http.StatusOK, `{"category":"ignored"}`, &seen, &traceID)
	c := NewClient(srv.URL+"/", time.Second, zap.NewNop())

	ctx := trace.WithContext(context.Background(), "trace-1")
	got, err := c.Classify(ctx, pipeline.ClassifyInput{
		Subject:       "Your weekly digest",
		Body:          "Top posts",
		From:          "digest@linkedin.com",
		IgnorePhrases: []string{"linkedin digests", "receipts"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.CategoryIgnored, got)
	assert.Equal(t, "trace-1", traceID)
	assert.Contains(t, seen.Prompt, "Subject: Your weekly digest")
	assert.Contains(t, seen.Prompt, "linkedin digests, receipts")
	assert.Contains(t, seen.Prompt, `"category"`)
}

func TestGenerate(t *testing.T) {
	var seen generateRequest
	srv := gateway(t, http.StatusOK, `{"draftText":"Sounds good.","draftSubject":"Re: Lunch"}`, &seen, nil)
	c := NewClient(srv.URL, time.Second, zap.NewNop())

	draft, err := c.Generate(context.Background(), pipeline.DraftInput{
		EmailID: "e1", Subject: "Lunch", Category: "social", Signoff: "Cheers, Sam",
	})
	require.NoError(t, err)
	assert.Equal(t, &pipeline.GeneratedDraft{DraftText: "Sounds good.", DraftSubject: "Re: Lunch"}, draft)
	assert.Contains(t, seen.Prompt, "Category: social")
	assert.Contains(t, seen.Prompt, "Signoff: Cheers, Sam")
}

func TestGenerate_MissingDraftTextFails(t *testing.T) {
	srv := gateway(t, http.StatusOK, `{"draftSubject":"Re: Lunch"}`, nil, nil)
	c := NewClient(srv.URL, time.Second, zap.NewNop())

	draft, err := c.Generate(context.Background(), pipeline.DraftInput{})
	assert.ErrorIs(t, err, ErrNoDraftText)
	assert.Nil(t, draft)
}

func TestGenerate_ServerErrorFails(t *testing.T) {
	srv := gateway(t, http.StatusBadGateway, "", nil, nil)
	c := NewClient(srv.URL, time.Second, zap.NewNop())

	_, err := c.Generate(context.Background(), pipeline.DraftInput{})
	assert.Error(t, err)
}

func TestCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, time.Second, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := c.Classify(context.Background(), pipeline.ClassifyInput{})
		require.Error(t, err)
	}
	_, err := c.Classify(context.Background(), pipeline.ClassifyInput{})
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestStripJSONCodeFence(t *testing.T) {
	cases := [][2]string{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}```", `{"a":1}`},
		{"  ```json\n{\"a\":\"```\"}\n```  ", "{\"a\":\"```\"}"},
		{"```", "```"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc[1], stripJSONCodeFence(tc[0]), "input %q", tc[0])
	}
}

func TestCategoryPrompt_OmitsIgnoreBlockWhenEmpty(t *testing.T) {
	p := categoryPrompt(pipeline.ClassifyInput{Subject: "s", Body: "b", From: "f"})
	assert.NotContains(t, p, "IGNORE")
	assert.Contains(t, p, "Original email from: f")
}
