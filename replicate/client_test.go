package replicate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nhttp "github.com/chaos-io/bgcompare/util/http"
)

const testBaseURL = "https://api.replicate.test"

func newMockClient(t *testing.T, poll PollConfig) (*Client, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	hc := &http.Client{Transport: mt}
	c := NewClient("r8_test",
		WithBaseURL(testBaseURL),
		WithHTTPClient(nhttp.NewHTTPClient(nhttp.WithHTTPClient(hc))),
		WithPollConfig(poll),
	)
	return c, mt
}

// sequenceResponder 依次返回给定状态，最后一个状态一直重复
func sequenceResponder(t *testing.T, calls *atomic.Int32, statuses []Status, output any) httpmock.Responder {
	t.Helper()
	return func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "Token r8_test", req.Header.Get("Authorization"))
		n := int(calls.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		body := map[string]any{"id": "p1", "status": statuses[n]}
		if statuses[n] == StatusSucceeded {
			body["output"] = output
		}
		if statuses[n] == StatusFailed {
			body["error"] = "CUDA out of memory"
		}
		return httpmock.NewJsonResponse(http.StatusOK, body)
	}
}

func fastPoll() PollConfig {
	return PollConfig{Interval: time.Millisecond}
}

func TestClient_CreatePrediction(t *testing.T) {
	t.Parallel()

	c, mt := newMockClient(t, fastPoll())
	mt.RegisterResponder(http.MethodPost, testBaseURL+"/v1/predictions",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Token r8_test", req.Header.Get("Authorization"))
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

			var body createRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "v123", body.Version)
			assert.Equal(t, "data:image/png;base64,AAAA", body.Input["image"])

			return httpmock.NewJsonResponse(http.StatusCreated, map[string]any{
				"id": "p1", "status": "starting", "urls": map[string]string{"get": testBaseURL + "/v1/predictions/p1"},
			})
		})

	p, err := c.CreatePrediction(context.Background(), "v123", map[string]any{"image": "data:image/png;base64,AAAA"})
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, StatusStarting, p.Status)
	assert.Equal(t, testBaseURL+"/v1/predictions/p1", p.URLs.Get)
}

func TestClient_CreatePrediction_UpstreamError(t *testing.T) {
	t.Parallel()

	c, mt := newMockClient(t, fastPoll())
	mt.RegisterResponder(http.MethodPost, testBaseURL+"/v1/predictions",
		httpmock.NewStringResponder(http.StatusUnprocessableEntity, `{"detail":"version does not exist"}`))

	_, err := c.CreatePrediction(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCreation)
	assert.NotErrorIs(t, err, ErrPoll)

	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, http.StatusUnprocessableEntity, rerr.StatusCode)
	assert.Contains(t, rerr.Body, "version does not exist")
}

func TestClient_PollPrediction_Succeeded(t *testing.T) {
	t.Parallel()

	c, mt := newMockClient(t, fastPoll())
	var calls atomic.Int32
	mt.RegisterResponder(http.MethodGet, testBaseURL+"/v1/predictions/p1",
		sequenceResponder(t, &calls, []Status{StatusProcessing, StatusProcessing, StatusSucceeded}, []string{"https://cdn.test/out.png"}))

	var seen []Status
	final, err := c.PollPrediction(context.Background(), &Prediction{ID: "p1", Status: StatusStarting}, func(p *Prediction) {
		seen = append(seen, p.Status)
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, final.Status)
	assert.Equal(t, []string{"https://cdn.test/out.png"}, final.Outputs())
	assert.Equal(t, []Status{StatusProcessing, StatusProcessing, StatusSucceeded}, seen)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_PollPrediction_JobFailedIsNotAnError(t *testing.T) {
	t.Parallel()

	c, mt := newMockClient(t, fastPoll())
	var calls atomic.Int32
	mt.RegisterResponder(http.MethodGet, testBaseURL+"/v1/predictions/p1",
		sequenceResponder(t, &calls, []Status{StatusProcessing, StatusFailed}, nil))

	final, err := c.PollPrediction(context.Background(), &Prediction{ID: "p1", Status: StatusStarting}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Equal(t, "CUDA out of memory", final.ErrorMessage())
	assert.ErrorIs(t, final.Err(), ErrJobFailed)
}

func TestClient_PollPrediction_StatusCheckFails(t *testing.T) {
	t.Parallel()

	c, mt := newMockClient(t, fastPoll())
	mt.RegisterResponder(http.MethodGet, testBaseURL+"/v1/predictions/p1",
		httpmock.NewStringResponder(http.StatusInternalServerError, "upstream exploded"))

	_, err := c.PollPrediction(context.Background(), &Prediction{ID: "p1", Status: StatusStarting}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoll)

	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, http.StatusInternalServerError, rerr.StatusCode)
}

func TestClient_PollPrediction_MaxAttempts(t *testing.T) {
	t.Parallel()

	c, mt := newMockClient(t, PollConfig{Interval: time.Millisecond, MaxAttempts: 3})
	var calls atomic.Int32
	mt.RegisterResponder(http.MethodGet, testBaseURL+"/v1/predictions/p1",
		sequenceResponder(t, &calls, []Status{StatusProcessing}, nil))

	_, err := c.PollPrediction(context.Background(), &Prediction{ID: "p1", Status: StatusStarting}, nil)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_PollPrediction_Deadline(t *testing.T) {
	t.Parallel()

	c, mt := newMockClient(t, PollConfig{Interval: 5 * time.Millisecond, Deadline: 40 * time.Millisecond})
	var calls atomic.Int32
	mt.RegisterResponder(http.MethodGet, testBaseURL+"/v1/predictions/p1",
		sequenceResponder(t, &calls, []Status{StatusProcessing}, nil))

	_, err := c.PollPrediction(context.Background(), &Prediction{ID: "p1", Status: StatusStarting}, nil)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_PollPrediction_Canceled(t *testing.T) {
	t.Parallel()

	c, mt := newMockClient(t, PollConfig{Interval: 5 * time.Millisecond})
	var calls atomic.Int32
	mt.RegisterResponder(http.MethodGet, testBaseURL+"/v1/predictions/p1",
		sequenceResponder(t, &calls, []Status{StatusProcessing}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := c.PollPrediction(ctx, &Prediction{ID: "p1", Status: StatusStarting}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestClient_PollPrediction_AlreadyTerminal(t *testing.T) {
	t.Parallel()

	c, mt := newMockClient(t, fastPoll())

	p := &Prediction{ID: "p1", Status: StatusSucceeded}
	final, err := c.PollPrediction(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Same(t, p, final)
	assert.Zero(t, mt.GetTotalCallCount())
}

func TestClient_Run(t *testing.T) {
	t.Parallel()

	c, mt := newMockClient(t, fastPoll())
	mt.RegisterResponder(http.MethodPost, testBaseURL+"/v1/predictions",
		httpmock.NewStringResponder(http.StatusCreated, `{"id":"p1","status":"starting"}`))
	var calls atomic.Int32
	mt.RegisterResponder(http.MethodGet, testBaseURL+"/v1/predictions/p1",
		sequenceResponder(t, &calls, []Status{StatusSucceeded}, "https://cdn.test/one.png"))

	var seen []Status
	final, err := c.Run(context.Background(), "v1", map[string]any{"image": "x"}, func(p *Prediction) {
		seen = append(seen, p.Status)
	})
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusStarting, StatusSucceeded}, seen)
	assert.Equal(t, []string{"https://cdn.test/one.png"}, final.Outputs())
}

func TestPrediction_Outputs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		output string
		want   []string
	}{
		{"字符串", `"https://a/b.png"`, []string{"https://a/b.png"}},
		{"数组", `["a","b"]`, []string{"a", "b"}},
		{"null", `null`, nil},
		{"空", ``, nil},
		{"对象", `{"x":1}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &Prediction{Output: json.RawMessage(tt.output)}
			assert.Equal(t, tt.want, p.Outputs())
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	t.Parallel()

	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCanceled.Terminal())
	assert.False(t, StatusStarting.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, StatusIdle.Terminal())
}
