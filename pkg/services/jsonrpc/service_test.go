package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/hookcron/hookcron-go/internal/common/logger"
	"github.com/hookcron/hookcron-go/pkg/payloads"
	"github.com/hookcron/hookcron-go/pkg/services/envelope"
	"github.com/hookcron/hookcron-go/pkg/services/jobs"
	"github.com/hookcron/hookcron-go/pkg/services/library"
	mock_library "github.com/hookcron/hookcron-go/pkg/services/library/mock"
	"github.com/hookcron/hookcron-go/pkg/store/memory"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func raw(s string) *json.RawMessage {
	m := json.RawMessage(s)
	return &m
}

func TestParseOperation(t *testing.T) {
	tests := []struct {
		method string
		params *json.RawMessage
		want   Operation
		code   int64
	}{
		{
			method: MethodEnqueue,
			params: raw(`{"name":"a","payload":{"x":1},"options":{"runEvery":"PT1M"}}`),
			want: &EnqueueOperation{
				Name:    "a",
				Payload: json.RawMessage(`{"x":1}`),
				Options: payloads.EnqueueOptions{RunEvery: "PT1M"},
			},
		},
		{method: MethodUpdate, params: raw(`{"name":"a","options":{"rearm":true}}`), want: &UpdateOperation{Name: "a", Options: payloads.UpdateOptions{Rearm: true}}},
		{method: MethodGet, params: raw(`{"name":"a"}`), want: &GetOperation{Name: "a"}},
		{method: MethodDelete, params: raw(`{"name":"a"}`), want: &DeleteOperation{Name: "a"}},
		{method: MethodPromote, params: raw(`{"name":"a"}`), want: &PromoteOperation{Name: "a"}},
		{method: MethodRuns, params: raw(`{"name":"a","limit":5}`), want: &RunsOperation{Name: "a", Limit: 5}},
		{method: "job.explode", params: raw(`{}`), code: jsonrpc2.CodeMethodNotFound},
		{method: MethodGet, params: nil, code: jsonrpc2.CodeInvalidParams},
		{method: MethodGet, params: raw(`[1,2]`), code: jsonrpc2.CodeInvalidParams},
		{method: MethodGet, params: raw(`{"name":""}`), code: jsonrpc2.CodeInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			op, err := ParseOperation(tt.method, tt.params)
			if tt.code != 0 {
				var rpcErr *jsonrpc2.Error
				require.True(t, errors.As(err, &rpcErr))
				assert.Equal(t, tt.code, rpcErr.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, op)
		})
	}
}

func TestToRPCError(t *testing.T) {
	assert.Equal(t, int64(CodeJobNotFound), toRPCError(core.ErrJobNotFound).Code)
	assert.Equal(t, int64(CodeInvalidJob), toRPCError(core.InvalidJob("method", "bad")).Code)
	assert.Equal(t, int64(CodePayloadOpen), toRPCError(core.ErrSignatureMismatch).Code)
	assert.Equal(t, int64(CodeInternalError), toRPCError(errors.New("boom")).Code)

	rpcErr := toRPCError(core.ErrJobNotFound)
	require.NotNil(t, rpcErr.Data)
	assert.Equal(t, `"not_found"`, string(*rpcErr.Data))
}

func setupRPC(t *testing.T, jobsAPI library.Jobs) library.JSONRPC {
	server := httptest.NewServer(NewServer(jobsAPI, logger.NewNop()))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, err := Dial(ctx, url, "", logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestServerRoundTrip(t *testing.T) {
	codec, err := envelope.New(envelope.Keyring{Secret: "s"}, logger.NewNop())
	require.NoError(t, err)
	jobsAPI := jobs.New(memory.New(), codec, jobs.Defaults{Endpoint: "https://x/y"}, logger.NewNop())
	client := setupRPC(t, jobsAPI)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var job payloads.Job
	require.NoError(t, client.Call(ctx, MethodEnqueue, map[string]any{
		"name":    "ping",
		"payload": map[string]any{"hello": "world"},
		"options": map[string]any{"runEvery": "PT5M"},
	}, &job))
	assert.Equal(t, "ping", job.Name)
	assert.Equal(t, "PT5M", job.RunEvery)

	var view payloads.JobView
	require.NoError(t, client.Call(ctx, MethodGet, GetOperation{Name: "ping"}, &view))
	assert.JSONEq(t, `{"hello":"world"}`, string(view.Payload))
	assert.True(t, view.Verified)

	var promoted payloads.Job
	require.NoError(t, client.Call(ctx, MethodPromote, PromoteOperation{Name: "ping"}, &promoted))
	require.NotNil(t, promoted.Schedule)

	var runs []*payloads.RunRecord
	require.NoError(t, client.Call(ctx, MethodRuns, RunsOperation{Name: "ping"}, &runs))
	assert.Empty(t, runs)

	var ok struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, client.Call(ctx, MethodDelete, DeleteOperation{Name: "ping"}, &ok))
	assert.True(t, ok.OK)

	err = client.Call(ctx, MethodGet, GetOperation{Name: "ping"}, &view)
	var rpcErr *jsonrpc2.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, int64(CodeJobNotFound), rpcErr.Code)
}

func TestServerRejectsUnknownMethod(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := setupRPC(t, mock_library.NewMockJobs(ctrl))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.Call(ctx, "job.explode", map[string]string{"name": "a"}, nil)
	var rpcErr *jsonrpc2.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, int64(jsonrpc2.CodeMethodNotFound), rpcErr.Code)
}

func TestServerMapsJobsErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	jobsAPI := mock_library.NewMockJobs(ctrl)
	client := setupRPC(t, jobsAPI)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	jobsAPI.EXPECT().Update(gomock.Any(), "a", payloads.UpdateOptions{Method: ptr("TRACE")}).
		Return(nil, core.InvalidJob("method", `"TRACE" is not supported`))

	err := client.Call(ctx, MethodUpdate, map[string]any{
		"name":    "a",
		"options": map[string]any{"method": "TRACE"},
	}, nil)
	var rpcErr *jsonrpc2.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, int64(CodeInvalidJob), rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "TRACE")
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/rpc", "", logger.NewNop())
	assert.Error(t, err)
}

func ptr[T any](v T) *T {
	return &v
}
