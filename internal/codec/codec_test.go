package codec

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

var convo = []Message{
	{Role: RoleSystem, Content: "You are Echo"},
	{Role: RoleUser, Content: "hello"},
}

// #region normalize-tests

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		timeout bool
	}{
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped-deadline", errors.Join(errors.New("dial"), context.DeadlineExceeded), true},
		{"grpc-deadline", status.Error(codes.DeadlineExceeded, "slow"), true},
		{"canceled", context.Canceled, false},
		{"other", errors.New("boom"), false},
		{"already-timeout", ErrGenerationTimeout, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.err)
			assert.Equal(t, tt.timeout, errors.Is(got, ErrGenerationTimeout))
			assert.Equal(t, !tt.timeout, errors.Is(got, ErrGenerationFailed))
			assert.ErrorIs(t, got, tt.err)
		})
	}
	assert.NoError(t, Normalize(nil))
}

// #endregion normalize-tests

// #region grpc-tests

type fakeSidecar struct {
	reply *structpb.Struct
	err   error
	delay time.Duration
	got   *structpb.Struct
}

func (f *fakeSidecar) Generate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f.got = req
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, status.FromContextError(ctx.Err()).Err()
		case <-time.After(f.delay):
		}
	}
	return f.reply, f.err
}

func startSidecar(t *testing.T, srv *fakeSidecar) *GRPCClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	s.RegisterService(&CodecServiceDesc, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	c, err := NewGRPCClient("passthrough:///bufnet", "llama3.1:8b",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGRPCGenerate_Success(t *testing.T) {
	reply, err := structpb.NewStruct(map[string]any{"text": "hi there"})
	require.NoError(t, err)
	srv := &fakeSidecar{reply: reply}
	c := startSidecar(t, srv)

	text, err := c.Generate(context.Background(), convo)
	require.NoError(t, err)
	assert.Equal(t, "hi there", text)
	assert.Equal(t, "llama3.1:8b", c.Model())

	require.NotNil(t, srv.got)
	assert.Equal(t, "llama3.1:8b", srv.got.GetFields()["model"].GetStringValue())
	msgs := srv.got.GetFields()["messages"].GetListValue().GetValues()
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[1].GetStructValue().GetFields()["role"].GetStringValue())
	assert.Equal(t, "hello", msgs[1].GetStructValue().GetFields()["content"].GetStringValue())
}

func TestGRPCGenerate_ServerError(t *testing.T) {
	c := startSidecar(t, &fakeSidecar{err: status.Error(codes.Unavailable, "model not loaded")})
	_, err := c.Generate(context.Background(), convo)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestGRPCGenerate_MissingText(t *testing.T) {
	reply, err := structpb.NewStruct(map[string]any{"other": 1})
	require.NoError(t, err)
	c := startSidecar(t, &fakeSidecar{reply: reply})
	_, err = c.Generate(context.Background(), convo)
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestGRPCGenerate_Deadline(t *testing.T) {
	reply, err := structpb.NewStruct(map[string]any{"text": "late"})
	require.NoError(t, err)
	c := startSidecar(t, &fakeSidecar{reply: reply, delay: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Generate(ctx, convo)
	assert.ErrorIs(t, err, ErrGenerationTimeout)
}

func TestGRPCClientWithConnCloseIsNoop(t *testing.T) {
	c := NewGRPCClientWithConn(nil, "m")
	assert.NoError(t, c.Close())
}

// #endregion grpc-tests

// #region ollama-tests

func TestOllamaGenerate_Success(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"llama3.1:8b","message":{"role":"assistant","content":"Hello!"},"done":true}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL+"/", "llama3.1:8b", srv.Client())
	text, err := c.Generate(context.Background(), convo)
	require.NoError(t, err)
	assert.Equal(t, "Hello!", text)
	assert.False(t, got.Stream)
	assert.Equal(t, "llama3.1:8b", got.Model)
	assert.Equal(t, convo, got.Messages)
}

func TestOllamaGenerate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{"status", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}, "HTTP 404"},
		{"body-error", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"error":"out of memory"}`))
		}, "out of memory"},
		{"bad-json", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}, "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := NewOllamaClient(srv.URL, "m", srv.Client()).Generate(context.Background(), convo)
			assert.ErrorIs(t, err, ErrGenerationFailed)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestOllamaGenerate_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewOllamaClient(srv.URL, "m", srv.Client()).Generate(ctx, convo)
	assert.ErrorIs(t, err, ErrGenerationTimeout)
}

func TestOllamaDefaults(t *testing.T) {
	c := NewOllamaClient("", "m", nil)
	assert.Equal(t, DefaultOllamaURL, c.baseURL)
	assert.Same(t, http.DefaultClient, c.httpClient)
}

// #endregion ollama-tests

// #region openai-tests

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-test", body["model"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-test",` +
			`"choices":[{"index":0,"message":{"role":"assistant","content":"Hi from openai"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", srv.URL+"/v1", "gpt-test")
	text, err := c.Generate(context.Background(), convo)
	require.NoError(t, err)
	assert.Equal(t, "Hi from openai", text)
	assert.Equal(t, "gpt-test", c.Model())
}

func TestOpenAIGenerate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server-error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
		}},
		{"no-choices", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[]}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := NewOpenAIClient("k", srv.URL+"/v1", "m").Generate(context.Background(), convo)
			assert.ErrorIs(t, err, ErrGenerationFailed)
		})
	}
}

// #endregion openai-tests

// #region scripted-tests

func TestScripted(t *testing.T) {
	s := NewScripted("one", "two")
	s.Push(Reply{Err: errors.New("backend down")})

	text, err := s.Generate(context.Background(), convo)
	require.NoError(t, err)
	assert.Equal(t, "one", text)
	text, err = s.Generate(context.Background(), convo[:1])
	require.NoError(t, err)
	assert.Equal(t, "two", text)

	_, err = s.Generate(context.Background(), convo)
	assert.ErrorIs(t, err, ErrGenerationFailed)

	_, err = s.Generate(context.Background(), convo)
	assert.ErrorIs(t, err, ErrGenerationFailed, "exhausted script")

	calls := s.Calls()
	require.Len(t, calls, 4)
	assert.Len(t, calls[1], 1)
	assert.Equal(t, 0, s.Remaining())
}

func TestScriptedDelayHonorsContext(t *testing.T) {
	s := &Scripted{}
	s.Push(Reply{Text: "slow", Delay: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.Generate(ctx, convo)
	assert.ErrorIs(t, err, ErrGenerationTimeout)
}

// #endregion scripted-tests

// #region retry-tests

func TestRetryingRecoversFromFailure(t *testing.T) {
	s := NewScripted()
	s.Push(Reply{Err: errors.New("flaky")}, Reply{Text: "ok"})

	r := NewRetrying(s, 2, 0)
	text, err := r.Generate(context.Background(), convo)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Len(t, s.Calls(), 2)
}

func TestRetryingGivesUp(t *testing.T) {
	s := NewScripted()
	s.Push(Reply{Err: errors.New("a")}, Reply{Err: errors.New("b")}, Reply{Text: "never"})

	_, err := NewRetrying(s, 1, time.Millisecond).Generate(context.Background(), convo)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, 1, s.Remaining())
}

func TestRetryingSkipsTimeouts(t *testing.T) {
	s := NewScripted()
	s.Push(Reply{Err: context.DeadlineExceeded}, Reply{Text: "never"})

	_, err := NewRetrying(s, 3, 0).Generate(context.Background(), convo)
	assert.ErrorIs(t, err, ErrGenerationTimeout)
	assert.Equal(t, 1, s.Remaining())
}

// #endregion retry-tests

// #region factory-tests

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		check   func(t *testing.T, g Generator)
	}{
		{"default-ollama", Config{}, false, func(t *testing.T, g Generator) {
			assert.IsType(t, &OllamaClient{}, g)
			assert.Equal(t, DefaultModel, g.Model())
		}},
		{"openai", Config{Provider: ProviderOpenAI, Model: "gpt"}, false, func(t *testing.T, g Generator) {
			assert.IsType(t, &OpenAIClient{}, g)
		}},
		{"grpc", Config{Provider: ProviderGRPC, BaseURL: "localhost:50051"}, false, func(t *testing.T, g Generator) {
			assert.IsType(t, &GRPCClient{}, g)
		}},
		{"retrying", Config{MaxRetries: 2}, false, func(t *testing.T, g Generator) {
			assert.IsType(t, &Retrying{}, g)
			assert.Equal(t, DefaultModel, g.Model())
		}},
		{"unknown", Config{Provider: "carrier-pigeon"}, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, closeFn, err := New(tt.cfg)
			require.NotNil(t, closeFn)
			defer func() { _ = closeFn() }()
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, strings.Contains(err.Error(), "carrier-pigeon"))
				return
			}
			require.NoError(t, err)
			tt.check(t, g)
		})
	}
}

// #endregion factory-tests
