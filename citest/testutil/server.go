package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/opencode-ai/streamd/internal/event"
	"github.com/opencode-ai/streamd/internal/provider"
	"github.com/opencode-ai/streamd/internal/server"
	"github.com/opencode-ai/streamd/internal/session"
	"github.com/opencode-ai/streamd/internal/storage"
	"github.com/opencode-ai/streamd/internal/sysstatus"
	"github.com/opencode-ai/streamd/pkg/types"
)

// TestServer runs the HTTP API against a real store and session service.
// Chat requests go to an OpenAI-compatible endpoint: the mock LLM unless
// live credentials were requested.
type TestServer struct {
	BaseURL string
	Config  *types.Config
	Store   *storage.Store
	Bus     *event.Bus
	Service *session.Service
	MockLLM *MockLLMServer
	TempDir string
	WorkDir string

	http *httptest.Server
}

// TestServerOption configures StartTestServer.
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	workDir string
	envFile string
	mock    *MockLLMConfig
	live    bool
}

// WithWorkDir sets the working directory of created sessions.
func WithWorkDir(dir string) TestServerOption {
	return func(c *testServerConfig) { c.workDir = dir }
}

// WithEnvFile sets the .env file loaded for live runs.
func WithEnvFile(path string) TestServerOption {
	return func(c *testServerConfig) { c.envFile = path }
}

// WithMockConfig scripts the mock LLM.
func WithMockConfig(config *MockLLMConfig) TestServerOption {
	return func(c *testServerConfig) { c.mock = config }
}

// WithLiveProvider talks to the OpenAI-compatible endpoint named by
// OPENAI_API_KEY, OPENAI_BASE_URL and OPENAI_MODEL instead of the mock.
func WithLiveProvider() TestServerOption {
	return func(c *testServerConfig) { c.live = true }
}

// StartTestServer creates and starts a test server.
func StartTestServer(opts ...TestServerOption) (*TestServer, error) {
	cfg := &testServerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	tempDir, err := os.MkdirTemp("", "streamd-citest-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	workDir := cfg.workDir
	if workDir == "" {
		workDir = filepath.Join(tempDir, "work")
		if err := os.MkdirAll(workDir, 0o755); err != nil {
			os.RemoveAll(tempDir)
			return nil, err
		}
	}

	ts := &TestServer{TempDir: tempDir, WorkDir: workDir}
	if cfg.live {
		if cfg.envFile != "" {
			_ = godotenv.Load(cfg.envFile)
		} else {
			_ = godotenv.Load("../../.env")
			_ = godotenv.Load(".env")
		}
		ts.Config = liveConfig()
	} else {
		ts.MockLLM = NewMockLLMServer(cfg.mock)
		ts.Config = mockConfig(ts.MockLLM.URL())
	}

	store, err := storage.Open(filepath.Join(tempDir, "streamd.db"))
	if err != nil {
		ts.Stop()
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	ts.Store = store

	providerID, modelID := provider.ParseModelString(ts.Config.Model)
	ts.Bus = event.NewBus()
	ts.Service = session.NewService(store, provider.NewRegistry(ts.Config), session.ServiceOptions{
		Bus: ts.Bus,
		Sampler: sysstatus.StaticSampler{Status: types.SystemStatus{
			CPUPercent:  12.5,
			CPUCores:    4,
			MemoryUsed:  2 << 30,
			MemoryTotal: 8 << 30,
			CapturedAt:  1700000000000,
		}},
		DefaultModel:   types.ModelRef{ProviderID: providerID, ModelID: modelID},
		GenerateTitles: true,
	})

	srvConfig := server.DefaultConfig()
	srvConfig.Heartbeat = 200 * time.Millisecond
	srv := server.New(srvConfig, ts.Service, ts.Bus)
	ts.http = httptest.NewServer(srv.Router())
	ts.BaseURL = ts.http.URL

	return ts, nil
}

// Stop aborts running streams and releases every resource.
func (ts *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var firstErr error
	if ts.Service != nil {
		firstErr = ts.Service.Shutdown(ctx)
	}
	if ts.http != nil {
		ts.http.CloseClientConnections()
		ts.http.Close()
	}
	if ts.Bus != nil {
		ts.Bus.Close()
	}
	if ts.Store != nil {
		if err := ts.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if ts.MockLLM != nil {
		ts.MockLLM.Close()
	}
	os.RemoveAll(ts.TempDir)
	return firstErr
}

// Client returns a client for this server.
func (ts *TestServer) Client() *TestClient {
	return NewTestClient(ts.BaseURL)
}

// Events subscribes to the notification stream.
func (ts *TestServer) Events(ctx context.Context) (*SSEStream, error) {
	return ts.Client().Events(ctx)
}

func mockConfig(baseURL string) *types.Config {
	return &types.Config{
		Model: "openai/mock-gpt",
		Provider: map[string]types.ProviderConfig{
			"openai": {APIKey: "sk-mock", BaseURL: baseURL},
		},
	}
}

func liveConfig() *types.Config {
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &types.Config{
		Model: "openai/" + model,
		Provider: map[string]types.ProviderConfig{
			"openai": {APIKey: os.Getenv("OPENAI_API_KEY"), BaseURL: os.Getenv("OPENAI_BASE_URL")},
		},
	}
}

// SkipIfMissingEnv reports whether any of the named variables is unset.
func SkipIfMissingEnv(vars ...string) bool {
	for _, v := range vars {
		if os.Getenv(v) == "" {
			return true
		}
	}
	return false
}
