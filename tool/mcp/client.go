package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sweetpotato0/taskpilot/pkg/logging"
)

// ErrClientClosed is returned when the MCP client has been closed.
var ErrClientClosed = errors.New("mcp client closed")

// Option configures optional MCP client behaviour.
type Option func(*clientConfig)

type clientConfig struct {
	implementation sdkmcp.Implementation
	logger         *slog.Logger
	args           []string
	env            []string
	dir            string
	keepAlive      time.Duration
	httpClient     *http.Client
}

// WithLogger overrides the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *clientConfig) { cfg.logger = logger }
}

// WithCommandArgs configures additional arguments when launching a stdio MCP server.
func WithCommandArgs(args ...string) Option {
	return func(cfg *clientConfig) { cfg.args = append(cfg.args, args...) }
}

// WithCommandEnv appends environment variables when launching a stdio MCP server.
func WithCommandEnv(env ...string) Option {
	return func(cfg *clientConfig) { cfg.env = append(cfg.env, env...) }
}

// WithCommandDir sets the working directory for the stdio MCP server process.
func WithCommandDir(dir string) Option {
	return func(cfg *clientConfig) { cfg.dir = dir }
}

// WithKeepAlive configures periodic ping requests to keep the session healthy.
func WithKeepAlive(interval time.Duration) Option {
	return func(cfg *clientConfig) { cfg.keepAlive = interval }
}

// WithHTTPClient supplies a custom HTTP client for the streamable transport.
func WithHTTPClient(client *http.Client) Option {
	return func(cfg *clientConfig) { cfg.httpClient = client }
}

// Client wraps the official MCP Go SDK client and session. Remote tools are
// surfaced as regular domain tools through BuildTools/RegisterTools.
type Client struct {
	sdkClient *sdkmcp.Client
	session   *sdkmcp.ClientSession

	logger *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		implementation: sdkmcp.Implementation{
			Name:    "taskpilot",
			Version: "0.1.0",
		},
		logger: logging.WithComponent("mcp"),
	}
}

// NewStdioClient launches an MCP server command over stdio and performs the
// initialization handshake.
func NewStdioClient(ctx context.Context, command string, opts ...Option) (*Client, error) {
	if command == "" {
		return nil, errors.New("mcp: command cannot be empty")
	}

	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	cmd := exec.Command(command, cfg.args...)
	if cfg.dir != "" {
		cmd.Dir = cfg.dir
	}
	if len(cfg.env) > 0 {
		cmd.Env = append(os.Environ(), cfg.env...)
	}

	client := newClient(cfg)
	transport := &sdkmcp.CommandTransport{Command: cmd}
	if err := client.connect(ctx, cfg, transport); err != nil {
		return nil, err
	}
	return client, nil
}

// NewStreamableClient connects to an MCP server over the streamable HTTP
// transport.
func NewStreamableClient(ctx context.Context, endpoint string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("mcp: endpoint cannot be empty")
	}

	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	client := newClient(cfg)
	transport := &sdkmcp.StreamableClientTransport{Endpoint: endpoint}
	if cfg.httpClient != nil {
		transport.HTTPClient = cfg.httpClient
	}
	if err := client.connect(ctx, cfg, transport); err != nil {
		return nil, err
	}
	return client, nil
}

func newClient(cfg clientConfig) *Client {
	return &Client{
		logger: cfg.logger,
		done:   make(chan struct{}),
	}
}

func (c *Client) connect(ctx context.Context, cfg clientConfig, transport sdkmcp.Transport) error {
	clientOpts := &sdkmcp.ClientOptions{
		LoggingMessageHandler: func(_ context.Context, req *sdkmcp.LoggingMessageRequest) {
			if req != nil && req.Params != nil {
				c.logger.Debug("mcp server log", "level", string(req.Params.Level), "data", req.Params.Data)
			}
		},
		KeepAlive: cfg.keepAlive,
	}
	c.sdkClient = sdkmcp.NewClient(&cfg.implementation, clientOpts)

	session, err := c.sdkClient.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp: connect failed: %w", err)
	}
	c.session = session

	go c.monitorSession()
	return nil
}

// Close terminates the MCP client and underlying transport.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.session != nil {
			c.closeErr = c.session.Close()
		}
		close(c.done)
	})
	return c.closeErr
}

// Done returns a channel that is closed when the client shuts down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) monitorSession() {
	if c.session == nil {
		close(c.done)
		return
	}
	if err := c.session.Wait(); err != nil && !errors.Is(err, sdkmcp.ErrConnectionClosed) {
		c.logger.Warn("mcp session ended with error", "error", err)
	}
	_ = c.Close()
}
