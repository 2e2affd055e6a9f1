package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client talks to a running mcpanel daemon over its HTTP API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	tls     *tls.Config
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Token    string // static bearer token, when the panel requires one
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8080/api",
		// a graceful stop waits up to the server's stop timeout
		Timeout: 90 * time.Second,
	}
}

// New creates a new mcpanel API client.
func New(config Config) (*Client, error) {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	var tlsConfig *tls.Config
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		var err error
		if tlsConfig, err = setupClientTLS(config); err != nil {
			return nil, fmt.Errorf("TLS setup failed: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		token:   config.Token,
		tls:     tlsConfig,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}, nil
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/servers", nil)
	if err != nil {
		return false
	}
	c.authorize(req)
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// ListServers maps every known server id to its status.
func (c *Client) ListServers(ctx context.Context) (map[int64]string, error) {
	var raw map[string]string
	if err := c.do(ctx, http.MethodGet, "/servers", nil, &raw); err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad server id %q in reply", k)
		}
		out[id] = v
	}
	return out, nil
}

func (c *Client) Server(ctx context.Context, id int64) (ServerState, error) {
	var st ServerState
	err := c.do(ctx, http.MethodGet, serverPath(id, ""), nil, &st)
	return st, err
}

func (c *Client) Start(ctx context.Context, id int64) (ServerState, error) {
	c.logger.Debug("Starting server", "server", id)
	var st ServerState
	err := c.do(ctx, http.MethodPost, serverPath(id, "/start"), nil, &st)
	return st, err
}

// Stop stops a server gracefully, or kills it at once when force is set.
func (c *Client) Stop(ctx context.Context, id int64, force bool) error {
	c.logger.Debug("Stopping server", "server", id, "force", force)
	return c.do(ctx, http.MethodPost, serverPath(id, "/stop"), map[string]bool{"force": force}, nil)
}

func (c *Client) Restart(ctx context.Context, id int64) (ServerState, error) {
	c.logger.Debug("Restarting server", "server", id)
	var st ServerState
	err := c.do(ctx, http.MethodPost, serverPath(id, "/restart"), nil, &st)
	return st, err
}

// SendCommand writes one line to the server console.
func (c *Client) SendCommand(ctx context.Context, id int64, command string) error {
	return c.do(ctx, http.MethodPost, serverPath(id, "/command"), map[string]string{"command": command}, nil)
}

func (c *Client) Resources(ctx context.Context, id int64) (Resources, error) {
	var r Resources
	err := c.do(ctx, http.MethodGet, serverPath(id, "/resources"), nil, &r)
	return r, err
}

// Console returns the buffered console lines of a server.
func (c *Client) Console(ctx context.Context, id int64) ([]string, error) {
	var resp struct {
		Lines []string `json:"lines"`
	}
	err := c.do(ctx, http.MethodGet, serverPath(id, "/console"), nil, &resp)
	return resp.Lines, err
}

// Events returns the lifecycle history of a server, newest first. A zero
// limit uses the panel's default.
func (c *Client) Events(ctx context.Context, id int64, limit int) ([]Event, error) {
	p := serverPath(id, "/events")
	if limit > 0 {
		p += "?limit=" + strconv.Itoa(limit)
	}
	var evs []Event
	err := c.do(ctx, http.MethodGet, p, nil, &evs)
	return evs, err
}

func (c *Client) Schedules(ctx context.Context) ([]Schedule, error) {
	var out []Schedule
	err := c.do(ctx, http.MethodGet, "/schedules", nil, &out)
	return out, err
}

// ServerSchedules lists the stored schedules of one server, disabled ones
// included.
func (c *Client) ServerSchedules(ctx context.Context, id int64) ([]Schedule, error) {
	var out []Schedule
	err := c.do(ctx, http.MethodGet, serverPath(id, "/schedules"), nil, &out)
	return out, err
}

// AddSchedule stores and activates a schedule for spec.ServerID.
func (c *Client) AddSchedule(ctx context.Context, spec ScheduleSpec) (ScheduleSpec, error) {
	c.logger.Debug("Adding schedule", "server", spec.ServerID, "type", spec.Type, "cron", spec.Cron)
	var out ScheduleSpec
	err := c.do(ctx, http.MethodPost, serverPath(spec.ServerID, "/schedules"), scheduleBody(spec), &out)
	return out, err
}

// UpdateSchedule replaces schedule spec.ID of spec.ServerID.
func (c *Client) UpdateSchedule(ctx context.Context, spec ScheduleSpec) (ScheduleSpec, error) {
	var out ScheduleSpec
	err := c.do(ctx, http.MethodPut, schedulePath(spec.ServerID, spec.ID, ""), scheduleBody(spec), &out)
	return out, err
}

func (c *Client) DeleteSchedule(ctx context.Context, serverID, id int64) error {
	c.logger.Debug("Deleting schedule", "server", serverID, "schedule", id)
	return c.do(ctx, http.MethodDelete, schedulePath(serverID, id, ""), nil, nil)
}

// RunSchedule executes an active schedule immediately.
func (c *Client) RunSchedule(ctx context.Context, serverID, id int64) error {
	return c.do(ctx, http.MethodPost, schedulePath(serverID, id, "/run"), nil, nil)
}

// DeleteServer stops a server and removes it with its schedules.
func (c *Client) DeleteServer(ctx context.Context, id int64) error {
	c.logger.Debug("Deleting server", "server", id)
	return c.do(ctx, http.MethodDelete, serverPath(id, ""), nil, nil)
}

func scheduleBody(spec ScheduleSpec) map[string]any {
	return map[string]any{
		"name":    spec.Name,
		"type":    spec.Type,
		"cron":    spec.Cron,
		"command": spec.Command,
		"message": spec.Message,
		"enabled": spec.Enabled,
	}
}

// StreamConsole follows the live console of a server, calling fn for every
// frame until ctx is cancelled or the connection drops. Frames sent on the
// returned channel are forwarded to the server as commands.
func (c *Client) StreamConsole(ctx context.Context, id int64, fn func(ConsoleMessage)) (chan<- string, <-chan error, error) {
	u, err := url.Parse(c.baseURL + serverPath(id, "/ws"))
	if err != nil {
		return nil, nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second, TLSClientConfig: c.tls, Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		if resp != nil {
			return nil, nil, decodeError(resp)
		}
		return nil, nil, fmt.Errorf("dial console: %w", err)
	}

	commands := make(chan string)
	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cmd, ok := <-commands:
				if !ok {
					return
				}
				if err := conn.WriteJSON(ConsoleMessage{Type: "command", Command: cmd}); err != nil {
					return
				}
			}
		}
	}()
	go func() {
		defer close(done)
		for {
			var m ConsoleMessage
			if err := conn.ReadJSON(&m); err != nil {
				if ctx.Err() != nil {
					done <- ctx.Err()
				} else {
					done <- err
				}
				return
			}
			fn(m)
		}
	}()
	return commands, done, nil
}

func serverPath(id int64, suffix string) string {
	return "/servers/" + strconv.FormatInt(id, 10) + suffix
}

func schedulePath(serverID, id int64, suffix string) string {
	return serverPath(serverID, "/schedules/"+strconv.FormatInt(id, 10)+suffix)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// do sends body as JSON when non-nil and decodes a 2xx reply into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var er ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&er)
	return &APIError{StatusCode: resp.StatusCode, Message: er.Error}
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	// Handle insecure mode (skip verification)
	if config.Insecure {
		// #nosec G402 explicit opt-in for self-signed panels
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			// #nosec G402 explicit opt-in
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}
