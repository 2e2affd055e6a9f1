package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// DiscordConfig configures webhook delivery.
type DiscordConfig struct {
	WebhookURL string        `mapstructure:"discord_webhook"`
	OnCrash    bool          `mapstructure:"on_crash"`
	OnRestart  bool          `mapstructure:"on_restart"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryMax   int           `mapstructure:"retry_max"`
}

const (
	colorCrash   = 0xff6600
	colorRestart = 0x3498db
)

type embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type webhookBody struct {
	Embeds []embed `json:"embeds"`
}

// Discord posts embeds to a Discord webhook on a background goroutine.
type Discord struct {
	cfg    DiscordConfig
	client *retryablehttp.Client
	log    *slog.Logger
	wg     sync.WaitGroup
}

// NewDiscord returns a notifier; an empty webhook URL yields Nop.
func NewDiscord(cfg DiscordConfig, log *slog.Logger) Notifier {
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	c := retryablehttp.NewClient()
	c.RetryMax = cfg.RetryMax
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 5 * time.Second
	c.HTTPClient.Timeout = cfg.Timeout
	c.Logger = nil
	return &Discord{cfg: cfg, client: c, log: log}
}

func (d *Discord) NotifyCrash(serverName string, serverID int64, reason string) {
	if !d.cfg.OnCrash {
		return
	}
	msg := fmt.Sprintf("Server **%s** (ID: %d) has crashed.", serverName, serverID)
	if reason != "" {
		msg += " " + reason
	}
	d.dispatch("Server Crashed", msg, colorCrash)
}

func (d *Discord) NotifyRestart(serverName string, serverID int64, reason string) {
	if !d.cfg.OnRestart {
		return
	}
	if reason == "" {
		reason = "Manual or scheduled"
	}
	msg := fmt.Sprintf("Server **%s** (ID: %d) has restarted. Reason: %s", serverName, serverID, reason)
	d.dispatch("Server Restarted", msg, colorRestart)
}

// Wait blocks until in-flight deliveries finish.
func (d *Discord) Wait() { d.wg.Wait() }

func (d *Discord) dispatch(title, description string, color int) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout*time.Duration(d.cfg.RetryMax+1))
		defer cancel()
		if err := d.send(ctx, title, description, color); err != nil {
			d.log.Error("discord webhook failed", "title", title, "error", err)
		}
	}()
}

func (d *Discord) send(ctx context.Context, title, description string, color int) error {
	body, err := json.Marshal(webhookBody{Embeds: []embed{{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}}})
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook returned %d", resp.StatusCode)
	}
	return nil
}
