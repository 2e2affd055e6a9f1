package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/loykin/mcpanel/internal/config"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

func parseServerID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid server id %q", s)
	}
	return id, nil
}

func parseScheduleID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid schedule id %q", s)
	}
	return id, nil
}

// apiURLFromConfig derives the client URL of a daemon from its own config.
// Wildcard listen addresses are reached over loopback.
func apiURLFromConfig(c config.Config) string {
	host, port, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		return ""
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	scheme := "http"
	if c.Server.TLS != nil && c.Server.TLS.Enabled {
		scheme = "https"
	}
	base := strings.TrimRight(c.Server.BasePath, "/")
	if base != "" && !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return scheme + "://" + net.JoinHostPort(host, port) + base
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func humanUptime(seconds int64) string {
	if seconds <= 0 {
		return "-"
	}
	d, h, m := seconds/86400, seconds%86400/3600, seconds%3600/60
	switch {
	case d > 0:
		return fmt.Sprintf("%dd%dh", d, h)
	case h > 0:
		return fmt.Sprintf("%dh%dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%ds", m, seconds%60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
