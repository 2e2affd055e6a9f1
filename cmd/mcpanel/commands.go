package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/loykin/mcpanel/internal/config"
	mtls "github.com/loykin/mcpanel/internal/tls"
	"github.com/loykin/mcpanel/pkg/client"
)

const defaultAPIURL = "http://127.0.0.1:8080/api"

// command binds client subcommands to their output and saved session.
type command struct {
	global   *GlobalFlags
	sessions *SessionManager
	out      io.Writer
	in       io.Reader
}

// newClient resolves the daemon from flags, then the saved session, then
// the --config file, then the local default.
func (c command) newClient(f APIFlags) (*client.Client, error) {
	cfg := client.Config{
		BaseURL:  f.APIUrl,
		Token:    f.APIToken,
		Timeout:  f.APITimeout,
		Insecure: f.Insecure,
	}
	if f.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{Enabled: true, CACert: f.CACert}
	}
	if cfg.BaseURL == "" && c.sessions != nil {
		if s, err := c.sessions.LoadSession(); err == nil && s != nil {
			cfg.BaseURL = s.ServerURL
			if cfg.Token == "" {
				cfg.Token = s.Token
			}
		}
	}
	if cfg.BaseURL == "" && c.global != nil && c.global.ConfigPath != "" {
		dc, err := config.Load(c.global.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
		cfg.BaseURL = apiURLFromConfig(*dc)
		if cfg.Token == "" {
			cfg.Token = dc.Server.Token
		}
		if t := dc.Server.TLS; t != nil && t.Enabled && cfg.TLS == nil && !cfg.Insecure {
			cfg.TLS = &client.TLSClientConfig{Enabled: true, CACert: mtls.CertPath(*t)}
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAPIURL
	}
	return client.New(cfg)
}

func (c command) reachableClient(ctx context.Context, f APIFlags) (*client.Client, error) {
	cl, err := c.newClient(f)
	if err != nil {
		return nil, err
	}
	if !cl.IsReachable(ctx) {
		return nil, errors.New("daemon not reachable - please start daemon first with 'mcpanel serve'")
	}
	return cl, nil
}

func (c command) Servers(ctx context.Context, f APIFlags) error {
	cl, err := c.reachableClient(ctx, f)
	if err != nil {
		return err
	}
	list, err := cl.ListServers(ctx)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(list))
	for id := range list {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var states []client.ServerState
	for _, id := range ids {
		st, err := cl.Server(ctx, id)
		if err != nil {
			return err
		}
		states = append(states, st)
	}
	if f.JSON {
		printJSON(c.out, states)
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tPID\tUPTIME\tRESTARTS")
	for _, st := range states {
		pid := "-"
		if st.PID > 0 {
			pid = fmt.Sprint(st.PID)
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\n", st.ID, st.Name, st.Status, pid, humanUptime(st.UptimeSeconds), st.Restarts)
	}
	return tw.Flush()
}

func (c command) Status(ctx context.Context, f APIFlags, id int64) error {
	cl, err := c.reachableClient(ctx, f)
	if err != nil {
		return err
	}
	st, err := cl.Server(ctx, id)
	if err != nil {
		return err
	}
	res, err := cl.Resources(ctx, id)
	if err != nil {
		return err
	}
	if f.JSON {
		printJSON(c.out, struct {
			client.ServerState
			Resources client.Resources `json:"resources"`
		}{st, res})
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Server:\t%d (%s)\n", st.ID, st.Name)
	_, _ = fmt.Fprintf(tw, "Status:\t%s\n", st.Status)
	if st.PID > 0 {
		_, _ = fmt.Fprintf(tw, "PID:\t%d\n", st.PID)
		_, _ = fmt.Fprintf(tw, "Uptime:\t%s\n", humanUptime(st.UptimeSeconds))
		_, _ = fmt.Fprintf(tw, "CPU:\t%.1f%%\n", res.CPU)
		_, _ = fmt.Fprintf(tw, "Memory:\t%.0f MB\n", res.Memory)
	}
	_, _ = fmt.Fprintf(tw, "Restarts:\t%d\n", st.Restarts)
	if st.LastExitCode != 0 {
		_, _ = fmt.Fprintf(tw, "Last exit code:\t%d\n", st.LastExitCode)
	}
	if st.LastError != "" {
		_, _ = fmt.Fprintf(tw, "Last error:\t%s\n", st.LastError)
	}
	return tw.Flush()
}

func (c command) Start(ctx context.Context, f APIFlags, id int64) error {
	cl, err := c.reachableClient(ctx, f)
	if err != nil {
		return err
	}
	st, err := cl.Start(ctx, id)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "Started server %d (pid %d)\n", id, st.PID)
	return nil
}

func (c command) Stop(ctx context.Context, f APIFlags, sf StopFlags, id int64) error {
	cl, err := c.reachableClient(ctx, f)
	if err != nil {
		return err
	}
	if err := cl.Stop(ctx, id, sf.Force); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "Stopped server %d\n", id)
	return nil
}

func (c command) Restart(ctx context.Context, f APIFlags, id int64) error {
	cl, err := c.reachableClient(ctx, f)
	if err != nil {
		return err
	}
	st, err := cl.Restart(ctx, id)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "Restarted server %d (pid %d)\n", id, st.PID)
	return nil
}

func (c command) Command(ctx context.Context, f APIFlags, id int64, text string) error {
	cl, err := c.reachableClient(ctx, f)
	if err != nil {
		return err
	}
	return cl.SendCommand(ctx, id, text)
}

// Console prints the buffered console, or with Follow streams it and sends
// every stdin line as a command until ctx ends or stdin closes.
func (c command) Console(ctx context.Context, f APIFlags, cf ConsoleFlags, id int64) error {
	cl, err := c.reachableClient(ctx, f)
	if err != nil {
		return err
	}
	if !cf.Follow {
		lines, err := cl.Console(ctx, id)
		if err != nil {
			return err
		}
		for _, l := range lines {
			_, _ = fmt.Fprintln(c.out, l)
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	commands, done, err := cl.StreamConsole(ctx, id, func(m client.ConsoleMessage) {
		switch m.Type {
		case "buffer":
			for _, l := range m.Lines {
				_, _ = fmt.Fprintln(c.out, l)
			}
		case "console":
			_, _ = fmt.Fprintln(c.out, m.Line)
		case "error":
			_, _ = fmt.Fprintln(c.out, "[mcpanel] "+m.Error)
		}
	})
	if err != nil {
		return err
	}
	if c.in != nil {
		go func() {
			sc := bufio.NewScanner(c.in)
			for sc.Scan() {
				line := strings.TrimSpace(sc.Text())
				if line == "" {
					continue
				}
				select {
				case commands <- line:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	err = <-done
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c command) Events(ctx context.Context, f APIFlags, ef EventsFlags, id int64) error {
	cl, err := c.reachableClient(ctx, f)
	if err != nil {
		return err
	}
	evs, err := cl.Events(ctx, id, ef.Limit)
	if err != nil {
		return err
	}
	if f.JSON {
		printJSON(c.out, evs)
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tEVENT\tPID\tEXIT\tREASON")
	for _, e := range evs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", e.OccurredAt.Local().Format(time.DateTime), e.Type, e.PID, e.ExitCode, e.Reason)
	}
	return tw.Flush()
}

// Schedules lists the active schedules, or every stored schedule of one
// server when id is set.
func (c command) Schedules(ctx context.Context, f APIFlags, id int64) error {
	cl, err := c.reachableClient(ctx, f)
	if err != nil {
		return err
	}
	var list []client.Schedule
	if id > 0 {
		list, err = cl.ServerSchedules(ctx, id)
	} else {
		list, err = cl.Schedules(ctx)
	}
	if err != nil {
		return err
	}
	if f.JSON {
		printJSON(c.out, list)
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tSERVER\tNAME\tTYPE\tCRON\tNEXT")
	for _, s := range list {
		next := "disabled"
		if !s.Next.IsZero() {
			next = s.Next.Local().Format(time.DateTime)
		}
		_, _ = fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n", s.Schedule.ID, s.Schedule.ServerID, s.Schedule.Name, s.Schedule.Type, s.Schedule.Cron, next)
	}
	return tw.Flush()
}

func (c command) AddSchedule(ctx context.Context, f APIFlags, sf ScheduleFlags, id int64) error {
	cl, err := c.reachableClient(ctx, f)
	if err != nil {
		return err
	}
	sc, err := cl.AddSchedule(ctx, client.ScheduleSpec{
		ServerID: id,
		Name:     sf.Name,
		Type:     sf.Type,
		Cron:     sf.Cron,
		Command:  sf.Command,
		Message:  sf.Message,
		Enabled:  !sf.Disabled,
	})
	if err != nil {
		return err
	}
	if f.JSON {
		printJSON(c.out, sc)
		return nil
	}
	_, _ = fmt.Fprintf(c.out, "Added schedule %d to server %d\n", sc.ID, id)
	return nil
}

func (c command) DeleteSchedule(ctx context.Context, f APIFlags, serverID, id int64) error {
	cl, err := c.reachableClient(ctx, f)
	if err != nil {
		return err
	}
	if err := cl.DeleteSchedule(ctx, serverID, id); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "Deleted schedule %d\n", id)
	return nil
}

func (c command) RunSchedule(ctx context.Context, f APIFlags, serverID, id int64) error {
	cl, err := c.reachableClient(ctx, f)
	if err != nil {
		return err
	}
	if err := cl.RunSchedule(ctx, serverID, id); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "Ran schedule %d\n", id)
	return nil
}

// Login checks the daemon answers with the given token and remembers both.
func (c command) Login(ctx context.Context, f APIFlags) error {
	if f.APIUrl == "" {
		f.APIUrl = defaultAPIURL
	}
	cl, err := command{global: c.global, out: c.out}.reachableClient(ctx, f)
	if err != nil {
		return err
	}
	if _, err := cl.ListServers(ctx); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if err := c.sessions.SaveSession(&Session{ServerURL: f.APIUrl, Token: f.APIToken, SavedAt: time.Now().UTC()}); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	_, _ = fmt.Fprintf(c.out, "Logged in to %s\n", f.APIUrl)
	return nil
}

func (c command) Logout() error {
	if err := c.sessions.ClearSession(); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, "Logged out")
	return nil
}
