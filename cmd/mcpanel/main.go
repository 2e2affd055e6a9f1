package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/mcpanel"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot wires every subcommand onto the root command.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{}
	stopFlags := &StopFlags{}
	consoleFlags := &ConsoleFlags{}
	eventsFlags := &EventsFlags{}
	scheduleFlags := &ScheduleFlags{}

	root := createRootCommand(globalFlags, apiFlags)
	mc := command{global: globalFlags, sessions: NewSessionManager(), out: root.OutOrStdout(), in: os.Stdin}

	root.AddCommand(
		createServeCommand(globalFlags),
		createServersCommand(&mc, apiFlags),
		createStatusCommand(&mc, apiFlags),
		createStartCommand(&mc, apiFlags),
		createStopCommand(&mc, apiFlags, stopFlags),
		createRestartCommand(&mc, apiFlags),
		createCmdCommand(&mc, apiFlags),
		createConsoleCommand(&mc, apiFlags, consoleFlags),
		createEventsCommand(&mc, apiFlags, eventsFlags),
		createSchedulesCommand(&mc, apiFlags, scheduleFlags),
		createLoginCommand(&mc, apiFlags),
		createLogoutCommand(&mc),
	)
	return root
}

// createRootCommand registers the flags every client command shares.
func createRootCommand(flags *GlobalFlags, api *APIFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "mcpanel",
		Short: "Minecraft server supervisor",
		Long: `mcpanel runs Minecraft servers under supervision and controls them over
an HTTP API, locally or on a remote host.

Examples:
  mcpanel serve --config=mcpanel.toml   # Start the daemon
  mcpanel servers                       # List servers
  mcpanel start 1
  mcpanel cmd 1 "say hello"
  mcpanel console 1 --follow
  mcpanel status 1 --api-url=https://host:8080/api --token=...`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	pf.StringVar(&api.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080/api)")
	pf.StringVar(&api.APIToken, "token", "", "bearer token of the daemon")
	pf.DurationVar(&api.APITimeout, "api-timeout", 90*time.Second, "request timeout")
	pf.BoolVar(&api.Insecure, "insecure", false, "skip TLS certificate verification")
	pf.StringVar(&api.CACert, "ca-cert", "", "CA certificate used to verify the daemon")
	pf.BoolVar(&api.JSON, "json", false, "print JSON instead of tables")
	return root
}

// withServerID adapts a command taking a server id as its first argument.
func withServerID(fn func(ctx context.Context, id int64, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := parseServerID(args[0])
		if err != nil {
			return err
		}
		return fn(cmd.Context(), id, args[1:])
	}
}

func createServersCommand(mc *command, api *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "servers",
		Aliases: []string{"ls", "list"},
		Short:   "List managed servers",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mc.Servers(cmd.Context(), *api)
		},
	}
}

func createStatusCommand(mc *command, api *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show status and resource usage of a server",
		Args:  cobra.ExactArgs(1),
		RunE: withServerID(func(ctx context.Context, id int64, _ []string) error {
			return mc.Status(ctx, *api, id)
		}),
	}
}

func createStartCommand(mc *command, api *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Start a server",
		Args:  cobra.ExactArgs(1),
		RunE: withServerID(func(ctx context.Context, id int64, _ []string) error {
			return mc.Start(ctx, *api, id)
		}),
	}
}

func createStopCommand(mc *command, api *APIFlags, sf *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a server",
		Long: `Stop a server with the "stop" console command, killing it when it does
not exit within the stop timeout. --force kills it right away.`,
		Args: cobra.ExactArgs(1),
		RunE: withServerID(func(ctx context.Context, id int64, _ []string) error {
			return mc.Stop(ctx, *api, *sf, id)
		}),
	}
	cmd.Flags().BoolVar(&sf.Force, "force", false, "kill the server without a graceful stop")
	return cmd
}

func createRestartCommand(mc *command, api *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <id>",
		Short: "Restart a server",
		Args:  cobra.ExactArgs(1),
		RunE: withServerID(func(ctx context.Context, id int64, _ []string) error {
			return mc.Restart(ctx, *api, id)
		}),
	}
}

func createCmdCommand(mc *command, api *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cmd <id> <command>",
		Short: "Send a console command to a running server",
		Example: `  mcpanel cmd 1 "whitelist add Steve"
  mcpanel cmd 1 save-all`,
		Args: cobra.MinimumNArgs(2),
		RunE: withServerID(func(ctx context.Context, id int64, rest []string) error {
			return mc.Command(ctx, *api, id, joinArgs(rest))
		}),
	}
}

func createConsoleCommand(mc *command, api *APIFlags, cf *ConsoleFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "console <id>",
		Short: "Print the console of a server",
		Long: `Print the buffered console of a server. With --follow the console is
streamed live and every line typed on stdin is sent as a command.`,
		Args: cobra.ExactArgs(1),
		RunE: withServerID(func(ctx context.Context, id int64, _ []string) error {
			return mc.Console(ctx, *api, *cf, id)
		}),
	}
	cmd.Flags().BoolVarP(&cf.Follow, "follow", "f", false, "stream the console")
	return cmd
}

func createEventsCommand(mc *command, api *APIFlags, ef *EventsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <id>",
		Short: "Show recent lifecycle events of a server",
		Args:  cobra.ExactArgs(1),
		RunE: withServerID(func(ctx context.Context, id int64, _ []string) error {
			return mc.Events(ctx, *api, *ef, id)
		}),
	}
	cmd.Flags().IntVar(&ef.Limit, "limit", 20, "number of events")
	return cmd
}

func createSchedulesCommand(mc *command, api *APIFlags, sf *ScheduleFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules [server-id]",
		Short: "List scheduled tasks",
		Long: `List the active scheduled tasks of every server, or all stored tasks of
one server including disabled ones.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if len(args) == 1 {
				var err error
				if id, err = parseServerID(args[0]); err != nil {
					return err
				}
			}
			return mc.Schedules(cmd.Context(), *api, id)
		},
	}

	add := &cobra.Command{
		Use:   "add <server-id>",
		Short: "Create a scheduled task",
		Example: `  mcpanel schedules add 1 --type restart --cron "0 4 * * *" --name nightly
  mcpanel schedules add 1 --type message --cron @hourly --message "Vote for us!"`,
		Args: cobra.ExactArgs(1),
		RunE: withServerID(func(ctx context.Context, id int64, _ []string) error {
			return mc.AddSchedule(ctx, *api, *sf, id)
		}),
	}
	add.Flags().StringVar(&sf.Name, "name", "", "schedule name")
	add.Flags().StringVar(&sf.Type, "type", "", "restart, command or message")
	add.Flags().StringVar(&sf.Cron, "cron", "", "five-field cron expression or descriptor such as @daily")
	add.Flags().StringVar(&sf.Command, "command", "", "console command for type command")
	add.Flags().StringVar(&sf.Message, "message", "", "broadcast text for type message")
	add.Flags().BoolVar(&sf.Disabled, "disabled", false, "store the schedule without activating it")
	_ = add.MarkFlagRequired("type")
	_ = add.MarkFlagRequired("cron")

	rm := &cobra.Command{
		Use:     "rm <server-id> <schedule-id>",
		Aliases: []string{"delete"},
		Short:   "Delete a scheduled task",
		Args:    cobra.ExactArgs(2),
		RunE: withScheduleID(func(ctx context.Context, serverID, id int64) error {
			return mc.DeleteSchedule(ctx, *api, serverID, id)
		}),
	}

	run := &cobra.Command{
		Use:   "run <server-id> <schedule-id>",
		Short: "Run a scheduled task now",
		Args:  cobra.ExactArgs(2),
		RunE: withScheduleID(func(ctx context.Context, serverID, id int64) error {
			return mc.RunSchedule(ctx, *api, serverID, id)
		}),
	}

	cmd.AddCommand(add, rm, run)
	return cmd
}

func withScheduleID(fn func(ctx context.Context, serverID, id int64) error) func(*cobra.Command, []string) error {
	return withServerID(func(ctx context.Context, serverID int64, rest []string) error {
		id, err := parseScheduleID(rest[0])
		if err != nil {
			return err
		}
		return fn(ctx, serverID, id)
	})
}

func createLoginCommand(mc *command, api *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "login",
		Short:   "Remember a daemon URL and token",
		Example: `  mcpanel login --api-url=https://mc.example.com:8080/api --token=secret`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mc.Login(cmd.Context(), *api)
		},
	}
}

func createLogoutCommand(mc *command) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved daemon session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mc.Logout()
		},
	}
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the mcpanel daemon",
		Long: `Start the daemon that supervises the configured servers and serves the API.
Without a config file the defaults apply and MCPANEL_* variables override them.

Examples:
  mcpanel serve                             # Defaults and environment only
  mcpanel serve mcpanel.toml
  mcpanel serve --config=mcpanel.toml --daemonize --pidfile=/run/mcpanel.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			return runServe(cmd.Context(), serveFlags)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon pid to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file")
	return cmd
}

func runServe(ctx context.Context, flags *ServeFlags) error {
	cfg, err := mcpanel.LoadConfig(flags.ConfigPath)
	if err != nil {
		return err
	}
	if flags.Daemonize {
		return daemonize(flags.LogFile)
	}
	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}
	ctx, stop := signal.NotifyContext(ctx, shutdownSignals...)
	defer stop()

	p, err := mcpanel.New(ctx, *cfg, os.Stderr)
	if err != nil {
		return err
	}
	return p.Run(ctx)
}
