package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "mcpanel.toml")
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	return p
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", c.Server.Listen)
	assert.Equal(t, "/api", c.Server.BasePath)
	assert.Equal(t, "mcpanel.db", c.Store.DSN)
	assert.Equal(t, 30*time.Second, c.Supervisor.StopTimeout)
	assert.Equal(t, 10*time.Second, c.Supervisor.RestartDelay)
	assert.Equal(t, 2*time.Second, c.Supervisor.RestartSettle)
	assert.Equal(t, time.Second, c.Supervisor.StartupGrace)
	assert.Zero(t, c.Supervisor.StartTimeout)
	assert.Equal(t, 5*time.Second, c.Metrics.SampleInterval)
	assert.True(t, c.Metrics.Enabled)
	assert.True(t, c.History.InStore)
	assert.True(t, c.UseOSEnv)
	assert.True(t, c.Alerts.OnCrash)
	assert.Empty(t, c.Servers)
}

func TestLoadFull(t *testing.T) {
	p := writeTOML(t, `
[server]
listen = "0.0.0.0:9090"
token = "s3cret"
  [server.tls]
  enabled = true
  dir = "/etc/mcpanel/tls"
  auto_generate = true

[store]
dsn = "postgres://panel@db/panel"

[log]
level = "debug"
format = "json"
file = "/var/log/mcpanel/mcpanel.log"
max_size_mb = 50
console_dir = "/var/log/mcpanel/console"

[supervisor]
stop_timeout = "45s"
restart_delay = "15s"
start_timeout = "5m"
ready_markers = ["Done (", "For help,"]

[alerts]
discord_webhook = "https://discord.example/hook"
on_restart = false

[history]
sinks = ["clickhouse://localhost:9000/default?table=server_events"]

[[servers]]
id = 1
name = "survival"
server_dir = "/srv/mc/survival"
memory_max = "6G"
jvm_args = ["-XX:+UseG1GC", "-XX:MaxGCPauseMillis=200"]
auto_start = true
auto_restart = true

[[servers]]
id = 2
name = "creative"
server_dir = "/srv/mc/creative"
jar_file = "paper.jar"

[[schedules]]
id = 1
server_id = 1
name = "nightly restart"
type = "restart"
cron = "0 4 * * *"
enabled = true
`)
	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", c.Server.Listen)
	assert.Equal(t, "s3cret", c.Server.Token)
	require.NotNil(t, c.Server.TLS)
	assert.True(t, c.Server.TLS.AutoGenerate)
	assert.Equal(t, "postgres://panel@db/panel", c.Store.DSN)

	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, "/var/log/mcpanel/mcpanel.log", c.Log.File.Path)
	assert.Equal(t, 50, c.Log.File.MaxSizeMB)
	assert.Equal(t, "/var/log/mcpanel/console", c.Log.ConsoleDir)

	assert.Equal(t, 45*time.Second, c.Supervisor.StopTimeout)
	assert.Equal(t, 15*time.Second, c.Supervisor.RestartDelay)
	assert.Equal(t, 5*time.Minute, c.Supervisor.StartTimeout)
	assert.Equal(t, []string{"Done (", "For help,"}, c.Supervisor.ReadyMarkers)

	assert.Equal(t, "https://discord.example/hook", c.Alerts.WebhookURL)
	assert.True(t, c.Alerts.OnCrash)
	assert.False(t, c.Alerts.OnRestart)
	assert.Len(t, c.History.Sinks, 1)

	require.Len(t, c.Servers, 2)
	s := c.Servers[0]
	assert.Equal(t, int64(1), s.ID)
	assert.Equal(t, "6G", s.MemoryMax)
	assert.Equal(t, []string{"-XX:+UseG1GC", "-XX:MaxGCPauseMillis=200"}, s.JVMArgs)
	assert.True(t, s.AutoStart)
	assert.True(t, s.AutoRestart)
	assert.Equal(t, "paper.jar", c.Servers[1].JarFile)

	require.Len(t, c.Schedules, 1)
	assert.Equal(t, "0 4 * * *", c.Schedules[0].Cron)
	assert.Equal(t, int64(1), c.Schedules[0].ServerID)
	assert.True(t, c.Schedules[0].Enabled)
}

func TestEnvOverridesFile(t *testing.T) {
	p := writeTOML(t, `
[server]
listen = "127.0.0.1:1"
`)
	t.Setenv("MCPANEL_SERVER_LISTEN", "127.0.0.1:7777")
	t.Setenv("MCPANEL_SUPERVISOR_STOP_TIMEOUT", "1m")
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", c.Server.Listen)
	assert.Equal(t, time.Minute, c.Supervisor.StopTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"zero id": `
[[servers]]
server_dir = "/a"
`,
		"duplicate id": `
[[servers]]
id = 1
server_dir = "/a"
[[servers]]
id = 1
server_dir = "/b"
`,
		"missing dir": `
[[servers]]
id = 3
`,
		"schedule without cron": `
[[schedules]]
id = 1
server_id = 1
type = "restart"
`,
		"schedule without id": `
[[schedules]]
server_id = 1
type = "restart"
cron = "0 4 * * *"
`,
		"backup schedule": `
[[schedules]]
id = 2
server_id = 1
type = "backup"
cron = "0 4 * * *"
`,
		"tls half configured": `
[server.tls]
enabled = true
cert_file = "/a.crt"
`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeTOML(t, data))
			assert.Error(t, err)
		})
	}
}

func TestChildEnvMerge(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("JAVA_HOME=/opt/jdk\n#comment\nCHAIN=file\n"), 0o644))
	t.Setenv("OS_ONLY", "osv")
	t.Setenv("CHAIN", "os")

	c := &Config{UseOSEnv: true, EnvFiles: []string{dotenv}, Env: []string{"TOP=tv", "CHAIN=top"}}
	pairs, err := c.ChildEnv()
	require.NoError(t, err)
	m := toMap(pairs)
	assert.Equal(t, "osv", m["OS_ONLY"])
	assert.Equal(t, "/opt/jdk", m["JAVA_HOME"])
	assert.Equal(t, "tv", m["TOP"])
	assert.Equal(t, "top", m["CHAIN"])

	c.UseOSEnv = false
	pairs, err = c.ChildEnv()
	require.NoError(t, err)
	_, ok := toMap(pairs)["OS_ONLY"]
	assert.False(t, ok)

	c.EnvFiles = []string{filepath.Join(dir, "missing.env")}
	_, err = c.ChildEnv()
	assert.Error(t, err)
}

func toMap(pairs []string) map[string]string {
	m := make(map[string]string)
	for _, kv := range pairs {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}
