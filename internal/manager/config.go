package manager

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

// Launch defaults.
const (
	DefaultJavaPath  = "java"
	DefaultMemoryMin = "512M"
	DefaultMemoryMax = "2G"
	DefaultJarFile   = "server.jar"
)

// LaunchConfig describes how to launch one server. A snapshot is taken at
// every start; later edits only apply to the next start.
type LaunchConfig struct {
	ID          int64    `json:"id" mapstructure:"id"`
	Name        string   `json:"name" mapstructure:"name"`
	JavaPath    string   `json:"java_path" mapstructure:"java_path"`
	ServerDir   string   `json:"server_dir" mapstructure:"server_dir"`
	MemoryMin   string   `json:"memory_min" mapstructure:"memory_min"`
	MemoryMax   string   `json:"memory_max" mapstructure:"memory_max"`
	JVMArgs     []string `json:"jvm_args" mapstructure:"jvm_args"`
	JarFile     string   `json:"jar_file" mapstructure:"jar_file"`
	AutoStart   bool     `json:"auto_start" mapstructure:"auto_start"`
	AutoRestart bool     `json:"auto_restart" mapstructure:"auto_restart"`
}

// WithDefaults fills empty launch fields.
func (c LaunchConfig) WithDefaults() LaunchConfig {
	if strings.TrimSpace(c.JavaPath) == "" {
		c.JavaPath = DefaultJavaPath
	}
	if strings.TrimSpace(c.MemoryMin) == "" {
		c.MemoryMin = DefaultMemoryMin
	}
	if strings.TrimSpace(c.MemoryMax) == "" {
		c.MemoryMax = DefaultMemoryMax
	}
	if strings.TrimSpace(c.JarFile) == "" {
		c.JarFile = DefaultJarFile
	}
	return c
}

// Args returns the JVM argument vector:
// -Xms<min> -Xmx<max> [jvm args...] -jar <jar> nogui
func (c LaunchConfig) Args() []string {
	c = c.WithDefaults()
	args := make([]string, 0, len(c.JVMArgs)+5)
	args = append(args, "-Xms"+c.MemoryMin, "-Xmx"+c.MemoryMax)
	for _, a := range c.JVMArgs {
		if a = strings.TrimSpace(a); a != "" {
			args = append(args, a)
		}
	}
	return append(args, "-jar", c.JarFile, "nogui")
}

// JarPath is the jar location inside the server directory.
func (c LaunchConfig) JarPath() string {
	c = c.WithDefaults()
	if filepath.IsAbs(c.JarFile) {
		return c.JarFile
	}
	return filepath.Join(c.ServerDir, c.JarFile)
}

func (c LaunchConfig) Validate() error {
	if strings.TrimSpace(c.ServerDir) == "" {
		return errors.New("server_dir is required")
	}
	if strings.TrimSpace(c.WithDefaults().JarFile) == "" {
		return errors.New("jar_file is required")
	}
	return nil
}

// DisplayName is Name, or "server-<id>" when unnamed.
func (c LaunchConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return "server-" + label(c.ID)
}

// ConfigSource resolves launch configurations by server id. Implementations
// return an error wrapping ErrServerNotFound for unknown ids.
type ConfigSource interface {
	LaunchConfig(ctx context.Context, id int64) (LaunchConfig, error)
}

// Lister is an optional ConfigSource extension listing every known id.
type Lister interface {
	ServerIDs(ctx context.Context) ([]int64, error)
}

// AutoStarter is an optional ConfigSource extension returning the configs
// flagged for start at boot.
type AutoStarter interface {
	AutoStartConfigs(ctx context.Context) ([]LaunchConfig, error)
}

// StaticSource is an in-memory ConfigSource.
type StaticSource map[int64]LaunchConfig

func (s StaticSource) LaunchConfig(_ context.Context, id int64) (LaunchConfig, error) {
	c, ok := s[id]
	if !ok {
		return LaunchConfig{}, ErrServerNotFound
	}
	c.ID = id
	return c, nil
}

func (s StaticSource) ServerIDs(context.Context) ([]int64, error) {
	ids := make([]int64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s StaticSource) AutoStartConfigs(context.Context) ([]LaunchConfig, error) {
	var out []LaunchConfig
	for id, c := range s {
		if c.AutoStart {
			c.ID = id
			out = append(out, c)
		}
	}
	return out, nil
}

// ReadyFunc reports whether a stdout line marks the server as ready.
type ReadyFunc func(line string) bool

// MarkersReady matches lines containing every marker.
func MarkersReady(markers ...string) ReadyFunc {
	return func(line string) bool {
		if len(markers) == 0 {
			return false
		}
		for _, m := range markers {
			if !strings.Contains(line, m) {
				return false
			}
		}
		return true
	}
}

// MinecraftReady matches the vanilla "Done (12.3s)! For help, type "help"" banner.
// A plugin printing the same text will also trigger it.
var MinecraftReady = MarkersReady("Done (", "For help,")
