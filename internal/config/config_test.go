package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "biddergw.toml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Listen != "0.0.0.0:8080" || c.Server.ConfigServer != "http://127.0.0.1:9986" {
		t.Fatalf("unexpected server defaults: %+v", c.Server)
	}
	if c.Discovery.Timeout != time.Second || c.Discovery.Interval != 50*time.Millisecond {
		t.Fatalf("unexpected discovery defaults: %+v", c.Discovery)
	}
	if !filepath.IsAbs(c.Paths.Base) || c.Paths.ExecDir != filepath.Join(c.Paths.Base, "build", "x86_64", "bin") {
		t.Fatalf("unexpected exec dir: %+v", c.Paths)
	}
	if c.Paths.ConfigDir != filepath.Join(c.Paths.ExecDir, ".config") {
		t.Fatalf("unexpected config dir: %s", c.Paths.ConfigDir)
	}
	if c.Paths.LogDir != filepath.Join(c.Paths.Base, "logs") {
		t.Fatalf("unexpected log dir: %s", c.Paths.LogDir)
	}
	if !strings.HasPrefix(c.Store.DSN, "file:///") || !strings.HasSuffix(c.Store.DSN, ".bidders") {
		t.Fatalf("store dsn should be absolute: %s", c.Store.DSN)
	}
	if c.Log.File != "" {
		t.Fatalf("log file should default to stderr, got %q", c.Log.File)
	}
}

func TestLoadFileResolvesRelativePaths(t *testing.T) {
	p := writeTOML(t, `
[server]
listen = "127.0.0.1:9000"
base_path = "/gw"
config_server = "http://agents.local:9986"

[paths]
base = "rtb"
config_dir = "conf"

[store]
dsn = "file://state"

[discovery]
timeout = "3s"
interval = "100ms"

[log]
file = "gw.log"
level = "debug"
format = "json"

[metrics]
enabled = true
listen = ":9090"

[[history]]
dsn = "sqlite://history.db"

[[history]]
dsn = "opensearch://localhost:9200/bidders"
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dir := filepath.Dir(p)
	if c.Paths.Base != filepath.Join(dir, "rtb") {
		t.Fatalf("base = %s", c.Paths.Base)
	}
	if c.Paths.ExecDir != filepath.Join(dir, "rtb", "build", "x86_64", "bin") {
		t.Fatalf("exec dir = %s", c.Paths.ExecDir)
	}
	if c.Paths.ConfigDir != filepath.Join(dir, "conf") {
		t.Fatalf("config dir = %s", c.Paths.ConfigDir)
	}
	if c.Store.DSN != "file://"+filepath.Join(dir, "state") {
		t.Fatalf("store dsn = %s", c.Store.DSN)
	}
	if c.Log.File != filepath.Join(dir, "gw.log") || c.Log.Format != "json" {
		t.Fatalf("log = %+v", c.Log)
	}
	if c.Discovery.Timeout != 3*time.Second || c.Discovery.Interval != 100*time.Millisecond {
		t.Fatalf("discovery = %+v", c.Discovery)
	}
	if !c.Metrics.Enabled || c.Metrics.Listen != ":9090" {
		t.Fatalf("metrics = %+v", c.Metrics)
	}
	if len(c.History) != 2 || c.History[1].DSN != "opensearch://localhost:9200/bidders" {
		t.Fatalf("history = %+v", c.History)
	}
	if c.History[0].DSN != "sqlite://"+filepath.Join(dir, "history.db") {
		t.Fatalf("history sqlite dsn = %s", c.History[0].DSN)
	}
}

func TestLoadResolvesRelativeSQLiteDSNs(t *testing.T) {
	cases := []struct {
		name  string
		store string
		want  func(dir string) string
	}{
		{"sqlite scheme", "sqlite://state/bidders.db", func(dir string) string {
			return "sqlite://" + filepath.Join(dir, "state", "bidders.db")
		}},
		{"bare path", "bidders.db", func(dir string) string { return filepath.Join(dir, "bidders.db") }},
		{"query kept", "sqlite://bidders.db?_pragma=busy_timeout(5000)", func(dir string) string {
			return "sqlite://" + filepath.Join(dir, "bidders.db") + "?_pragma=busy_timeout(5000)"
		}},
		{"absolute untouched", "sqlite:///var/lib/gw/bidders.db", func(string) string { return "sqlite:///var/lib/gw/bidders.db" }},
		{"memory untouched", "sqlite://:memory:", func(string) string { return "sqlite://:memory:" }},
		{"uri untouched", "file:bidders.db?mode=memory", func(string) string { return "file:bidders.db?mode=memory" }},
		{"network untouched", "postgres://gw@db:5432/gw", func(string) string { return "postgres://gw@db:5432/gw" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := writeTOML(t, `
[server]
config_server = "http://cfg:9000"

[store]
dsn = "`+tc.store+`"

[[history]]
dsn = "events.db"
`)
			c, err := Load(p)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			dir := filepath.Dir(p)
			if want := tc.want(dir); c.Store.DSN != want {
				t.Fatalf("store dsn = %s, want %s", c.Store.DSN, want)
			}
			if c.History[0].DSN != filepath.Join(dir, "events.db") {
				t.Fatalf("history dsn = %s", c.History[0].DSN)
			}
		})
	}
}

func TestEnvOverridesFile(t *testing.T) {
	p := writeTOML(t, `
[server]
listen = "127.0.0.1:9000"
`)
	t.Setenv("BIDDERGW_SERVER_LISTEN", "127.0.0.1:7000")
	t.Setenv("BIDDERGW_DISCOVERY_TIMEOUT", "2s")
	t.Setenv("BIDDERGW_PATHS_EXEC_DIR", "/opt/bidders/bin")

	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Listen != "127.0.0.1:7000" {
		t.Fatalf("listen = %s", c.Server.Listen)
	}
	if c.Discovery.Timeout != 2*time.Second {
		t.Fatalf("timeout = %s", c.Discovery.Timeout)
	}
	if c.Paths.ExecDir != "/opt/bidders/bin" {
		t.Fatalf("exec dir = %s", c.Paths.ExecDir)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := Load(writeTOML(t, "[server\nlisten=")); err == nil {
		t.Fatal("expected error for malformed toml")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"interval above timeout", "[discovery]\ntimeout = \"100ms\"\ninterval = \"1s\"\n", "discovery.interval"},
		{"zero timeout", "[discovery]\ntimeout = \"0s\"\n", "discovery.timeout"},
		{"relative config server", "[server]\nconfig_server = \"agents:9986\"\n", "server.config_server"},
		{"empty listen", "[server]\nlisten = \"\"\n", "server.listen"},
		{"base path", "[server]\nbase_path = \"gw\"\n", "server.base_path"},
		{"history dsn", "[[history]]\ndsn = \"\"\n", "history[0].dsn"},
		{"tls without certs", "[server.tls]\nenabled = true\n", "server.tls"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTOML(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
