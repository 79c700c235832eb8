//go:build !windows

package biddergw

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinnucsk/bidder-gateway/pkg/client"
)

func writeGatewayConfig(t *testing.T) (string, string) {
	t.Helper()
	base := t.TempDir()
	bin := filepath.Join(base, "build", "x86_64", "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	script := "#!/bin/sh\necho \"pid:$$\"\nexec sleep 30\n"
	require.NoError(t, os.WriteFile(filepath.Join(bin, "bidder.sh"), []byte(script), 0o755))

	cfgPath := filepath.Join(base, "biddergw.toml")
	body := fmt.Sprintf(`
[server]
listen = "127.0.0.1:0"
config_server = "http://cfg.local:9986"

[paths]
base = %q

[store]
dsn = "file://state"

[discovery]
timeout = "3s"
interval = "20ms"

[log]
file = "logs/gateway.log"
level = "debug"
`, base)
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))
	return cfgPath, base
}

func TestGatewayLifecycleOverHTTP(t *testing.T) {
	cfgPath, base := writeGatewayConfig(t)
	cfg, err := LoadConfig(cfgPath)
	require.NoError(t, err)

	g, err := New(cfg)
	require.NoError(t, err)
	defer func() { _ = g.Close() }()

	srv := httptest.NewServer(g.Handler())
	defer srv.Close()
	c, err := client.New(client.Config{BaseURL: srv.URL})
	require.NoError(t, err)
	ctx := context.Background()

	res, err := c.Start(ctx, client.StartRequest{
		Name:       "bidA",
		Executable: "bidder.sh",
		Params:     map[string]string{"port": "9000"},
		Config:     []byte(`{"budget":1}`),
	})
	require.NoError(t, err)
	require.True(t, res.OK(), res.ResultDescription)
	rec, ok := g.Registry().Lookup("bidA")
	require.True(t, ok)
	assert.Equal(t, fmt.Sprintf("bidA%d", rec.PID), res.ExternalReference)
	t.Cleanup(func() { _ = syscall.Kill(rec.PID, syscall.SIGKILL) })

	conf, err := os.ReadFile(filepath.Join(base, "build", "x86_64", "bin", ".config", "bidA.conf.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"budget":1}`, string(conf))

	res, err = c.Status(ctx, "bidA")
	require.NoError(t, err)
	assert.Equal(t, "up", res.State)

	loc, err := c.ConfigLocation(ctx, "bidA")
	require.NoError(t, err)
	assert.Equal(t, "http://cfg.local:9986/v1/agents/"+res.ExternalReference+"/config", loc)

	names, err := c.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bidA"}, names)

	// a second gateway on the same store picks the bidder up
	cfg2, err := LoadConfig(cfgPath)
	require.NoError(t, err)
	cfg2.Log.File = ""
	g2, err := New(cfg2)
	require.NoError(t, err)
	n, err := g2.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, g2.Close())

	res, err = c.Stop(ctx, "bidA", 0)
	require.NoError(t, err)
	assert.True(t, res.OK(), res.ResultDescription)

	res, err = c.Status(ctx, "bidA")
	require.NoError(t, err)
	assert.Equal(t, "down", res.State)

	_, err = os.Stat(filepath.Join(base, "logs", "gateway.log"))
	assert.NoError(t, err)
}
