package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/ewbridge/internal/link"
	"github.com/danmuck/ewbridge/internal/protocol"
	"github.com/danmuck/ewbridge/internal/testutil/testlog"
	"github.com/danmuck/ewbridge/internal/tracebuf"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestTemplatesLoadToDefaults(t *testing.T) {
	testlog.Start(t)
	want := Default()
	want.Admin.CorsOrigins = []string{"http://localhost:3000"}
	for _, format := range []string{"toml", "yaml"} {
		body, err := Template(format)
		require.NoError(t, err)
		cfg, err := Load(writeFile(t, "ewbridge."+format, body))
		require.NoError(t, err, format)
		require.Equal(t, want, cfg, format)
	}
}

func TestLoadOverridesOnlySetKeys(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "bridge.toml", `
topology = "passive"
address = ":16010"
station_id = "sta"

[heartbeat]
interval = "0s"
sender_interval = "90s"
sender_text = "export-alive"

[types]
ack_logo = "1/2/6"
tracebuf2 = 119

[admin]
token = " s3cret "

[sinks.nats]
enabled = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, link.TopologyPassive, cfg.Topology)
	require.Equal(t, ":16010", cfg.Address)
	require.Equal(t, tracebuf.StationIDSta, cfg.StationID)
	require.Zero(t, cfg.Heartbeat.Interval)
	require.Equal(t, "alive", cfg.Heartbeat.Text)
	require.Equal(t, 90*time.Second, cfg.Heartbeat.SenderInterval)
	require.Equal(t, protocol.Logo{Installation: 1, Module: 2, Type: 6}, cfg.Types.AckLogo)
	require.Equal(t, uint8(119), cfg.Types.TraceBuf2)
	require.True(t, cfg.Sinks.NATS.Enabled)
	require.Equal(t, "nats://127.0.0.1:4222", cfg.Sinks.NATS.URL)
	require.Equal(t, "s3cret", cfg.Admin.Token)
	require.Empty(t, cfg.Admin.TLSCert)

	s := cfg.SessionConfig()
	require.Zero(t, s.HeartbeatInterval)
	require.Equal(t, 90*time.Second, s.SenderHeartRate)
	require.Equal(t, "export-alive", s.SenderHeartText)
	require.Equal(t, 10*time.Second, s.Backoff.InitialDelay)
	require.Equal(t, protocol.Logo{Installation: 1, Module: 2, Type: 6}, s.AckLogo)

	d := cfg.DecoderConfig()
	require.Equal(t, uint8(119), d.TraceBuf2Type)
	require.Equal(t, uint8(20), d.TraceBufType)
	require.Equal(t, 4096, d.MaxPacketBytes)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	testlog.Start(t)
	_, err := Load(writeFile(t, "bad.toml", "adress = \"x:1\"\n"))
	require.ErrorContains(t, err, "unknown keys: adress")

	_, err = Load(writeFile(t, "bad.yaml", "heartbeat:\n  intervall: 5s\n"))
	require.Error(t, err)
}

func TestLoadRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"duration":  "[timeouts]\nread = \"soon\"\n",
		"logo":      "[heartbeat]\nlogo = \"0/0\"\n",
		"type":      "[types]\ntracebuf = 300\n",
		"topology":  "topology = \"both\"\n",
		"station":   "station_id = \"loc\"\n",
		"dial host": "address = \":16005\"\n",
		"same type": "[types]\ntracebuf = 19\n",
		"too small": "[limits]\nmax_message_bytes = 10\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "c.toml", body))
			require.Error(t, err)
		})
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	_, err := Load(writeFile(t, "c.json", "{}"))
	require.ErrorContains(t, err, "unsupported file type")
}

func TestEmptyYAMLIsDefault(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yml", ""))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(Default()))

	cfg := Default()
	cfg.Heartbeat.Interval = time.Second
	cfg.Heartbeat.Text = ""
	require.Error(t, Validate(cfg))

	cfg = Default()
	cfg.Admin.Enabled = false
	require.ErrorContains(t, Validate(cfg), "enable admin")

	cfg.Sinks.WebSocket.Enabled = false
	require.NoError(t, Validate(cfg))

	cfg = Default()
	cfg.Admin.TLSCert = "admin.crt"
	require.ErrorContains(t, Validate(cfg), "tls_key")
	cfg.Admin.TLSKey = "admin.key"
	require.NoError(t, Validate(cfg))

	cfg = Default()
	cfg.Topology = link.TopologyPassive
	cfg.Address = ":16005"
	require.NoError(t, Validate(cfg))
}

func TestSessionConfigRaisesReadTimeoutViaNormalize(t *testing.T) {
	cfg := Default()
	cfg.Heartbeat.SenderInterval = 120 * time.Second
	s, changed := cfg.SessionConfig().Normalize()
	require.True(t, changed)
	require.Equal(t, 120*time.Second, s.ReadTimeout)
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	path := writeFile(t, "exists.toml", "")
	require.Error(t, WriteTemplate(path, "toml", false))
	require.NoError(t, WriteTemplate(path, "toml", true))
	_, err := Template("ini")
	require.Error(t, err)
}
