package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns a commented starter config in the given format.
func Template(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "toml":
		return tomlTemplate, nil
	case "yaml", "yml":
		return yamlTemplate, nil
	default:
		return "", fmt.Errorf("unknown config format: %s", format)
	}
}

func WriteTemplate(path, format string, overwrite bool) error {
	template, err := Template(format)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const tomlTemplate = `# active dials the export; passive listens for it.
topology = "active"
address = "127.0.0.1:16005"
station_id = "net.sta"

[heartbeat]
interval = "120s"
text = "alive"
logo = "0/0/3"
sender_interval = "60s"
sender_text = "alive"

[timeouts]
connect = "5s"
read = "80s"
write = "80s"
retry = "10s"

[limits]
max_message_bytes = 4096

[types]
ack_logo = "0/0/6"
tracebuf = 20
tracebuf2 = 19

[admin]
enabled = true
addr = ":9180"
cors_origins = ["http://localhost:3000"]
# token = "change-me"
# tls_cert = "admin.crt"
# tls_key = "admin.key"

[sinks.log]
enabled = true

[sinks.nats]
enabled = false
url = "nats://127.0.0.1:4222"
subject_prefix = "ewbridge.samples"
client_name = "ewbridge"

[sinks.websocket]
enabled = true
send_buffer = 64
`

const yamlTemplate = `# active dials the export; passive listens for it.
topology: active
address: 127.0.0.1:16005
station_id: net.sta

heartbeat:
  interval: 120s
  text: alive
  logo: 0/0/3
  sender_interval: 60s
  sender_text: alive

timeouts:
  connect: 5s
  read: 80s
  write: 80s
  retry: 10s

limits:
  max_message_bytes: 4096

types:
  ack_logo: 0/0/6
  tracebuf: 20
  tracebuf2: 19

admin:
  enabled: true
  addr: ":9180"
  cors_origins:
    - http://localhost:3000
  # token: change-me
  # tls_cert: admin.crt
  # tls_key: admin.key

sinks:
  log:
    enabled: true
  nats:
    enabled: false
    url: nats://127.0.0.1:4222
    subject_prefix: ewbridge.samples
    client_name: ewbridge
  websocket:
    enabled: true
    send_buffer: 64
`
