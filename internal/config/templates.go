package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns the commented default file for kind ("server" or
// "client") in TOML, or YAML when yaml is set.
func Template(kind string, yaml bool) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		if yaml {
			return serverYAML, nil
		}
		return serverTOML, nil
	case "client":
		if yaml {
			return clientYAML, nil
		}
		return clientTOML, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

// WriteTemplate writes the template for kind, choosing the format from the
// path's extension.
func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind, isYAML(path))
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

const serverTOML = `# replicad
transport = "quic"          # quic | ws
listen = "127.0.0.1:7440"
ws_path = "/replica"
admin_addr = "127.0.0.1:7441"
cors_origins = ["http://localhost:3000"]
tick_rate = "33.333333ms"
boxes = 32
seed = 1
capture_path = ""
log_level = "info"

[tls]
# empty cert and key files generate a self-signed certificate
cert_file = ""
key_file = ""

[replication]
visibility = "all"          # all | blacklist | whitelist
force_empty_updates = false
track_mutate_messages = false
mutations_timeout = "10s"
max_message_size = 1200
`

const clientTOML = `# replica-client
transport = "quic"          # quic | ws
addr = "127.0.0.1:7440"
dedup_window = 1024
summary_interval = "2s"
poll_interval = "16.666666ms"
capture_path = ""
log_level = "info"

[tls]
ca_file = ""
insecure_skip_verify = true
server_name = ""

[backoff]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
jitter = true
`

const serverYAML = `# replicad
transport: quic
listen: 127.0.0.1:7440
ws_path: /replica
admin_addr: 127.0.0.1:7441
cors_origins:
  - http://localhost:3000
tick_rate: 33.333333ms
boxes: 32
seed: 1
capture_path: ""
log_level: info
tls:
  cert_file: ""
  key_file: ""
replication:
  visibility: all
  force_empty_updates: false
  track_mutate_messages: false
  mutations_timeout: 10s
  max_message_size: 1200
`

const clientYAML = `# replica-client
transport: quic
addr: 127.0.0.1:7440
dedup_window: 1024
summary_interval: 2s
poll_interval: 16.666666ms
capture_path: ""
log_level: info
tls:
  ca_file: ""
  insecure_skip_verify: true
  server_name: ""
backoff:
  initial_delay: 250ms
  multiplier: 2.0
  max_delay: 5s
  jitter: true
`
