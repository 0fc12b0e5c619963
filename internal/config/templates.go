package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client":
		return clientTemplate, nil
	case "fake-server":
		return fakeServerTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
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

const clientTemplate = `client_id = "linkctl"

[server]
host = "127.0.0.1"
port = 2255
transport = "tcp"
# websocket_path = "/gs"

[identity]
session = 1
username = "guest"
user_id = "1"
server_key = "dev"
# password = ""
banner_mode = "N"

[session]
connect_timeout = "10s"
poll_interval = "50ms"
health_interval = "5s"
ping_interval = "10s"
max_error_reports = 5
log_capacity = 50
debug = false
security_mode = "development"

[session.tls]
enabled = false
# ca_file = "ca.crt"

[status]
addr = "127.0.0.1:9300"
token = "change-me"
cors_origins = ["http://localhost:3000"]

[log]
level = "info"
`

const fakeServerTemplate = `addr = "127.0.0.1:2255"
transport = "tcp"
feature_version = 18
session_key = "11.22.33.44"
obfuscate = true
buffer_size = 65536
silent = false

[tls]
enabled = false
# cert_file = "server.crt"
# key_file = "server.key"
`
