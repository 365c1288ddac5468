package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "relay", "devrelay":
		return relayTemplate, nil
	case "client", "buslink":
		return clientTemplate, nil
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

const relayTemplate = `name = "devrelay"
addr = ":8787"
# public_url = "http://127.0.0.1:8787"
# offer_token = ""
cors_origins = ["http://localhost:3000"]
pair_ttl = "10m"
inbox_limit = 500

[push]
enabled = false
vapid_public_key = ""
`

const clientTemplate = `# home = "~/.buslink"
security_mode = "development"
poll_interval = "1s"
poll_limit = 50
request_timeout = "15s"
claim_attempts = 6
claim_delay = "500ms"

[tls]
ca_file = ""
server_name = ""
insecure_skip_verify = false
`
