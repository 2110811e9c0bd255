package config

import (
	"fmt"
	"os"
)

func Template() string {
	return entityTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(entityTemplate), 0o600)
}

const entityTemplate = `entity_id = 1
default_destination = 2
entity_id_length = 2
sequence_number_length = 4
segment_size = 1024
max_file_size = 1073741824
mode = "acknowledged"
checksum = "modular"
crc = false
ack_timeout = "2s"
ack_limit = 4
nak_timeout = "2s"
nak_limit = 4
inactivity_timeout = "30s"
backoff_multiplier = 1.5
backoff_max = "30s"

[transport]
listen = ":4560"
remote = "127.0.0.1:4570"

[api]
addr = "127.0.0.1:4561"
token = ""
cors_origins = ["http://localhost:3000"]

[filestore]
root = "~/.cfdp/files"

[archive]
path = "~/.cfdp/history.db"
`
