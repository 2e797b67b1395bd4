package portainer

import (
	"encoding/json"
	"fmt"
	"os"
)

// Credentials is the login used against the orchestration API. The file that
// holds it is produced by host provisioning; this engine only reads it.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CredentialsFromFile reads a JSON credentials file.
func CredentialsFromFile(path string) (Credentials, error) {
	var creds Credentials
	data, err := os.ReadFile(path)
	if err != nil {
		return creds, fmt.Errorf("reading credentials file: %w", err)
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return creds, fmt.Errorf("parsing credentials file %s: %w", path, err)
	}
	if creds.Username == "" || creds.Password == "" {
		return creds, fmt.Errorf("credentials file %s is missing username or password", path)
	}
	return creds, nil
}
