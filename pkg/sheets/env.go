package sheets

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ReadToken reads a bearer token from a credential file. The file holds either
// the raw token or a JSON object with an "access_token" (or "token") field.
// Issuing and refreshing the token happen outside this tool.
func ReadToken(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("credential file path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read credential file: %w", err)
	}
	raw := strings.TrimSpace(string(b))

	if strings.HasPrefix(raw, "{") {
		var obj struct {
			AccessToken string `json:"access_token"`
			Token       string `json:"token"`
		}
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return "", fmt.Errorf("parse credential file JSON: %w", err)
		}
		raw = strings.TrimSpace(obj.AccessToken)
		if raw == "" {
			raw = strings.TrimSpace(obj.Token)
		}
	}
	if raw == "" {
		return "", fmt.Errorf("credential file %s holds no token", path)
	}
	return raw, nil
}

// ResolveBaseURL picks the API base URL: an explicit URL wins, then the
// discovery file, then DefaultBaseURL.
func ResolveBaseURL(explicit, discoveryFile string) (string, error) {
	if u := strings.TrimSpace(explicit); u != "" {
		return u, nil
	}
	if strings.TrimSpace(discoveryFile) != "" {
		return LoadBaseURLFromDiscoveryFile(discoveryFile)
	}
	return DefaultBaseURL, nil
}
