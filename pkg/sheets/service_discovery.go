package sheets

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// serviceDiscovery maps each service id to a single-element list containing the base URL.
//
// Example (YAML):
//
//	sheets_api:
//	  - http://mock-sheets:8080/
type serviceDiscovery map[string][]string

// LoadBaseURLFromDiscoveryFile returns the sheets_api entry of a discovery file.
func LoadBaseURLFromDiscoveryFile(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("service discovery file path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read service discovery file: %w", err)
	}

	var raw serviceDiscovery
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return "", fmt.Errorf("parse service discovery YAML: %w", err)
	}

	vals, ok := raw["sheets_api"]
	if !ok || len(vals) == 0 || strings.TrimSpace(vals[0]) == "" {
		return "", fmt.Errorf("service discovery file missing sheets_api")
	}
	return strings.TrimSpace(vals[0]), nil
}
