package github

import (
	"fmt"
	"strings"
)

// ParseRepo splits "owner/name" into its parts.
func ParseRepo(full string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(full), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("github: repository must be owner/name (got %q)", full)
	}
	return owner, name, nil
}
