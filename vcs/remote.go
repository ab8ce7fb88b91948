package vcs

import (
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

// RemoteURL reads the URL of the configured remote from .git/config. If that
// remote isn't there the first remote with a URL is used
func (r *Repo) RemoteURL() (string, error) {
	gitConfigPath := filepath.Join(r.config.Dir, ".git", "config")

	gitConfig, err := ini.Load(gitConfigPath)
	if err != nil {
		return "", fmt.Errorf("could not open %v to determine remote: %w", gitConfigPath, err)
	}

	wanted := fmt.Sprintf("remote %q", r.config.Remote)
	if section, err := gitConfig.GetSection(wanted); err == nil {
		if key, err := section.GetKey("url"); err == nil {
			return key.String(), nil
		}
	}

	for _, section := range gitConfig.Sections() {
		if strings.HasPrefix(section.Name(), "remote") {
			urlKey, err := section.GetKey("url")
			if err != nil {
				continue
			}

			return urlKey.String(), nil
		}
	}

	return "", fmt.Errorf("could not find remote URL in %v", gitConfigPath)
}
