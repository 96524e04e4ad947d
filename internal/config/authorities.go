package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AuthorityFile is the optional YAML list of timestamp authorities. When
// present it replaces the TSA_* environment settings for URLs.
type AuthorityFile struct {
	Primary   string   `yaml:"primary"`
	Fallbacks []string `yaml:"fallbacks"`
}

func LoadAuthorityFile(path string) (AuthorityFile, error) {
	var out AuthorityFile
	raw, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("read authority file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("parse authority file: %w", err)
	}
	if out.Primary == "" {
		return out, fmt.Errorf("authority file %s has no primary", path)
	}
	return out, nil
}

// TSAEndpoints resolves the configured authority list, preferring the file
// when one is set.
func (c Config) TSAEndpoints() (primary string, fallbacks []string, err error) {
	if c.TSAAuthoritiesFile != "" {
		file, err := LoadAuthorityFile(c.TSAAuthoritiesFile)
		if err != nil {
			return "", nil, err
		}
		return file.Primary, file.Fallbacks, nil
	}
	return c.TSAPrimaryURL, c.TSAFallbackURLs, nil
}
