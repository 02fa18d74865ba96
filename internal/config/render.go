package config

import (
	"gopkg.in/yaml.v3"
)

const masked = "********"

// Render returns the configuration as YAML with secrets masked.
func Render(cfg *Config) ([]byte, error) {
	out := *cfg
	out.Ledger.PrivateKey = mask(out.Ledger.PrivateKey)
	out.Ledger.OwnerPrivateKey = mask(out.Ledger.OwnerPrivateKey)
	return yaml.Marshal(&out)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return masked
}
