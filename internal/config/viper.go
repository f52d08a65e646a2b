package config

import (
	"os"

	"github.com/spf13/viper"

	"github.com/agentstation/taxonsync/pkg/errors"
)

// GetString returns key from v, falling back to the OS environment.
func GetString(v *viper.Viper, key string) string {
	if value := v.GetString(key); value != "" {
		return value
	}
	return os.Getenv(key)
}

// APIKey resolves the credential of a platform from the variable named by
// api_key_env. Platforms without api_key_env need no key.
func APIKey(v *viper.Viper, p PlatformConfig) (string, error) {
	if p.APIKeyEnv == "" {
		return "", nil
	}
	if key := GetString(v, p.APIKeyEnv); key != "" {
		return key, nil
	}
	return "", errors.NewConfigError("platforms", "environment variable "+p.APIKeyEnv+" not set for "+p.ID, nil)
}
