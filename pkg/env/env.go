package env

import (
	"os"
	"strings"
)

// Get returns the value of the given environment variable or a fallback.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// SetDefault exports key=value unless key is already set. The Google client
// libraries read emulator endpoints from the process environment only.
func SetDefault(key, value string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	if _, ok := os.LookupEnv(key); ok {
		return nil
	}
	return os.Setenv(key, value)
}
