package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix namespaces every variable. The bare name is consulted when the
// prefixed one is unset, so PORT and REPORTSYNC_PORT both work.
const EnvPrefix = "REPORTSYNC_"

func lookupEnv(key string) (string, bool) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v, true
	}
	if v := os.Getenv(key); v != "" {
		return v, true
	}
	return "", false
}

// GetEnv returns the variable's value or a default.
func GetEnv(key, defaultValue string) string {
	if v, ok := lookupEnv(key); ok {
		return v
	}
	return defaultValue
}

// GetIntEnv returns an integer variable or a default when unset or malformed.
func GetIntEnv(key string, defaultValue int) int {
	if v, ok := lookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

// GetBoolEnv returns a boolean variable or a default when unset or malformed.
func GetBoolEnv(key string, defaultValue bool) bool {
	if v, ok := lookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// GetDurationEnv returns a duration variable or a default when unset or malformed.
func GetDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if v, ok := lookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

// GetListEnv splits a comma-separated variable, dropping blanks. An unset
// variable returns the default untouched.
func GetListEnv(key string, defaultValue []string) []string {
	v, ok := lookupEnv(key)
	if !ok {
		return defaultValue
	}
	return splitList(v)
}

// GetSecretEnv resolves a secret from KEY_FILE, then KEY, then the default.
// The file form works with Docker and Kubernetes mounted secrets.
func GetSecretEnv(key, defaultValue string) string {
	if s := GetSecretFile(GetEnv(key+"_FILE", "")); s != "" {
		return s
	}
	return GetEnv(key, defaultValue)
}

// GetSecretFile reads a secret from path, trimming surrounding whitespace.
// Missing or unreadable files yield "".
func GetSecretFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
