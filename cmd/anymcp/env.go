package main

import "os"

// Default values from environment variables
var (
	defaultConfigPath = getEnvOrDefault("ANYMCP_CONFIG", "config/providers.yaml")
)

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
