// Package config loads host configuration from YAML files and environment
// variables (via viper and godotenv). Hosts embed ServiceConfig in their own
// config struct; every config struct in the kit follows the
// ApplyDefaults/Validate convention.
package config
