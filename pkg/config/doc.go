// Package config loads daemon configuration from YAML and environment
// variables.
package config
