// Package config loads the ambient application configuration: backing store
// coordinates and logging sinks. Values come from a profile-specific JSON
// file overlaid with environment variables.
package config
