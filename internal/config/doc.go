// Package config loads the dashboard configuration.
//
// Configuration comes from a YAML file with ${VAR} expansion, then
// DASHBOARD_* environment overrides, then defaults for anything unset.
// The service can run from environment variables alone.
package config
