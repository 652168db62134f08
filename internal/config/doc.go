// Package config loads the coordinator's YAML configuration.
//
// Files support ${VAR} interpolation. After parsing, CENTRAL_* environment
// variables override individual keys, then defaults are applied.
package config
