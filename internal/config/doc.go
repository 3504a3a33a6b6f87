// Package config holds lure's runtime configuration: defaults, the YAML
// configuration file, LURE_* environment overrides and validation.
package config
