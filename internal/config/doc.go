// Package config holds node and cluster configuration: peer parsing,
// validation, the YAML cluster file and environment overrides.
package config
