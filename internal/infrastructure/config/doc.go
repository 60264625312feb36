// Package config loads and validates CTHz Fleet Core configuration.
//
// Configuration comes from three layers, later layers overriding earlier ones:
//
//  1. Hardcoded defaults
//  2. A YAML file (configs/config.yaml by default)
//  3. CTHZ_* environment variables
//
// The loaded Config is immutable after Load returns; components receive the
// sections they need by value.
package config
