// Package config loads, normalizes, and validates symdeploy configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SYMDEPLOY_TARGET_DIR. The Config type centralizes the directories the
// coordinator deploys between and the timings of the elevated helper session.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
