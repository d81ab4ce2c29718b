// Package config loads guard configuration from YAML files and
// environment variables and maps it onto the component configs of the
// breaker, admission, ratelimit, and health packages. Files are
// resolved from conventional locations, a .env file is honored when
// present, and environment variables override file values.
package config
