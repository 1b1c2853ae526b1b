// Package config loads the dev server configuration from a YAML file,
// DEVSERVE_* environment variables and command-line flags, then validates it.
//
// Proxy configuration comes in two forms: a single `proxy` entry and an
// ordered `proxies` list. When the single entry names a backend the list is
// ignored entirely; see Config.SingleProxy.
package config
