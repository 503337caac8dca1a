// Package config loads engine topology from YAML files: stage queue
// sizing and overflow policies, per-route redelivery policies, and the
// claim check backing store. Values are decoded into typed structs and
// validated at load time; per-message values never come from
// configuration.
package config
