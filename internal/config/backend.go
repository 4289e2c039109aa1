// Package config loads shelf settings from the platform store and SHELF_*
// environment variables, and keeps secrets out of it.
package config

// ConfigBackend is where non-secret settings persist between runs: the user
// defaults database on macOS, a JSON file elsewhere. Keys are the dotted
// names from the specs table.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
