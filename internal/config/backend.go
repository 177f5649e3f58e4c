package config

// Store holds plain config values by dotted key, e.g. "server.port".
// Values are kept as text and parsed against the key table on load.
// Secrets never go through a Store.
type Store interface {
	Get(key string) (val string, ok bool, err error)
	Set(key, val string) error
	Delete(key string) error
}
