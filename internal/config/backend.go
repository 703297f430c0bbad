package config

// ConfigBackend abstracts where non-secret settings are persisted.
// Keys are dotted paths such as "retrieval.top_k".
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	Set(key string, val any) error
	Delete(key string) error
}
