// Package kvstore is the small typed key-value persistence port used for the
// local subscription cache. It abstracts the device-local preference store so
// the reconciler can run against an in-memory map in tests and a Redis hash
// in server deployments.
package kvstore

// Store is a typed key-value store. Implementations must make SetMany atomic
// with respect to concurrent readers: a reader never observes a partially
// applied bulk write.
type Store interface {
	GetString(key string) string
	SetString(key, value string)

	GetBool(key string) bool
	SetBool(key string, value bool)

	GetInt64(key string) int64
	SetInt64(key string, value int64)

	// SetMany applies all entries as one atomic bulk write. Values must be
	// string, bool, or int64.
	SetMany(entries map[string]interface{})

	// Delete removes a key. Missing keys are a no-op.
	Delete(key string)
}
