package kvstore

import (
	"strconv"
	"sync"
)

// Memory is an in-process Store backed by a mutex-guarded map. Local cache
// writes are assumed to always succeed, so no method returns an error.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

// GetString returns the stored value, or "" if absent.
func (m *Memory) GetString(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[key]
}

// SetString stores a string value.
func (m *Memory) SetString(key, value string) {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
}

// GetBool returns the stored value, or false if absent or malformed.
func (m *Memory) GetBool(key string) bool {
	return m.GetString(key) == "true"
}

// SetBool stores a boolean value.
func (m *Memory) SetBool(key string, value bool) {
	m.SetString(key, strconv.FormatBool(value))
}

// GetInt64 returns the stored value, or 0 if absent or malformed.
func (m *Memory) GetInt64(key string) int64 {
	v, err := strconv.ParseInt(m.GetString(key), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// SetInt64 stores an integer value.
func (m *Memory) SetInt64(key string, value int64) {
	m.SetString(key, strconv.FormatInt(value, 10))
}

// SetMany applies all entries under a single lock acquisition.
func (m *Memory) SetMany(entries map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range entries {
		m.data[k] = encode(v)
	}
}

// Delete removes a key.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
}

func encode(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}
