package plugin

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds a plugin class value from its manifest config (may be empty).
type Factory func(raw json.RawMessage) (any, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{}
)

// RegisterFactory makes a compiled-in plugin class available to manifests
// under key. It is meant to be called from package init and panics on
// duplicate or empty keys.
func RegisterFactory(key string, f Factory) {
	key = strings.TrimSpace(key)
	if key == "" || f == nil {
		panic("plugin: RegisterFactory with empty key or nil factory")
	}
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, dup := factories[key]; dup {
		panic(fmt.Sprintf("plugin: factory %q registered twice", key))
	}
	factories[key] = f
}

func LookupFactory(key string) (Factory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	f, ok := factories[strings.TrimSpace(key)]
	return f, ok
}

// Factories returns the registered keys, sorted.
func Factories() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Decode unmarshals raw manifest config into v, rejecting unknown fields.
// An empty raw message leaves v untouched.
func Decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
