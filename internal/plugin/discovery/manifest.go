package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"willbot/internal/plugin"
)

// ManifestLoader instantiates compiled-in plugin classes listed in a
// YAML or JSON manifest:
//
//	classes:
//	  - name: Hello          # optional, defaults to the factory key
//	    factory: hello       # key passed to plugin.RegisterFactory
//	    config: {greeting: hi}
type ManifestLoader struct{}

type manifest struct {
	Classes []manifestClass `yaml:"classes"`
}

type manifestClass struct {
	Name    string `yaml:"name"`
	Factory string `yaml:"factory"`
	Config  any    `yaml:"config"`
}

var ErrUnknownFactory = errors.New("unknown plugin factory")

func (ManifestLoader) Extensions() []string { return []string{".yaml", ".yml", ".json"} }

func (ManifestLoader) Load(_ context.Context, path string) ([]plugin.Class, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := parseManifest(b)
	if err != nil {
		return nil, err
	}

	out := make([]plugin.Class, 0, len(m.Classes))
	names := map[string]struct{}{}
	for i, mc := range m.Classes {
		key := strings.TrimSpace(mc.Factory)
		if key == "" {
			return nil, fmt.Errorf("classes[%d]: factory is required", i)
		}
		name := strings.TrimSpace(mc.Name)
		if name == "" {
			name = key
		}
		if _, dup := names[name]; dup {
			return nil, fmt.Errorf("classes[%d]: duplicate class name %q", i, name)
		}
		names[name] = struct{}{}

		f, ok := plugin.LookupFactory(key)
		if !ok {
			return nil, fmt.Errorf("classes[%d]: %w %q", i, ErrUnknownFactory, key)
		}
		var raw json.RawMessage
		if mc.Config != nil {
			if raw, err = json.Marshal(mc.Config); err != nil {
				return nil, fmt.Errorf("classes[%d]: config: %w", i, err)
			}
		}
		v, err := f(raw)
		if err != nil {
			return nil, fmt.Errorf("class %s: %w", name, err)
		}
		out = append(out, plugin.Class{Name: name, Value: v})
	}
	return out, nil
}

// parseManifest decodes YAML (JSON is a YAML subset) and rejects unknown keys.
func parseManifest(b []byte) (manifest, error) {
	var m manifest
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}
