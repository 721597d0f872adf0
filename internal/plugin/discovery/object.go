package discovery

import (
	"context"
	"fmt"
	goplugin "plugin"

	"willbot/internal/plugin"
)

// ClassesSymbol is the exported symbol a shared-object plugin must define,
// either as a []plugin.Class variable or as func() []plugin.Class.
const ClassesSymbol = "Classes"

// ObjectLoader loads Go plugins built with -buildmode=plugin.
type ObjectLoader struct{}

func (ObjectLoader) Extensions() []string { return []string{".so"} }

func (ObjectLoader) Load(_ context.Context, path string) ([]plugin.Class, error) {
	p, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	sym, err := p.Lookup(ClassesSymbol)
	if err != nil {
		return nil, err
	}
	switch v := sym.(type) {
	case *[]plugin.Class:
		return append([]plugin.Class(nil), (*v)...), nil
	case func() []plugin.Class:
		return v(), nil
	default:
		return nil, fmt.Errorf("symbol %s has type %T, want []plugin.Class or func() []plugin.Class", ClassesSymbol, sym)
	}
}
