package store

import "github.com/kilianp07/smartzone/core/factory"

var registry = factory.NewRegistry[Store]()

// Register adds a store backend factory identified by name.
func Register(name string, f factory.Factory[Store]) error {
	return registry.Register(name, f)
}

func init() {
	_ = Register("memory", func(map[string]any) (Store, error) {
		return NewMemoryStore(), nil
	})
}

// New creates the configured backend. An empty type selects memory.
func New(cfg factory.ModuleConfig) (Store, error) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	return registry.Create(cfg)
}
