package console

import (
	"fmt"

	"github.com/Windscribe/goproxy-intercept"
)

// Plugin is a unit that registers commands and aliases when loaded.
type Plugin interface {
	Name() string
	Load(r *Registry) error
}

type pluginFunc struct {
	name string
	load func(r *Registry) error
}

func (p pluginFunc) Name() string           { return p.name }
func (p pluginFunc) Load(r *Registry) error { return p.load(r) }

// PluginFunc adapts a function to a Plugin.
func PluginFunc(name string, load func(r *Registry) error) Plugin {
	return pluginFunc{name: name, load: load}
}

// LoadPlugins loads plugins in order, later registrations shadowing earlier
// ones. A failing plugin is logged and skipped. The names of the plugins that
// loaded are returned.
func LoadPlugins(r *Registry, logger goproxy.Logger, plugins ...Plugin) []string {
	if logger == nil {
		logger = goproxy.NopLogger{}
	}
	var loaded []string
	for _, p := range plugins {
		if err := loadPlugin(r, p); err != nil {
			logger.Errorf(0, "Cannot load plugin %s: %v", p.Name(), err)
			continue
		}
		logger.Debugf(0, "Loaded plugin %s", p.Name())
		loaded = append(loaded, p.Name())
	}
	return loaded
}

func loadPlugin(r *Registry, p Plugin) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return p.Load(r)
}
