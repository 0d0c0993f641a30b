package sandbox

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/zlc_ai/messaging-bridge/internal/provider"
	"github.com/zlc_ai/messaging-bridge/internal/provider/callback"
	"github.com/zlc_ai/messaging-bridge/internal/provider/result"
)

// Name is the registered provider name.
const Name = "sandbox"

// Platforms selectable through provider.Settings.Platform.
const (
	PlatformCallback = "callback"
	PlatformResult   = "result"
)

// ControlPrefix is where the control surface is mounted on
// provider.Settings.Control.
const ControlPrefix = "/sandbox"

func init() {
	provider.Register(Name, Factory)
}

// Factory builds a sandbox provider. The platform selects which native
// adapter fronts the engine.
func Factory(settings provider.Settings) (provider.Provider, error) {
	opts, err := DecodeOptions(settings.Options)
	if err != nil {
		return nil, err
	}
	engine := NewEngine(opts, settings.Logger)

	var p provider.Provider
	switch settings.Platform {
	case "", PlatformCallback:
		p = callback.New(NewCallbackSDK(engine), settings.Logger)
	case PlatformResult:
		p = result.New(NewResultSDK(engine), settings.Logger)
	default:
		return nil, fmt.Errorf("sandbox: unknown platform %q", settings.Platform)
	}

	if settings.Control != nil {
		NewControl(engine, settings.Logger).Mount(settings.Control, ControlPrefix)
	}
	return p, nil
}

// DecodeOptions reads Options from a generic option map such as a decoded
// YAML section. Unset keys keep their DefaultOptions value.
func DecodeOptions(raw map[string]interface{}) (Options, error) {
	opts := DefaultOptions()
	if len(raw) == 0 {
		return opts, nil
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return opts, fmt.Errorf("sandbox: encode options: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("sandbox: decode options: %w", err)
	}
	return opts, nil
}
