// Package builtin provides in-process plugins that ship with the host.
package builtin

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"

	"github.com/peteski22/plugin-hooks/internal/plugins"
	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

// Kinds accepted in a descriptor's kind field.
const (
	KindLengthValidator = "builtin/length_validator"
	KindUppercase       = "builtin/uppercase"
	KindHeaderInjector  = "builtin/header_injector"
	KindRequestTimer    = "builtin/request_timer"
	KindDenyList        = "builtin/deny_list"
)

// Register adds every built-in plugin to f.
func Register(f *plugins.Factories) error {
	factories := map[string]plugins.Factory{
		KindLengthValidator: NewLengthValidator,
		KindUppercase:       NewUppercase,
		KindHeaderInjector:  NewHeaderInjector,
		KindRequestTimer:    NewRequestTimer,
		KindDenyList:        NewDenyList,
	}

	for kind, fn := range factories {
		if err := f.Register(kind, fn); err != nil {
			return err
		}
	}

	return nil
}

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			return strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		})
		validateInst = v
	})

	return validateInst
}

// decodeConfig copies a descriptor's opaque settings into out and validates them.
func decodeConfig(cfg pkg.PluginConfig, out any) error {
	if len(cfg.Config) > 0 {
		data, err := yaml.Marshal(cfg.Config)
		if err != nil {
			return fmt.Errorf("plugin %q config: %w", cfg.Name, err)
		}
		if err := yaml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("plugin %q config: %w", cfg.Name, err)
		}
	}

	if err := validatorInstance().Struct(out); err != nil {
		return fmt.Errorf("plugin %q config: %w", cfg.Name, err)
	}

	return nil
}

// base gives plugins without resources no-op lifecycle methods.
type base struct {
	logger hclog.Logger
}

// Start implements pkg.Plugin.
func (base) Start(context.Context) error { return nil }

// Stop implements pkg.Plugin.
func (base) Stop(context.Context) error { return nil }
