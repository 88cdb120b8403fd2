package plugins

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/peteski22/plugin-hooks/internal/hooks"
	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	pluginNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

// validatorInstance configures and returns the validator shared by descriptor checks.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())

		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})

		_ = v.RegisterValidation("plugin_name", func(fl validator.FieldLevel) bool {
			return pluginNamePattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("plugin_mode", func(fl validator.FieldLevel) bool {
			return pkg.Mode(fl.Field().String()).Valid()
		})

		validateInst = v
	})

	return validateInst
}

// validateDescriptors checks every descriptor and returns a *ConfigError listing
// every problem, or nil.
func validateDescriptors(descs []pkg.PluginConfig, hookTypes *hooks.Registry, factories *Factories) error {
	var problems []error

	seen := make(map[string]int, len(descs))

	for i, d := range descs {
		label := descriptorLabel(i, d)

		if err := validatorInstance().Struct(d); err != nil {
			problems = append(problems, fieldProblems(label, err)...)
		}

		if d.Name != "" {
			if first, dup := seen[d.Name]; dup {
				problems = append(problems, fmt.Errorf("%s: duplicate plugin name (first declared at plugins[%d])", label, first))
			} else {
				seen[d.Name] = i
			}
		}

		for _, h := range d.Hooks {
			if h != "" && !hookTypes.Has(h) {
				problems = append(problems, fmt.Errorf("%s: %w: %q", label, ErrUnknownHookType, h))
			}
		}

		if _, condProblems := compileConditions(d.Conditions); len(condProblems) > 0 {
			for _, p := range condProblems {
				problems = append(problems, fmt.Errorf("%s: %w", label, p))
			}
		}

		if !d.IsRemote() && d.Kind != "" && !factories.Has(d.Kind) {
			problems = append(problems, fmt.Errorf("%s: no factory registered for kind %q", label, d.Kind))
		}
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}

	return nil
}

func descriptorLabel(i int, d pkg.PluginConfig) string {
	if d.Name == "" {
		return fmt.Sprintf("plugins[%d]", i)
	}
	return fmt.Sprintf("plugins[%d] (%s)", i, d.Name)
}

// fieldProblems converts every validator field error into its own problem.
func fieldProblems(label string, err error) []error {
	ves, ok := err.(validator.ValidationErrors)
	if !ok {
		return []error{fmt.Errorf("%s: %w", label, err)}
	}

	problems := make([]error, 0, len(ves))
	for _, fe := range ves {
		problems = append(problems, fmt.Errorf("%s: %s failed validation for tag '%s'", label, fieldPath(fe), fe.Tag()))
	}

	return problems
}

// fieldPath strips the struct name from a namespace, e.g. "PluginConfig.remote.address" -> "remote.address".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
