package builtin

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"

	"github.com/peteski22/plugin-hooks/internal/hooks"
	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

// Violation codes raised by the content plugins.
const (
	CodeDataTooLong   = "DATA_TOO_LONG"
	CodeDataTooShort  = "DATA_TOO_SHORT"
	CodeDeniedContent = "DENIED_CONTENT"
)

var (
	_ pkg.Plugin = (*LengthValidator)(nil)
	_ pkg.Plugin = (*Uppercase)(nil)
	_ pkg.Plugin = (*DenyList)(nil)
)

// LengthValidatorConfig bounds the length of a payload's text, in characters.
type LengthValidatorConfig struct {
	MaxLength int `yaml:"max_length" validate:"gt=0"`
	MinLength int `yaml:"min_length" validate:"gte=0,ltefield=MaxLength"`
}

// LengthValidator blocks payloads whose text is outside the configured bounds.
type LengthValidator struct {
	base
	cfg LengthValidatorConfig
}

// NewLengthValidator is the factory for KindLengthValidator.
func NewLengthValidator(cfg pkg.PluginConfig, logger hclog.Logger) (pkg.Plugin, error) {
	var c LengthValidatorConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	return &LengthValidator{base: base{logger: logger}, cfg: c}, nil
}

// Invoke checks the payload's text length.
func (l *LengthValidator) Invoke(_ context.Context, _ string, payload any, _ *pkg.PluginContext) (*pkg.Result, error) {
	tp, ok := payload.(hooks.TextPayload)
	if !ok {
		return pkg.Continue(), nil
	}

	n := utf8.RuneCountInString(tp.Text())
	details := map[string]any{"length": n, "max_length": l.cfg.MaxLength}

	switch {
	case n > l.cfg.MaxLength:
		return pkg.Block(&pkg.Violation{
			Reason:      "payload too long",
			Description: fmt.Sprintf("length %d exceeds maximum %d", n, l.cfg.MaxLength),
			Code:        CodeDataTooLong,
			Details:     details,
		}), nil
	case n < l.cfg.MinLength:
		details["min_length"] = l.cfg.MinLength
		return pkg.Block(&pkg.Violation{
			Reason:      "payload too short",
			Description: fmt.Sprintf("length %d is below minimum %d", n, l.cfg.MinLength),
			Code:        CodeDataTooShort,
			Details:     details,
		}), nil
	}

	return &pkg.Result{ContinueProcessing: true, Metadata: map[string]any{"length": n}}, nil
}

// Uppercase upper-cases a payload's text.
type Uppercase struct {
	base
}

// NewUppercase is the factory for KindUppercase.
func NewUppercase(_ pkg.PluginConfig, logger hclog.Logger) (pkg.Plugin, error) {
	return &Uppercase{base: base{logger: logger}}, nil
}

// Invoke returns the payload with its text upper-cased.
func (u *Uppercase) Invoke(_ context.Context, _ string, payload any, _ *pkg.PluginContext) (*pkg.Result, error) {
	tp, ok := payload.(hooks.TextPayload)
	if !ok {
		return pkg.Continue(), nil
	}

	upper := strings.ToUpper(tp.Text())
	if upper == tp.Text() {
		return pkg.Continue(), nil
	}

	return pkg.Modify(tp.WithText(upper)), nil
}

// DenyListConfig lists words that may not appear in a payload's text.
type DenyListConfig struct {
	Words []string `yaml:"words" validate:"required,min=1,dive,required"`
}

// DenyList blocks payloads containing a denied word, case-insensitively.
type DenyList struct {
	base
	words []string
}

// NewDenyList is the factory for KindDenyList.
func NewDenyList(cfg pkg.PluginConfig, logger hclog.Logger) (pkg.Plugin, error) {
	var c DenyListConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}

	words := make([]string, 0, len(c.Words))
	for _, w := range c.Words {
		words = append(words, strings.ToLower(w))
	}

	return &DenyList{base: base{logger: logger}, words: words}, nil
}

// Invoke blocks the payload if its text contains a denied word.
func (d *DenyList) Invoke(_ context.Context, _ string, payload any, _ *pkg.PluginContext) (*pkg.Result, error) {
	tp, ok := payload.(hooks.TextPayload)
	if !ok {
		return pkg.Continue(), nil
	}

	text := strings.ToLower(tp.Text())
	for _, w := range d.words {
		if strings.Contains(text, w) {
			d.logger.Debug("denied word found", "word", w)
			return pkg.Block(&pkg.Violation{
				Reason:  "denied content",
				Code:    CodeDeniedContent,
				Details: map[string]any{"word": w},
			}), nil
		}
	}

	return pkg.Continue(), nil
}
