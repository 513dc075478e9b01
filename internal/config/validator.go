package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate runs struct-tag validation then the cross-field rules the tags
// can't express (e.g. max backoff must be >= initial backoff).
func Validate(cfg Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("config: %s", formatValidationErrors(err))
	}
	return validateCrossFields(cfg)
}

func validateCrossFields(cfg Config) error {
	if !strings.HasPrefix(cfg.Ue.WsURL, "ws://") && !strings.HasPrefix(cfg.Ue.WsURL, "wss://") {
		return fmt.Errorf("config: ue.ws_url must start with ws:// or wss://")
	}
	if cfg.Ue.Reconnect.MaxDelayS < cfg.Ue.Reconnect.InitialDelayS {
		return fmt.Errorf("config: ue.reconnect.max_delay_s must be >= initial_delay_s")
	}
	if cfg.Retry.BackoffMaxS < cfg.Retry.BackoffInitialS {
		return fmt.Errorf("config: retry.backoff_max_s must be >= backoff_initial_s")
	}
	if cfg.Catalog.PinSchemaHash != "" && cfg.Catalog.RequiredTools == nil {
		// A pinned hash with no required tools is legal; nothing to check,
		// kept as an explicit branch because more cross-field rules land
		// here as the catalog guard grows.
		_ = cfg
	}
	if cfg.Debug.Enabled && cfg.Debug.Addr == "" {
		return fmt.Errorf("config: debug_http.addr must be set when debug_http.enabled is true")
	}
	return nil
}

func formatValidationErrors(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, formatSingleValidationError(fe))
	}
	return strings.Join(msgs, "; ")
}

func formatSingleValidationError(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation %q", field, fe.Tag())
	}
}
