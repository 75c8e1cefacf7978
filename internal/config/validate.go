package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"github.com/adamancini/wpguard/internal/types"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their config-file key rather than the Go name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return toSnakeCase(f.Name)
		}
		return name
	})
	return v
}

// ValidationError represents a config validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds every problem found in a config.
type ValidationErrors struct {
	Errors []ValidationError
}

func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		msgs = append(msgs, e.Error())
	}
	return fmt.Sprintf("validation errors:\n  - %s", strings.Join(msgs, "\n  - "))
}

func (v *ValidationErrors) add(field, msg string) {
	v.Errors = append(v.Errors, ValidationError{Field: field, Message: msg})
}

// Validate checks struct tags first, then the rules that span fields.
func Validate(c *Config) error {
	errs := &ValidationErrors{}

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, e := range fieldErrs {
			errs.add(fieldPath(e.Namespace()), formatValidationMessage(e))
		}
	}

	validateRemote(c.Remote, errs)
	validateSafety(c.Safety, errs)
	validateWatch(c.Watch, errs)

	if len(errs.Errors) > 0 {
		return errs
	}
	return nil
}

func validateRemote(r Remote, errs *ValidationErrors) {
	if r.Transport == types.TransportSSH && r.Password == "" && r.KeyFile == "" {
		errs.add("remote.key_file", "ssh transport needs key_file or password")
	}
	if r.Transport == types.TransportWinRM && r.Password == "" {
		errs.add("remote.password", "winrm transport needs a password")
	}
	if r.Timeout < 0 {
		errs.add("remote.timeout", "must not be negative")
	}
}

func validateSafety(s Safety, errs *ValidationErrors) {
	if s.SettleDelay < 0 {
		errs.add("safety.settle_delay", "must not be negative")
	}
	if s.SettleBackoff < 0 {
		errs.add("safety.settle_backoff", "must not be negative")
	}
	if s.MutationTimeout < 0 {
		errs.add("safety.mutation_timeout", "must not be negative")
	}
	if s.ProbeTimeout < 0 {
		errs.add("safety.probe_timeout", "must not be negative")
	}
}

func validateWatch(w Watch, errs *ValidationErrors) {
	if w.HealthSchedule != "" {
		if _, err := cron.ParseStandard(w.HealthSchedule); err != nil {
			errs.add("watch.health_schedule", fmt.Sprintf("invalid schedule %q: %v", w.HealthSchedule, err))
		}
	}
	if w.BatchSchedule != "" {
		if _, err := cron.ParseStandard(w.BatchSchedule); err != nil {
			errs.add("watch.batch_schedule", fmt.Sprintf("invalid schedule %q: %v", w.BatchSchedule, err))
		}
	}
	if w.Timezone != "" {
		if _, err := time.LoadLocation(w.Timezone); err != nil {
			errs.add("watch.timezone", fmt.Sprintf("unknown timezone %q", w.Timezone))
		}
	}
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "required_unless":
		return fmt.Sprintf("is required unless %s", strings.ReplaceAll(e.Param(), " ", " is "))
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(e.Param(), " ", ", "))
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "url":
		return "must be a valid URL"
	default:
		return fmt.Sprintf("failed %s validation", e.Tag())
	}
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
