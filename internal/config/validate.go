package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d >= 0
	})
	_ = v.RegisterValidation("service_url", func(fl validator.FieldLevel) bool {
		u, err := url.Parse(fl.Field().String())
		return err == nil && u.Scheme != ""
	})

	return v
}

// Validate checks ranges and formats, and rejects combining a fixed repeat
// interval with a cron schedule.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validating config: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describe(fe))
		}
		return errors.New(strings.Join(msgs, "; "))
	}

	if c.RepeatMs > 0 && c.Schedule != "" {
		return errors.New("repeat and schedule are mutually exclusive")
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}

	switch fe.Field() {
	case "port":
		return "port must be between 1 and 65535"
	case "program":
		return "program must be between 0 and 31"
	case "repeat":
		return "repeat must be greater than or equal to 0"
	}

	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "cron":
		return fmt.Sprintf("%s: invalid cron expression %q", field, fe.Value())
	case "duration":
		return fmt.Sprintf("%s: invalid duration %q", field, fe.Value())
	case "hostname_port":
		return fmt.Sprintf("%s: expected host:port, got %q", field, fe.Value())
	case "service_url":
		return fmt.Sprintf("%s: invalid URL %q", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
	}
}
