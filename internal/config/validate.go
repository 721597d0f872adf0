package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"willbot/internal/transport"
	logx "willbot/pkg/logx"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(strings.TrimSpace(fl.Field().String()))
		return err == nil && d >= 0
	})
	_ = v.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		return logx.ValidLevel(fl.Field().String())
	})
	_ = v.RegisterValidation("chattarget", func(fl validator.FieldLevel) bool {
		_, err := transport.ParseChatTarget(fl.Field().String())
		return err == nil
	})
	return v
}

// FieldError is one rejected config field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists every rejected field of a config.
type ValidationError struct {
	Fields []FieldError
}

func (v *ValidationError) Error() string {
	if len(v.Fields) == 0 {
		return "invalid config"
	}
	msgs := make([]string, len(v.Fields))
	for i, f := range v.Fields {
		msgs[i] = f.Field + ": " + f.Message
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	out := &ValidationError{}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			out.Fields = append(out.Fields, FieldError{Field: trimRoot(fe.Namespace()), Message: describe(fe)})
		}
	}
	if cfg.Transport.Driver == "telegram" && strings.TrimSpace(cfg.Transport.Telegram.Token) == "" {
		out.Fields = append(out.Fields, FieldError{Field: "transport.telegram.token", Message: "required for telegram driver"})
	}
	if cfg.HTTP.Enabled && cfg.HTTP.Port == 0 {
		out.Fields = append(out.Fields, FieldError{Field: "http.port", Message: "required when http.enabled"})
	}
	if cfg.Storage != nil {
		d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
		if d != "" && d != "none" && strings.TrimSpace(cfg.Storage.Path) == "" {
			out.Fields = append(out.Fields, FieldError{Field: "storage.path", Message: "required for driver " + d})
		}
	}
	if cfg.Logging.Chat.Enabled && strings.TrimSpace(cfg.Bot.DefaultChannel) == "" {
		out.Fields = append(out.Fields, FieldError{Field: "logging.chat.enabled", Message: "requires bot.default_channel"})
	}
	if len(out.Fields) > 0 {
		return out
	}
	return nil
}

func trimRoot(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "duration":
		return fmt.Sprintf("invalid duration %q", fe.Value())
	case "loglevel":
		return fmt.Sprintf("unknown level %q", fe.Value())
	case "timezone":
		return fmt.Sprintf("unknown timezone %q", fe.Value())
	case "chattarget":
		return fmt.Sprintf("invalid chat target %q (want <chat_id> or <chat_id>/<thread_id>)", fe.Value())
	case "gte", "lte":
		return fmt.Sprintf("must be %s %s", fe.Tag(), fe.Param())
	default:
		return "failed " + fe.Tag()
	}
}
