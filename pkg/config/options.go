package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"github.com/openfroyo/cookbot/pkg/engine"
)

var optionValidator = newOptionValidator()

func newOptionValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report option keys rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// DecodeOptions decodes flat recipe options into out, a pointer to a struct
// tagged with `mapstructure` keys and `validate` rules. Strings are converted
// to the field types: "true" to bool, "0644" to an octal number, "30s" to a
// time.Duration, and whitespace separated words to a []string.
func DecodeOptions(options engine.Options, out interface{}) error {
	input := make(map[string]interface{}, len(options))
	for k, v := range options {
		input[k] = v
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToFieldsHook,
		),
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("failed to create options decoder: %w", err)
	}

	if err := decoder.Decode(input); err != nil {
		return engine.NewValidationError("invalid options", err)
	}

	if err := optionValidator.Struct(out); err != nil {
		return engine.NewValidationError("invalid options", formatValidation(err))
	}
	return nil
}

func stringToFieldsHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.String {
		return data, nil
	}
	return strings.Fields(data.(string)), nil
}

func formatValidation(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("option %q is required", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("option %q must be one of [%s]", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("option %q failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		}
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
