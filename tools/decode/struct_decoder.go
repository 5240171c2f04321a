package decode

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"
)

// Options controls Decode behavior.
type Options struct {
	// WeaklyTypedInput enables lenient conversions ("123" -> int, 1.0 -> int64).
	WeaklyTypedInput bool
}

func DefaultOptions() Options {
	return Options{WeaklyTypedInput: true}
}

// Map decodes a generic JSON map into an arbitrary struct T, reading fields
// by `json` tag. Unknown keys are ignored; numeric and stringly-typed inputs
// are coerced by the hooks below.
func Map[T any](m map[string]any, opts ...Options) (*T, error) {
	if m == nil {
		return nil, fmt.Errorf("map is nil")
	}

	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	var out T
	decCfg := &mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			floatToIntHook(),
			stringNumberHook(),
		),
	}

	dec, err := mapstructure.NewDecoder(decCfg)
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("decode map: %w", err)
	}
	return &out, nil
}

// floatToIntHook converts float64 JSON numbers to int / int32 / int64 targets.
func floatToIntHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		switch to {
		case reflect.Int:
			return int(data.(float64)), nil
		case reflect.Int32:
			return int32(data.(float64)), nil
		case reflect.Int64:
			return int64(data.(float64)), nil
		}
		return data, nil
	}
}

// stringNumberHook converts numeric strings to integer targets. Legacy rows
// serialize counters as strings.
func stringNumberHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.String {
			return data, nil
		}
		s := data.(string)
		switch to {
		case reflect.Int, reflect.Int32, reflect.Int64:
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n, nil
			}
		}
		return data, nil
	}
}
