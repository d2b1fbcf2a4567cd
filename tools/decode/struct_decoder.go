package decode

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Options customises Decode behaviour.
type Options struct {
	// Loose decoding, e.g. "123" -> int, 1.0 -> int64. Default true.
	WeaklyTypedInput bool
	// Reject keys that have no matching field.
	ErrorUnused bool
	// Struct tag used to match keys. Default "json".
	TagName string
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		WeaklyTypedInput: true,
		TagName:          "json",
	}
}

// WithWeaklyTypedInput is a shortcut.
func WithWeaklyTypedInput(v bool) Options {
	o := DefaultOptions()
	o.WeaklyTypedInput = v
	return o
}

// DecodeMap decodes a generic map (JSON, YAML, TOML or env overlay output)
// into a new T. Durations accept Go duration strings ("15s").
func DecodeMap[T any](m map[string]any, opts ...Options) (*T, error) {
	var out T
	if err := DecodeInto(m, &out, opts...); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecodeInto decodes m over an existing value, keeping fields m does not set.
func DecodeInto(m map[string]any, out any, opts ...Options) error {
	if m == nil {
		return fmt.Errorf("map is nil")
	}
	dec, err := newDecoder(out, opts...)
	if err != nil {
		return err
	}
	if err := dec.Decode(m); err != nil {
		return fmt.Errorf("decode struct: %w", err)
	}
	return nil
}

// DecodeArgs binds positional hub arguments to out, one pointer per argument.
// The count must match exactly, scalar types are not coerced and a null
// argument is an error.
func DecodeArgs(args []any, out ...any) error {
	if len(args) != len(out) {
		return fmt.Errorf("argument count: want %d, got %d", len(out), len(args))
	}
	opts := DefaultOptions()
	opts.WeaklyTypedInput = false
	for i, arg := range args {
		if arg == nil {
			return fmt.Errorf("argument %d: null", i)
		}
		dec, err := newDecoder(out[i], opts)
		if err != nil {
			return err
		}
		if err := dec.Decode(arg); err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return nil
}

func newDecoder(result any, opts ...Options) (*mapstructure.Decoder, error) {
	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}
	if cfg.TagName == "" {
		cfg.TagName = "json"
	}

	decCfg := &mapstructure.DecoderConfig{
		TagName:          cfg.TagName,
		Result:           result,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		ErrorUnused:      cfg.ErrorUnused,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			floatToIntHook(),
			sliceAnyToSliceStringHook(),
			jsonRawStringToMapHook(),
		),
	}

	dec, err := mapstructure.NewDecoder(decCfg)
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	return dec, nil
}

// -----------------------------
// Decode Hooks
// -----------------------------

// floatToIntHook converts whole float64 values (JSON numbers) to int kinds.
func floatToIntHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		f := data.(float64)
		if f != float64(int64(f)) {
			return data, nil
		}
		switch to {
		case reflect.Int:
			return int(f), nil
		case reflect.Int32:
			return int32(f), nil
		case reflect.Int64:
			return int64(f), nil
		}
		return data, nil
	}
}

// sliceAnyToSliceStringHook converts []any to []string when the target is []string.
func sliceAnyToSliceStringHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.Slice || to != reflect.TypeOf([]string(nil)) {
			return data, nil
		}
		src, ok := data.([]any)
		if !ok {
			return data, nil
		}
		out := make([]string, 0, len(src))
		for _, it := range src {
			switch v := it.(type) {
			case string:
				out = append(out, v)
			case json.Number:
				out = append(out, v.String())
			default:
				b, _ := json.Marshal(v)
				out = append(out, string(b))
			}
		}
		return out, nil
	}
}

// jsonRawStringToMapHook turns a JSON string into map[string]any for map targets.
func jsonRawStringToMapHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.String || to != reflect.Map {
			return data, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(data.(string)), &m); err == nil {
			return m, nil
		}
		return data, nil
	}
}
