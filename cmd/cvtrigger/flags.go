package main

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sznuper/cvtrigger/internal/config"
)

// binaryFlag is a boolean flag spelled 0 or 1.
type binaryFlag bool

func (b *binaryFlag) String() string {
	if *b {
		return "1"
	}
	return "0"
}

func (b *binaryFlag) Set(s string) error {
	switch s {
	case "0":
		*b = false
	case "1":
		*b = true
	default:
		return fmt.Errorf("must be 0 or 1, got %q", s)
	}
	return nil
}

func (b *binaryFlag) Type() string {
	return "0|1"
}

var flagUsage = map[string]string{
	"host":            "controller host name or IP",
	"port":            "controller port (1-65535)",
	"program":         "program index to select (0-31)",
	"reset":           "use a hard reset (RS) instead of clearing errors (CE)",
	"repeat":          "repeat interval in milliseconds, 0 runs once",
	"schedule":        "cron schedule for repeated cycles, instead of --repeat",
	"inline-image":    "embed the image as base64 instead of its path",
	"debug":           "debug logging, and keep the controller state after a cycle",
	"output-dir":      "directory the controller logs are written to",
	"connect-retry":   "keep retrying the connection for this long (e.g. 30s)",
	"command-timeout": "round-trip timeout for one command",
	"metrics-addr":    "serve Prometheus metrics on host:port",
}

// flagName derives the flag name from the yaml struct tag (snake_case →
// kebab-case). Fields without a scalar type get no flag.
func flagName(f reflect.StructField) (string, bool) {
	tag, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	if tag == "" || tag == "-" {
		return "", false
	}
	switch f.Type.Kind() {
	case reflect.String, reflect.Int, reflect.Bool:
		return strings.ReplaceAll(tag, "_", "-"), true
	default:
		return "", false
	}
}

// registerConfigFlags adds a persistent flag for every scalar field in
// config.Config, with the built-in defaults shown in the help text.
func registerConfigFlags(cmd *cobra.Command) {
	defaults := reflect.ValueOf(config.Defaults()).Elem()
	t := defaults.Type()
	flags := cmd.PersistentFlags()

	for i := range t.NumField() {
		name, ok := flagName(t.Field(i))
		if !ok {
			continue
		}
		usage := flagUsage[name]
		field := defaults.Field(i)

		switch field.Kind() {
		case reflect.String:
			flags.String(name, field.String(), usage)
		case reflect.Int:
			flags.Int(name, int(field.Int()), usage)
		case reflect.Bool:
			b := binaryFlag(field.Bool())
			flags.Var(&b, name, usage)
		}
	}
}

// applyConfigFlags overlays CLI flag values onto the config. Only flags
// explicitly set by the user are applied.
func applyConfigFlags(cmd *cobra.Command, cfg *config.Config) error {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()

	for i := range t.NumField() {
		name, ok := flagName(t.Field(i))
		if !ok || !cmd.Flags().Changed(name) {
			continue
		}

		field := v.Field(i)
		switch field.Kind() {
		case reflect.String:
			val, err := cmd.Flags().GetString(name)
			if err != nil {
				return err
			}
			field.SetString(val)
		case reflect.Int:
			val, err := cmd.Flags().GetInt(name)
			if err != nil {
				return err
			}
			field.SetInt(int64(val))
		case reflect.Bool:
			b, ok := cmd.Flags().Lookup(name).Value.(*binaryFlag)
			if !ok {
				return fmt.Errorf("flag --%s is not a 0|1 flag", name)
			}
			field.SetBool(bool(*b))
		}
	}
	return nil
}
