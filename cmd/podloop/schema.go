package main

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"podloop/internal/config"
	"podloop/internal/ipc"
	"podloop/internal/statews"
)

// schemaTargets maps schema names to the value reflected for them.
var schemaTargets = map[string]any{
	"state":       &statews.StateFrame{},
	"envelope":    &statews.Envelope{},
	"ipc-request": &ipc.Request{},
	"ipc-reply":   &ipc.Response{},
	"config":      &config.Config{},
}

func newSchemaCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print JSON schemas for the state stream, IPC and config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, ok := schemaTargets[target]
			if !ok {
				return fmt.Errorf("unknown schema %q", target)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(reflectSchema(target, v))
		},
	}
	cmd.Flags().StringVar(&target, "for", "state", "schema to print: state, envelope, ipc-request, ipc-reply, config")
	return cmd
}

func reflectSchema(target string, v any) *jsonschema.Schema {
	reflector := new(jsonschema.Reflector)
	reflector.Anonymous = true
	reflector.Namer = func(t reflect.Type) string {
		return t.Name()
	}
	if target == "config" {
		reflector.FieldNameTag = "yaml"
	}
	return reflector.Reflect(v)
}
