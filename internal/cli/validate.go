package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/denismitr/dstore"
	"github.com/spf13/cobra"
)

type fieldSummary struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Target   string `json:"target,omitempty"`
	Key      string `json:"key"`
	Embedded bool   `json:"embedded,omitempty"`
}

type modelSummary struct {
	Name         string         `json:"name"`
	PrimaryKey   string         `json:"primaryKey"`
	Attributes   []fieldSummary `json:"attributes"`
	Associations []fieldSummary `json:"associations,omitempty"`
}

func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema.yaml>",
		Short: "Validate a schema and print the storage keys of every field",
		Args:  cobra.ExactArgs(1),
		// errors are reported by main with their exit code
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := loadSchema(args[0])
			if err != nil {
				return err
			}

			summaries := summarize(schema)
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), summaries)
			}

			printSummaries(cmd.OutOrStdout(), summaries)
			return nil
		},
	}

	return cmd
}

func loadSchema(path string) (*dstore.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "could not read schema", err)
	}

	schema, err := dstore.ParseSchema(data, nil)
	if err != nil {
		return nil, WrapExitError(ExitFailure, path, err)
	}

	return schema, nil
}

func summarize(schema *dstore.Schema) []modelSummary {
	var out []modelSummary
	for _, m := range schema.Models() {
		s := modelSummary{Name: m.Name(), PrimaryKey: m.PrimaryKey()}

		for _, a := range m.Attributes() {
			s.Attributes = append(s.Attributes, fieldSummary{Name: a.Name, Type: a.Type, Key: a.Key})
		}

		for _, a := range m.Associations() {
			s.Associations = append(s.Associations, fieldSummary{
				Name:     a.Name,
				Kind:     a.Kind.String(),
				Target:   a.Target.Name(),
				Key:      a.Key,
				Embedded: a.Embedded,
			})
		}

		out = append(out, s)
	}
	return out
}

func printSummaries(w io.Writer, summaries []modelSummary) {
	for _, s := range summaries {
		fmt.Fprintf(w, "%s (primary key %s)\n", s.Name, s.PrimaryKey)
		for _, a := range s.Attributes {
			fmt.Fprintf(w, "  %s %s -> %s\n", a.Name, a.Type, a.Key)
		}
		for _, a := range s.Associations {
			embedded := ""
			if a.Embedded {
				embedded = " embedded"
			}
			fmt.Fprintf(w, "  %s %s %s%s -> %s\n", a.Name, a.Kind, a.Target, embedded, a.Key)
		}
	}
}
