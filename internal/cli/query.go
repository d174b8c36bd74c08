package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/denismitr/dstore"
	"github.com/denismitr/dstore/adapter/memory"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type QueryOptions struct {
	Where        string
	Associations bool
	Dump         string
}

func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query <schema.yaml> <model> <fixtures.json>",
		Short: "Load fixtures into a store and print the matching records",
		Long: `Seeds an in-memory adapter with the fixtures of one model, loads them
through a store and prints every record, or only those matching --where.

Fixtures are a JSON object or an array of objects keyed by storage key.
Comments and trailing commas are allowed.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, rootOpts, opts, args[0], args[1], args[2])
		},
	}

	cmd.Flags().StringVarP(&opts.Where, "where", "w", "", "filter expression evaluated against each record")
	cmd.Flags().BoolVar(&opts.Associations, "associations", false, "serialize associations too")
	cmd.Flags().StringVar(&opts.Dump, "dump", "", "write the seeded adapter to this file")

	return cmd
}

func runQuery(cmd *cobra.Command, rootOpts *RootOptions, opts *QueryOptions, schemaPath, model, fixturesPath string) error {
	schema, err := loadSchema(schemaPath)
	if err != nil {
		return err
	}

	m, ok := schema.Model(model)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("model %s is not declared in %s", model, schemaPath))
	}

	data, err := os.ReadFile(fixturesPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "could not read fixtures", err)
	}

	hashes, err := dstore.ParseHashes(data)
	if err != nil {
		return WrapExitError(ExitFailure, fixturesPath, err)
	}

	logger := rootOpts.logger(cmd.ErrOrStderr())
	adapter := memory.New(memory.Config{Logger: logger})
	if err := adapter.Seed(m, hashes...); err != nil {
		return WrapExitError(ExitFailure, fixturesPath, err)
	}

	if opts.Dump != "" {
		if err := dump(adapter, opts.Dump); err != nil {
			return WrapExitError(ExitCommandError, "could not write dump", err)
		}
	}

	s := dstore.New(&dstore.Config{Adapter: adapter, Logger: logger})
	c := s.FindAll(m)
	if opts.Where != "" {
		c.Close()
		if c, err = s.FilterExpr(m, opts.Where); err != nil {
			return WrapExitError(ExitFailure, "bad --where", err)
		}
	}
	defer c.Close()

	var serialize []dstore.SerializeOption
	if opts.Associations {
		serialize = append(serialize, dstore.IncludeAssociations())
	}

	out := make([]dstore.Hash, 0, c.Len())
	for _, r := range c.Records() {
		out = append(out, r.ToJSON(serialize...))
	}

	if rootOpts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), out)
	}

	for i, h := range out {
		line, err := json.Marshal(h)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", c.At(i), line)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d record(s)\n", len(out))
	return nil
}

func dump(adapter *memory.Adapter, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if _, err := adapter.WriteTo(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "dump to %s", path)
	}

	return f.Close()
}
