package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	catalogform "github.com/goliatone/go-catalogform"
	"github.com/goliatone/go-catalogform/pkg/buffer"
	"github.com/goliatone/go-catalogform/pkg/validation"
)

var errValidationFailed = errors.New("validation failed")

func registerValidateCmd(parent *cobra.Command, a *app) {
	var (
		input      string
		schemaPath string
		secondary  string
	)
	cmd := &cobra.Command{
		Use:   "validate [item] [version]",
		Short: "Validate a configuration document against a catalog item",
		Long: `Validates a JSON or YAML document against the primary schema of a catalog
item and the additional schema selected by its trigger field.

With --schema the primary schema is read from a file or URL instead of the
catalog; --secondary optionally names the additional schema the same way.`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd.InOrStdin(), input)
			if err != nil {
				return err
			}

			var result validation.Result
			switch {
			case schemaPath != "":
				result, err = validateFiles(cmd, a, doc, schemaPath, secondary)
			case len(args) > 0:
				backend, openErr := catalogform.OpenBackend(cmd.Context(), a.cfg, a.logger)
				if openErr != nil {
					return openErr
				}
				defer backend.Close()
				result, err = backend.Check(cmd.Context(), args[0], versionArg(args), doc)
			default:
				return errors.New("an item or --schema is required")
			}
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "document to validate (- for stdin)")
	cmd.Flags().StringVar(&schemaPath, "schema", "", "primary schema file or URL")
	cmd.Flags().StringVar(&secondary, "secondary", "", "additional schema file or URL")
	parent.AddCommand(cmd)
}

func validateFiles(cmd *cobra.Command, a *app, doc buffer.Values, primaryPath, secondaryPath string) (validation.Result, error) {
	primary, err := catalogform.LoadSchema(cmd.Context(), primaryPath, a.cfg)
	if err != nil {
		return validation.Result{}, err
	}
	validator := validation.New(validation.WithEmptyAsMissing(a.cfg.TreatEmptyAsMissing()))
	if secondaryPath == "" {
		return validator.Validate(doc, primary, nil, nil), nil
	}
	secondary, err := catalogform.LoadSchema(cmd.Context(), secondaryPath, a.cfg)
	if err != nil {
		return validation.Result{}, err
	}
	return validator.Validate(doc, primary, catalogform.SecondaryValues(doc, secondary), &secondary), nil
}

func readDocument(stdin io.Reader, path string) (buffer.Values, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	// JSON documents are valid YAML.
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return buffer.Normalize(raw)
}

func printResult(w io.Writer, result validation.Result) error {
	if result.Passed {
		fmt.Fprintln(w, "valid")
		return nil
	}
	printErrors(w, "main form", result.ErrorsFor(validation.OwnerPrimary))
	printErrors(w, "additional form", result.ErrorsFor(validation.OwnerSecondary))
	return errValidationFailed
}

func printErrors(w io.Writer, title string, errs map[string][]string) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	fields := make([]string, 0, len(errs))
	for field := range errs {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		for _, message := range errs[field] {
			fmt.Fprintf(w, "  %s: %s\n", field, message)
		}
	}
}

func versionArg(args []string) string {
	if len(args) > 1 {
		return args[1]
	}
	return ""
}
