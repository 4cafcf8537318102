package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/giantswarm/guard/validation"
)

// errRejected makes the process exit non-zero after the result is printed.
var errRejected = errors.New("input rejected")

type validateOptions struct {
	*rootOptions

	file       string
	schemaFile string
	email      string
	url        string
	allowHTML  bool
}

func newValidateCommand(root *rootOptions) *cobra.Command {
	opts := &validateOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "validate [text...]",
		Short: "Scan input for threats and print the sanitized result",
		Long: `Scan input the way the HTTP middleware does and print the result as JSON.

Input is taken from --email, --url, --file (JSON), the arguments joined by
spaces, or stdin, in that order. The command exits non-zero when the input
is rejected.`,
		Example: `  guardd validate "Robert'); DROP TABLE students;--"
  guardd validate --url http://169.254.169.254/latest
  guardd validate --file order.json --schema order.schema.json`,
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.file, "file", "", "JSON document to validate")
	flags.StringVar(&opts.schemaFile, "schema", "", "JSON Schema the document must satisfy")
	flags.StringVar(&opts.email, "email", "", "email address to validate")
	flags.StringVar(&opts.url, "url", "", "URL to validate")
	flags.BoolVar(&opts.allowHTML, "allow-html", false, "keep safe markup instead of escaping it")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		logger, err := opts.newLogger("warn")
		if err != nil {
			return err
		}
		v := validation.New(validation.Config{Logger: logger})
		ctx := cmd.Context()

		var res validation.Result
		switch {
		case opts.email != "":
			res = v.ValidateEmail(ctx, opts.email)
		case opts.url != "":
			res = v.ValidateURL(ctx, opts.url)
		default:
			input, err := opts.readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			schema, err := opts.loadSchema()
			if err != nil {
				return err
			}
			sanitize := validation.DefaultSanitizeOptions()
			sanitize.AllowHTML = opts.allowHTML
			res = v.ValidateInput(ctx, input, schema, &validation.Options{Sanitize: &sanitize})
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
		if !res.Success {
			return errRejected
		}
		return nil
	}
	return cmd
}

func (o *validateOptions) readInput(stdin io.Reader, args []string) (any, error) {
	if o.file != "" {
		raw, err := os.ReadFile(filepath.Clean(o.file))
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("input file is not valid JSON: %w", err)
		}
		return doc, nil
	}

	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	raw, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimRight(string(raw), "\r\n"), nil
}

func (o *validateOptions) loadSchema() (validation.Schema, error) {
	if o.schemaFile == "" {
		return validation.Any(), nil
	}
	doc, err := os.ReadFile(filepath.Clean(o.schemaFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	schema, err := validation.CompileJSONSchema(filepath.Base(o.schemaFile), doc)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return schema, nil
}
