package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/soyeahso/kaggler/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the config file",
		Long: "Keys are dotted paths into the YAML file, e.g. tools.rag.k or llm.model.\n" +
			"Edits keep ${VAR} references and are rejected if they would leave the file unreadable.",
	}

	cmd.AddCommand(
		newConfigGetCmd(),
		newConfigSetCmd(),
		newConfigUnsetCmd(),
		newConfigPathCmd(),
		newConfigValidateCmd(),
	)
	return cmd
}

// editDocument loads the config file, applies edit and writes the result
// back if it still decodes.
func editDocument(out io.Writer, edit func(config.Document) error) error {
	doc, err := config.LoadDocument(paths.Config)
	if err != nil {
		return err
	}
	if err := edit(doc); err != nil {
		return err
	}

	cfg, err := doc.Decode()
	if err != nil {
		return fmt.Errorf("not saved: %w", err)
	}
	if err := doc.Save(paths.Config); err != nil {
		return err
	}

	for _, issue := range config.Validate(&cfg) {
		fmt.Fprintf(out, "  note: %s\n", issue)
	}
	return nil
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored at key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := config.ParseKeyPath(args[0])
			if err != nil {
				return err
			}
			doc, err := config.LoadDocument(paths.Config)
			if err != nil {
				return err
			}
			val, ok := doc.Lookup(key)
			if !ok {
				return fmt.Errorf("%s is not set", key)
			}
			return printValue(cmd.OutOrStdout(), val)
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value at key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := config.ParseKeyPath(args[0])
			if err != nil {
				return err
			}
			value := config.ParseScalar(args[1])

			out := cmd.OutOrStdout()
			err = editDocument(out, func(doc config.Document) error {
				doc.Set(key, value)
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s = %v\n", key, value)
			return nil
		},
	}
}

func newConfigUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove key so its default applies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := config.ParseKeyPath(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			err = editDocument(out, func(doc config.Document) error {
				if !doc.Unset(key) {
					return fmt.Errorf("%s is not set", key)
				}
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s removed\n", key)
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), paths.Config)
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file for problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			issues := config.Validate(&cfg)
			if len(issues) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Config OK")
				return nil
			}
			for _, issue := range issues {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", issue)
			}
			return errValidation(len(issues))
		},
	}
}

// printValue prints scalars bare and sections as YAML.
func printValue(w io.Writer, v any) error {
	switch v.(type) {
	case map[string]any, []any:
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		_, err := fmt.Fprintln(w, v)
		return err
	}
}
