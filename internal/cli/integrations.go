package cli

import (
	"github.com/spf13/cobra"

	"github.com/yangwenmai/labnotebook/internal/workspace"
)

// IntegrationsOptions holds flags for the integrations command.
type IntegrationsOptions struct {
	*RootOptions
	Validate string
	Inputs   string
}

// NewIntegrationsCommand creates the integrations command.
func NewIntegrationsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IntegrationsOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "integrations",
		Short: "List registered entry types",
		Long: `List the entry types an entry can be created with. With --validate
the given inputs are checked against that type without executing anything.

Examples:
  labnb integrations
  labnb integrations --validate api_call --inputs '{"url":"https://example.com"}'`,
		Args:          exactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIntegrations(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Validate, "validate", "", "entry type whose inputs to validate")
	cmd.Flags().StringVar(&opts.Inputs, "inputs", "", "inputs JSON object or @file for --validate")
	return cmd
}

func runIntegrations(opts *IntegrationsOptions, cmd *cobra.Command) error {
	return opts.withWorkspace(func(ws *workspace.Workspace) error {
		if opts.Validate == "" {
			return opts.output(cmd).Success(integrationList(ws.Engine.Integrations()))
		}
		inputs, err := parseObject("inputs", opts.Inputs)
		if err != nil {
			return err
		}
		if err := ws.Engine.ValidateInputs(cmd.Context(), opts.Validate, inputs); err != nil {
			return classify("validate inputs", err)
		}
		if opts.Format == "json" {
			return opts.output(cmd).Success(map[string]any{"type": opts.Validate, "valid": true})
		}
		return opts.output(cmd).Success("Inputs valid for " + opts.Validate)
	})
}
