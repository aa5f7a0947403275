package cli

import (
	"github.com/spf13/cobra"

	"github.com/yangwenmai/labnotebook/internal/model"
	"github.com/yangwenmai/labnotebook/internal/workspace"
)

// NewVarsCommand creates the vars command group.
func NewVarsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vars",
		Short: "Manage integration variables",
		Long: `Integration variables are stored defaults merged into an entry's
inputs at execution time. Inputs set on the entry always win.`,
	}
	cmd.AddCommand(newVarsSetCommand(rootOpts))
	cmd.AddCommand(newVarsListCommand(rootOpts))
	cmd.AddCommand(newVarsDeleteCommand(rootOpts))
	return cmd
}

func newVarsSetCommand(rootOpts *RootOptions) *cobra.Command {
	var description string
	var secret bool
	cmd := &cobra.Command{
		Use:   "set <integration-type> <name> <value>",
		Short: "Create or replace a variable",
		Long: `Create or replace a variable. The value is parsed as JSON when it is
valid JSON and stored as a plain string otherwise.

Examples:
  labnb vars set api_call base_url https://api.example.com
  labnb vars set api_call headers '{"Authorization":"Bearer ..."}' --secret`,
		Args:          exactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withWorkspace(func(ws *workspace.Workspace) error {
				v, err := ws.Engine.SetVariable(cmd.Context(), model.IntegrationVariable{
					IntegrationType: args[0],
					Name:            args[1],
					Value:           parseValue(args[2]),
					Description:     description,
					IsSecret:        secret,
				})
				if err != nil {
					return classify("set variable", err)
				}
				return rootOpts.output(cmd).Success(variableList{*v})
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "variable description")
	cmd.Flags().BoolVar(&secret, "secret", false, "mask the value in listings")
	return cmd
}

func newVarsListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list [integration-type]",
		Aliases:       []string{"ls"},
		Short:         "List variables, secrets masked",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var typ string
			if len(args) == 1 {
				typ = args[0]
			}
			return rootOpts.withWorkspace(func(ws *workspace.Workspace) error {
				vars, err := ws.Engine.ListVariables(cmd.Context(), typ)
				if err != nil {
					return classify("list variables", err)
				}
				return rootOpts.output(cmd).Success(variableList(vars))
			})
		},
	}
}

func newVarsDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <integration-type> <name>",
		Aliases:       []string{"rm"},
		Short:         "Delete a variable",
		Args:          exactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withWorkspace(func(ws *workspace.Workspace) error {
				if err := ws.Engine.DeleteVariable(cmd.Context(), args[0], args[1]); err != nil {
					return classify("delete variable", err)
				}
				return rootOpts.output(cmd).Success(deleted{ID: args[0] + "." + args[1]})
			})
		},
	}
}
