package cli

import (
	"github.com/spf13/cobra"

	"github.com/yangwenmai/labnotebook/internal/workspace"
)

// NewNotebookCommand creates the notebook command group.
func NewNotebookCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notebook",
		Aliases: []string{"nb"},
		Short:   "Manage notebooks",
	}
	cmd.AddCommand(newNotebookCreateCommand(rootOpts))
	cmd.AddCommand(newNotebookListCommand(rootOpts))
	cmd.AddCommand(newNotebookShowCommand(rootOpts))
	cmd.AddCommand(newNotebookDeleteCommand(rootOpts))
	return cmd
}

func newNotebookCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var title, description, metadata string
	cmd := &cobra.Command{
		Use:           "create",
		Short:         "Create a notebook",
		Args:          exactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := parseObject("metadata", metadata)
			if err != nil {
				return err
			}
			return rootOpts.withWorkspace(func(ws *workspace.Workspace) error {
				nb, err := ws.Engine.CreateNotebook(cmd.Context(), title, description, meta)
				if err != nil {
					return classify("create notebook", err)
				}
				if rootOpts.Format == "json" {
					return rootOpts.output(cmd).Success(nb)
				}
				return rootOpts.output(cmd).Success(nb.ID)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "notebook title (required)")
	_ = cmd.MarkFlagRequired("title")
	cmd.Flags().StringVar(&description, "description", "", "notebook description")
	cmd.Flags().StringVar(&metadata, "metadata", "", "metadata JSON object or @file")
	return cmd
}

func newNotebookListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Aliases:       []string{"ls"},
		Short:         "List notebooks",
		Args:          exactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withWorkspace(func(ws *workspace.Workspace) error {
				nbs, err := ws.Engine.ListNotebooks(cmd.Context())
				if err != nil {
					return classify("list notebooks", err)
				}
				return rootOpts.output(cmd).Success(notebookList(nbs))
			})
		},
	}
}

func newNotebookShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <notebook-id>",
		Short:         "Show a notebook and its pages",
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withWorkspace(func(ws *workspace.Workspace) error {
				nb, err := ws.Engine.GetNotebook(cmd.Context(), args[0])
				if err != nil {
					return classify("get notebook", err)
				}
				pages, err := ws.Engine.ListPages(cmd.Context(), nb.ID)
				if err != nil {
					return classify("list pages", err)
				}
				return rootOpts.output(cmd).Success(notebookDetail{Notebook: *nb, Pages: pages})
			})
		},
	}
}

func newNotebookDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <notebook-id>",
		Aliases:       []string{"rm"},
		Short:         "Delete a notebook with its pages and entries",
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withWorkspace(func(ws *workspace.Workspace) error {
				if err := ws.Engine.DeleteNotebook(cmd.Context(), args[0]); err != nil {
					return classify("delete notebook", err)
				}
				return rootOpts.output(cmd).Success(deleted{ID: args[0]})
			})
		},
	}
}
