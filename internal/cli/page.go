package cli

import (
	"github.com/spf13/cobra"

	"github.com/yangwenmai/labnotebook/internal/workspace"
)

// NewPageCommand creates the page command group.
func NewPageCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "page",
		Short: "Manage pages",
	}
	cmd.AddCommand(newPageCreateCommand(rootOpts))
	cmd.AddCommand(newPageListCommand(rootOpts))
	cmd.AddCommand(newPageShowCommand(rootOpts))
	return cmd
}

func newPageCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var notebookID, title, description string
	cmd := &cobra.Command{
		Use:           "create",
		Short:         "Create a page in a notebook",
		Args:          exactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withWorkspace(func(ws *workspace.Workspace) error {
				p, err := ws.Engine.CreatePage(cmd.Context(), notebookID, title, description)
				if err != nil {
					return classify("create page", err)
				}
				if rootOpts.Format == "json" {
					return rootOpts.output(cmd).Success(p)
				}
				return rootOpts.output(cmd).Success(p.ID)
			})
		},
	}
	cmd.Flags().StringVar(&notebookID, "notebook", "", "notebook id (required)")
	_ = cmd.MarkFlagRequired("notebook")
	cmd.Flags().StringVar(&title, "title", "", "page title (required)")
	_ = cmd.MarkFlagRequired("title")
	cmd.Flags().StringVar(&description, "description", "", "page description")
	return cmd
}

func newPageListCommand(rootOpts *RootOptions) *cobra.Command {
	var notebookID string
	cmd := &cobra.Command{
		Use:           "list",
		Aliases:       []string{"ls"},
		Short:         "List the pages of a notebook",
		Args:          exactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withWorkspace(func(ws *workspace.Workspace) error {
				pages, err := ws.Engine.ListPages(cmd.Context(), notebookID)
				if err != nil {
					return classify("list pages", err)
				}
				return rootOpts.output(cmd).Success(pageList(pages))
			})
		},
	}
	cmd.Flags().StringVar(&notebookID, "notebook", "", "notebook id (required)")
	_ = cmd.MarkFlagRequired("notebook")
	return cmd
}

func newPageShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <page-id>",
		Short:         "Show a page and its entries",
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withWorkspace(func(ws *workspace.Workspace) error {
				p, err := ws.Engine.GetPage(cmd.Context(), args[0])
				if err != nil {
					return classify("get page", err)
				}
				entries, err := ws.Engine.ListEntries(cmd.Context(), p.ID)
				if err != nil {
					return classify("list entries", err)
				}
				return rootOpts.output(cmd).Success(pageDetail{Page: *p, Entries: entries})
			})
		},
	}
}
