package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yangwenmai/labnotebook/internal/engine"
	"github.com/yangwenmai/labnotebook/internal/lineage"
	"github.com/yangwenmai/labnotebook/internal/model"
	"github.com/yangwenmai/labnotebook/internal/workspace"
)

// NewEntryCommand creates the entry command group.
func NewEntryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entry",
		Short: "Create, run and inspect entries",
	}
	cmd.AddCommand(newEntryCreateCommand(rootOpts))
	cmd.AddCommand(newEntryShowCommand(rootOpts))
	cmd.AddCommand(newEntryListCommand(rootOpts))
	cmd.AddCommand(newEntryRunCommand(rootOpts))
	cmd.AddCommand(newEntryVaryCommand(rootOpts))
	cmd.AddCommand(newEntryLineageCommand(rootOpts))
	cmd.AddCommand(newEntryUpdateCommand(rootOpts))
	cmd.AddCommand(newEntryDeleteCommand(rootOpts))
	return cmd
}

// EntryCreateOptions holds flags for entry create.
type EntryCreateOptions struct {
	*RootOptions
	PageID    string
	EntryType string
	Title     string
	Inputs    string
	ParentID  string
	Tags      []string
	Run       bool
}

func newEntryCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EntryCreateOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an entry on a page",
		Long: `Create an entry in the created state. With --parent the new entry is
linked to its parent by a derives_from edge.

Examples:
  labnb entry create --page page-... --type api_call --title "Fetch" \
    --inputs '{"url":"https://example.com"}'
  labnb entry create --page page-... --type custom --title "Notes" --inputs @inputs.json --run`,
		Args:          exactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntryCreate(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.PageID, "page", "", "page id (required)")
	_ = cmd.MarkFlagRequired("page")
	cmd.Flags().StringVar(&opts.EntryType, "type", "", "entry type as listed by labnb integrations (required)")
	_ = cmd.MarkFlagRequired("type")
	cmd.Flags().StringVar(&opts.Title, "title", "", "entry title (required)")
	_ = cmd.MarkFlagRequired("title")
	cmd.Flags().StringVar(&opts.Inputs, "inputs", "", "inputs JSON object or @file")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent entry id")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().BoolVar(&opts.Run, "run", false, "execute the entry after creating it")
	return cmd
}

func runEntryCreate(opts *EntryCreateOptions, cmd *cobra.Command) error {
	inputs, err := parseObject("inputs", opts.Inputs)
	if err != nil {
		return err
	}
	p := engine.CreateEntryParams{
		PageID:    opts.PageID,
		EntryType: opts.EntryType,
		Title:     opts.Title,
		Inputs:    inputs,
		Tags:      opts.Tags,
	}
	if opts.ParentID != "" {
		p.ParentID = &opts.ParentID
	}
	return opts.withWorkspace(func(ws *workspace.Workspace) error {
		e, err := ws.Engine.CreateEntry(cmd.Context(), p)
		if err != nil {
			return classify("create entry", err)
		}
		if opts.Run {
			return executeEntry(opts.RootOptions, cmd, ws, e.ID)
		}
		if opts.Format == "json" {
			return opts.output(cmd).Success(e)
		}
		return opts.output(cmd).Success(e.ID)
	})
}

func newEntryShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <entry-id>",
		Short:         "Show an entry with its artifacts",
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withWorkspace(func(ws *workspace.Workspace) error {
				e, err := ws.Engine.GetEntry(cmd.Context(), args[0])
				if err != nil {
					return classify("get entry", err)
				}
				return rootOpts.output(cmd).Success(entryDetail(*e))
			})
		},
	}
}

// EntryListOptions holds flags for entry list.
type EntryListOptions struct {
	*RootOptions
	model.EntryFilter
}

func newEntryListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EntryListOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List or search entries",
		Long: `List the entries of a page, or search across the workspace.

With only --page the page must exist. Any other filter runs a search where
tags match when the entry carries all of them and --query matches titles.`,
		Args:          exactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntryList(opts, cmd)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.PageID, "page", "", "page id")
	f.StringVar(&opts.NotebookID, "notebook", "", "notebook id")
	f.StringVar(&opts.EntryType, "type", "", "entry type")
	f.StringVar(&opts.Status, "status", "", "status (created|running|completed|failed)")
	f.StringSliceVar(&opts.Tags, "tag", nil, "required tag (repeatable)")
	f.StringVar(&opts.Since, "since", "", "created at or after this UTC timestamp, e.g. 2026-01-02")
	f.StringVar(&opts.Until, "until", "", "created at or before this UTC timestamp")
	f.StringVarP(&opts.Query, "query", "q", "", "title substring")
	f.IntVar(&opts.Limit, "limit", 0, "maximum number of entries (0 means no limit)")
	return cmd
}

func runEntryList(opts *EntryListOptions, cmd *cobra.Command) error {
	pageOnly := opts.PageID != "" && opts.NotebookID == "" && opts.EntryType == "" &&
		opts.Status == "" && len(opts.Tags) == 0 && opts.Since == "" && opts.Until == "" &&
		opts.Query == "" && opts.Limit == 0
	return opts.withWorkspace(func(ws *workspace.Workspace) error {
		var entries []model.Entry
		var err error
		if pageOnly {
			entries, err = ws.Engine.ListEntries(cmd.Context(), opts.PageID)
		} else {
			entries, err = ws.Engine.SearchEntries(cmd.Context(), opts.EntryFilter)
		}
		if err != nil {
			return classify("list entries", err)
		}
		return opts.output(cmd).Success(entryList(entries))
	})
}

func newEntryRunCommand(rootOpts *RootOptions) *cobra.Command {
	var async bool
	cmd := &cobra.Command{
		Use:   "run <entry-id>",
		Short: "Execute an entry",
		Long: `Dispatch the entry to the integration registered for its type and
record the outcome. A failed run leaves the entry in the failed state and
exits with a non-zero code.

With --async the entry is queued for the worker started by ` + "`labnb serve`" + `.`,
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withWorkspace(func(ws *workspace.Workspace) error {
				if async {
					qid, err := ws.Engine.Enqueue(cmd.Context(), args[0])
					if err != nil {
						return classify("enqueue entry", err)
					}
					if rootOpts.Format == "json" {
						return rootOpts.output(cmd).Success(map[string]any{"entry_id": args[0], "queue_id": qid, "status": "queued"})
					}
					return rootOpts.output(cmd).Success(fmt.Sprintf("Queued %s (queue id %d)", args[0], qid))
				}
				return executeEntry(rootOpts, cmd, ws, args[0])
			})
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "queue the entry instead of running it")
	return cmd
}

// executeEntry runs an entry and prints the result. On failure the failed
// entry is printed in text mode and attached to the JSON error otherwise.
func executeEntry(opts *RootOptions, cmd *cobra.Command, ws *workspace.Workspace, id string) error {
	e, err := ws.Engine.Execute(cmd.Context(), id)
	if err != nil {
		if e == nil {
			return classify("execute entry", err)
		}
		if opts.Format != "json" {
			fmt.Fprintln(cmd.OutOrStdout(), entryLine(*e))
		}
		exitErr := WrapExitError(exitCodeFor(err), "execute entry", err)
		exitErr.Details = e
		return exitErr
	}
	full, err := ws.Engine.GetEntry(cmd.Context(), e.ID)
	if err != nil {
		return classify("get entry", err)
	}
	return opts.output(cmd).Success(entryDetail(*full))
}

// EntryVaryOptions holds flags for entry vary.
type EntryVaryOptions struct {
	*RootOptions
	Title string
	Set   string
	Tags  []string
	Run   bool
}

func newEntryVaryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EntryVaryOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "vary <entry-id>",
		Short: "Create a variation of an entry",
		Long: `Create a new entry with the original's type and inputs, the --set
object merged one level deep over the inputs. The variation is linked to the
original by a variation_of edge.

Example:
  labnb entry vary entry-... --set '{"params":{"seed":7}}'`,
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntryVary(opts, cmd, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "variation title (default \"<original> (variation)\")")
	cmd.Flags().StringVar(&opts.Set, "set", "", "input overrides JSON object or @file")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "tag (repeatable, default the original's tags)")
	cmd.Flags().BoolVar(&opts.Run, "run", false, "execute the variation after creating it")
	return cmd
}

func runEntryVary(opts *EntryVaryOptions, cmd *cobra.Command, id string) error {
	overrides, err := parseObject("set", opts.Set)
	if err != nil {
		return err
	}
	p := engine.VariationParams{Title: opts.Title, Overrides: overrides}
	if cmd.Flags().Changed("tag") {
		p.Tags = opts.Tags
		if p.Tags == nil {
			p.Tags = []string{}
		}
	}
	return opts.withWorkspace(func(ws *workspace.Workspace) error {
		v, err := ws.Engine.CreateVariation(cmd.Context(), id, p)
		if err != nil {
			return classify("create variation", err)
		}
		if opts.Run {
			return executeEntry(opts.RootOptions, cmd, ws, v.ID)
		}
		if opts.Format == "json" {
			return opts.output(cmd).Success(v)
		}
		return opts.output(cmd).Success(v.ID)
	})
}

func newEntryLineageCommand(rootOpts *RootOptions) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:           "lineage <entry-id>",
		Short:         "Show ancestors and descendants of an entry",
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withWorkspace(func(ws *workspace.Workspace) error {
				l, err := ws.Engine.Lineage(cmd.Context(), args[0], depth)
				if err != nil {
					return classify("lineage", err)
				}
				return rootOpts.output(cmd).Success(lineageView(*l))
			})
		},
	}
	cmd.Flags().IntVar(&depth, "depth", lineage.DefaultDepth, fmt.Sprintf("hops to follow in each direction (1-%d)", lineage.MaxDepth))
	return cmd
}

// EntryUpdateOptions holds flags for entry update.
type EntryUpdateOptions struct {
	*RootOptions
	Title   string
	Status  string
	Tags    []string
	Notes   string
	Outputs string
}

func newEntryUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EntryUpdateOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:           "update <entry-id>",
		Short:         "Update entry fields",
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntryUpdate(opts, cmd, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "new title")
	cmd.Flags().StringVar(&opts.Status, "status", "", "new status")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "replace tags (repeatable)")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "set metadata notes")
	cmd.Flags().StringVar(&opts.Outputs, "outputs", "", "replace outputs with a JSON object or @file")
	return cmd
}

func runEntryUpdate(opts *EntryUpdateOptions, cmd *cobra.Command, id string) error {
	flags := cmd.Flags()
	var patch model.EntryPatch
	if flags.Changed("title") {
		patch.Title = &opts.Title
	}
	if flags.Changed("status") {
		patch.Status = &opts.Status
	}
	if flags.Changed("tag") {
		tags := opts.Tags
		if tags == nil {
			tags = []string{}
		}
		patch.Tags = &tags
	}
	if flags.Changed("outputs") {
		out, err := parseObject("outputs", opts.Outputs)
		if err != nil {
			return err
		}
		if out == nil {
			out = model.Object{}
		}
		patch.Outputs = &out
	}
	return opts.withWorkspace(func(ws *workspace.Workspace) error {
		if flags.Changed("notes") {
			cur, err := ws.Engine.GetEntry(cmd.Context(), id)
			if err != nil {
				return classify("get entry", err)
			}
			meta := cur.Metadata.Clone()
			if meta == nil {
				meta = model.NewEntryMetadata(cur.Tags)
			}
			meta["notes"] = opts.Notes
			patch.Metadata = &meta
		}
		e, err := ws.Engine.UpdateEntry(cmd.Context(), id, patch)
		if err != nil {
			return classify("update entry", err)
		}
		if opts.Format == "json" {
			return opts.output(cmd).Success(e)
		}
		return opts.output(cmd).Success(entryLine(*e))
	})
}

func newEntryDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <entry-id>",
		Aliases:       []string{"rm"},
		Short:         "Delete an entry, its artifact records and lineage edges",
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withWorkspace(func(ws *workspace.Workspace) error {
				if err := ws.Engine.DeleteEntry(cmd.Context(), args[0]); err != nil {
					return classify("delete entry", err)
				}
				return rootOpts.output(cmd).Success(deleted{ID: args[0]})
			})
		},
	}
}
