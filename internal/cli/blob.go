package cli

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/yangwenmai/labnotebook/internal/blob"
	"github.com/yangwenmai/labnotebook/internal/integration"
	"github.com/yangwenmai/labnotebook/internal/model"
	"github.com/yangwenmai/labnotebook/internal/workspace"
)

// NewBlobCommand creates the blob command group.
func NewBlobCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blob",
		Short: "Inspect and maintain the content store",
	}
	cmd.AddCommand(newBlobPutCommand(rootOpts))
	cmd.AddCommand(newBlobGetCommand(rootOpts))
	cmd.AddCommand(newBlobStatCommand(rootOpts))
	cmd.AddCommand(newBlobVerifyCommand(rootOpts))
	cmd.AddCommand(newBlobGCCommand(rootOpts))
	return cmd
}

// BlobPutOptions holds flags for blob put.
type BlobPutOptions struct {
	*RootOptions
	MIMEType string
	EntryID  string
}

func newBlobPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BlobPutOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Store a file and print its content reference",
		Long: `Store a file in the content store. Identical content is stored once.
With --entry the file is also recorded as an artifact of that entry.`,
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBlobPut(opts, cmd, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.MIMEType, "mime", "", "MIME type (default detected from extension or content)")
	cmd.Flags().StringVar(&opts.EntryID, "entry", "", "attach as an artifact of this entry")
	return cmd
}

func runBlobPut(opts *BlobPutOptions, cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitUsage, "read file", err)
	}
	mimeType := opts.MIMEType
	if mimeType == "" {
		mimeType = detectMIME(path, data)
	}
	return opts.withWorkspace(func(ws *workspace.Workspace) error {
		res := blobPut{Size: int64(len(data)), MIMEType: mimeType}
		if opts.EntryID != "" {
			a, err := ws.Engine.AddArtifact(cmd.Context(), opts.EntryID, integration.ArtifactData{
				Type:     mimeType,
				Data:     data,
				Metadata: model.Object{"filename": filepath.Base(path)},
			})
			if err != nil {
				return classify("add artifact", err)
			}
			res.Ref = a.Hash
			res.Artifact = &a
		} else {
			info, err := ws.Engine.StoreContent(cmd.Context(), data, mimeType)
			if err != nil {
				return classify("store blob", err)
			}
			res.Ref = info.Ref
		}
		return opts.output(cmd).Success(res)
	})
}

func detectMIME(path string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func newBlobGetCommand(rootOpts *RootOptions) *cobra.Command {
	var output string
	var thumbnail bool
	cmd := &cobra.Command{
		Use:           "get <ref>",
		Short:         "Write blob content to stdout or a file",
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withWorkspace(func(ws *workspace.Workspace) error {
				var src io.Reader
				if thumbnail {
					data, err := ws.Blobs.Thumbnail(cmd.Context(), args[0])
					if err != nil {
						return classify("read thumbnail", err)
					}
					src = bytes.NewReader(data)
				} else {
					rc, err := ws.Blobs.Open(args[0])
					if err != nil {
						return classify("open blob", err)
					}
					defer rc.Close()
					src = rc
				}

				dst := cmd.OutOrStdout()
				if output != "" && output != "-" {
					f, err := os.Create(output)
					if err != nil {
						return WrapExitError(ExitFailure, "create output", err)
					}
					defer f.Close()
					dst = f
				}
				if _, err := io.Copy(dst, src); err != nil {
					return WrapExitError(ExitStorage, "copy blob", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&thumbnail, "thumbnail", false, "read the derived thumbnail instead")
	return cmd
}

func newBlobStatCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stat [ref]",
		Short:         "Show the size of a blob or of the whole store",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withWorkspace(func(ws *workspace.Workspace) error {
				if len(args) == 1 {
					size, err := ws.Blobs.Size(args[0])
					if err != nil {
						return classify("stat blob", err)
					}
					return rootOpts.output(cmd).Success(blobPut{Ref: args[0], Size: size})
				}
				st, err := ws.Blobs.Stats(cmd.Context())
				if err != nil {
					return classify("stat store", err)
				}
				return rootOpts.output(cmd).Success(blobStats(st))
			})
		},
	}
}

func newBlobVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Rehash every blob and report corruption",
		Long: `Rehash every stored blob and compare it with its reference.
Exits with code 4 when any blob is corrupt.`,
		Args:          exactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withWorkspace(func(ws *workspace.Workspace) error {
				mm, err := ws.Blobs.Verify(cmd.Context())
				if err != nil {
					return classify("verify", err)
				}
				if mm == nil {
					mm = []blob.Mismatch{}
				}
				if err := rootOpts.output(cmd).Success(verifyReport{Mismatches: mm}); err != nil {
					return err
				}
				if len(mm) > 0 {
					return NewExitError(ExitStorage, fmt.Sprintf("%d corrupt blobs", len(mm)))
				}
				return nil
			})
		},
	}
}

func newBlobGCCommand(rootOpts *RootOptions) *cobra.Command {
	var dryRun bool
	var minAge time.Duration
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Remove blobs no artifact references",
		Long: `Delete every blob that no artifact record references, with its
thumbnail. Blobs modified within --min-age are kept because an entry may be
ingesting them; the default comes from gc_min_age in the workspace config.

Examples:
  labnb blob gc --dry-run
  labnb blob gc --min-age 0`,
		Args:          exactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("min-age") {
				minAge = rootOpts.config.GCMinAge
			}
			if minAge < 0 {
				return NewExitError(ExitUsage, "--min-age must not be negative")
			}
			return rootOpts.withWorkspace(func(ws *workspace.Workspace) error {
				report, err := ws.Engine.CollectGarbage(cmd.Context(), blob.GCOptions{DryRun: dryRun, MinAge: minAge})
				if err != nil {
					return classify("gc", err)
				}
				if report.Removed == nil {
					report.Removed = []string{}
				}
				return rootOpts.output(cmd).Success(gcReport(report))
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list what would be removed without deleting")
	cmd.Flags().DurationVar(&minAge, "min-age", 0, "keep blobs modified more recently than this (default from config)")
	return cmd
}
