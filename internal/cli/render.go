package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/yangwenmai/labnotebook/internal/blob"
	"github.com/yangwenmai/labnotebook/internal/integration"
	"github.com/yangwenmai/labnotebook/internal/model"
)

type notebookList []model.Notebook

func (l notebookList) RenderText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "No notebooks.")
		return err
	}
	for _, nb := range l {
		fmt.Fprintf(w, "%s  %s\n", nb.ID, nb.Title)
	}
	return nil
}

type notebookDetail struct {
	Notebook model.Notebook `json:"notebook"`
	Pages    []model.Page   `json:"pages"`
}

func (d notebookDetail) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "ID:          %s\n", d.Notebook.ID)
	fmt.Fprintf(w, "Title:       %s\n", d.Notebook.Title)
	if d.Notebook.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", d.Notebook.Description)
	}
	fmt.Fprintf(w, "Created:     %s\n", d.Notebook.CreatedAt)
	fmt.Fprintf(w, "Pages (%d):\n", len(d.Pages))
	for _, p := range d.Pages {
		fmt.Fprintf(w, "  %s  %s\n", p.ID, p.Title)
	}
	return nil
}

type pageList []model.Page

func (l pageList) RenderText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "No pages.")
		return err
	}
	for _, p := range l {
		fmt.Fprintf(w, "%s  %s\n", p.ID, p.Title)
	}
	return nil
}

type pageDetail struct {
	Page    model.Page    `json:"page"`
	Entries []model.Entry `json:"entries"`
}

var narrativeKeys = []string{"goals", "hypothesis", "observations", "conclusions", "next_steps"}

func (d pageDetail) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "ID:       %s\n", d.Page.ID)
	fmt.Fprintf(w, "Notebook: %s\n", d.Page.NotebookID)
	fmt.Fprintf(w, "Title:    %s\n", d.Page.Title)
	for _, k := range narrativeKeys {
		if s, _ := d.Page.Narrative[k].(string); s != "" {
			fmt.Fprintf(w, "%s: %s\n", k, s)
		}
	}
	fmt.Fprintf(w, "Entries (%d):\n", len(d.Entries))
	for _, e := range d.Entries {
		fmt.Fprintf(w, "  %s\n", entryLine(e))
	}
	return nil
}

func entryLine(e model.Entry) string {
	return fmt.Sprintf("%s  %s  %s  [%s]", e.ID, e.EntryType, e.Title, e.Status)
}

type entryList []model.Entry

func (l entryList) RenderText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "No entries.")
		return err
	}
	for _, e := range l {
		fmt.Fprintln(w, entryLine(e))
	}
	return nil
}

type entryDetail model.EntryWithArtifacts

func (d entryDetail) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "ID:      %s\n", d.ID)
	fmt.Fprintf(w, "Title:   %s\n", d.Title)
	fmt.Fprintf(w, "Type:    %s\n", d.EntryType)
	fmt.Fprintf(w, "Status:  %s\n", d.Status)
	fmt.Fprintf(w, "Page:    %s\n", d.PageID)
	if d.ParentID != nil {
		fmt.Fprintf(w, "Parent:  %s\n", *d.ParentID)
	}
	if len(d.Tags) > 0 {
		fmt.Fprintf(w, "Tags:    %s\n", strings.Join(d.Tags, ", "))
	}
	fmt.Fprintf(w, "Created: %s\n", d.CreatedAt)
	fmt.Fprintf(w, "Updated: %s\n", d.UpdatedAt)
	if x := d.Execution; x != nil {
		fmt.Fprintf(w, "Run:     %s %s -> %s\n", x.Status, x.StartedAt, x.CompletedAt)
		if x.Error != "" {
			fmt.Fprintf(w, "Error:   %s\n", x.Error)
		}
	}
	writeObject(w, "Inputs", d.Inputs)
	writeObject(w, "Outputs", d.Outputs)
	if len(d.Artifacts) > 0 {
		fmt.Fprintf(w, "Artifacts (%d):\n", len(d.Artifacts))
		for _, a := range d.Artifacts {
			fmt.Fprintf(w, "  %s  %s  %s  %s\n", a.ID, a.Type, humanize.Bytes(uint64(a.Size)), a.Hash)
		}
	}
	return nil
}

func writeObject(w io.Writer, label string, o model.Object) {
	if len(o) == 0 {
		fmt.Fprintf(w, "%s: {}\n", label)
		return
	}
	b, err := json.MarshalIndent(o, "  ", "  ")
	if err != nil {
		fmt.Fprintf(w, "%s: <%v>\n", label, err)
		return
	}
	fmt.Fprintf(w, "%s:\n  %s\n", label, b)
}

type lineageView model.Lineage

// RenderText prints the entry followed by its ancestors nearest first and
// its descendants nearest first.
func (v lineageView) RenderText(w io.Writer) error {
	fmt.Fprintln(w, entryLine(v.Entry))
	writeEntrySection(w, "ancestors", v.Ancestors)
	writeEntrySection(w, "descendants", v.Descendants)
	return nil
}

func writeEntrySection(w io.Writer, name string, entries []model.Entry) {
	if len(entries) == 0 {
		fmt.Fprintf(w, "%s: none\n", name)
		return
	}
	fmt.Fprintf(w, "%s (%d):\n", name, len(entries))
	for _, e := range entries {
		fmt.Fprintf(w, "  %s\n", entryLine(e))
	}
}

type integrationList []integration.Info

func (l integrationList) RenderText(w io.Writer) error {
	for _, info := range l {
		line := info.Type
		if info.Description != "" {
			line += ": " + info.Description
		}
		if info.Validates {
			line += " (validates inputs)"
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

type variableList []model.IntegrationVariable

func (l variableList) RenderText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "No variables.")
		return err
	}
	for _, v := range l {
		val, err := json.Marshal(v.Value)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s.%s = %s", v.IntegrationType, v.Name, val)
		if v.Description != "" {
			fmt.Fprintf(w, "  # %s", v.Description)
		}
		fmt.Fprintln(w)
	}
	return nil
}

type blobPut struct {
	Ref      string          `json:"ref"`
	Size     int64           `json:"size_bytes"`
	MIMEType string          `json:"mime_type,omitempty"`
	Artifact *model.Artifact `json:"artifact,omitempty"`
}

func (p blobPut) RenderText(w io.Writer) error {
	if p.Artifact != nil {
		fmt.Fprintf(w, "%s  %s  %s\n", p.Artifact.ID, p.Ref, humanize.Bytes(uint64(p.Size)))
		return nil
	}
	_, err := fmt.Fprintf(w, "%s  %s\n", p.Ref, humanize.Bytes(uint64(p.Size)))
	return err
}

type blobStats blob.Stats

func (s blobStats) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%d blobs, %s\n", s.Blobs, humanize.Bytes(uint64(s.Bytes)))
	return err
}

type verifyReport struct {
	Mismatches []blob.Mismatch `json:"mismatches"`
}

func (r verifyReport) RenderText(w io.Writer) error {
	if len(r.Mismatches) == 0 {
		_, err := fmt.Fprintln(w, "All blobs verified.")
		return err
	}
	for _, m := range r.Mismatches {
		fmt.Fprintf(w, "corrupt %s (content hashes to %s)\n", m.Ref, m.Actual)
	}
	return nil
}

type gcReport blob.GCReport

func (r gcReport) RenderText(w io.Writer) error {
	verb := "removed"
	if r.DryRun {
		verb = "would remove"
	}
	for _, ref := range r.Removed {
		fmt.Fprintf(w, "%s %s\n", verb, ref)
	}
	fmt.Fprintf(w, "scanned %d blobs, %s %d (%s)", r.Scanned, verb, len(r.Removed), humanize.Bytes(uint64(r.BytesFreed)))
	if r.Skipped > 0 {
		fmt.Fprintf(w, ", kept %d recent", r.Skipped)
	}
	_, err := fmt.Fprintln(w)
	return err
}

type deleted struct {
	ID string `json:"deleted"`
}

func (d deleted) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Deleted %s\n", d.ID)
	return err
}
