package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/carelog/internal/ir"
	"github.com/roach88/carelog/internal/schema"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	DryRun bool
}

// ImportedDocument reports one document of an import.
type ImportedDocument struct {
	Index      int                      `json:"index"`
	Key        string                   `json:"key,omitempty"`
	Violations []schema.ValidationError `json:"violations,omitempty"`
	Repairs    []string                 `json:"repairs,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

// ImportResult holds the overall import result.
type ImportResult struct {
	File      string             `json:"file"`
	DryRun    bool               `json:"dry_run"`
	Documents []ImportedDocument `json:"documents"`
	Imported  int                `json:"imported"`
	Skipped   int                `json:"skipped"`
}

func (r ImportResult) String() string {
	var b strings.Builder
	for _, d := range r.Documents {
		switch {
		case d.Error != "":
			fmt.Fprintf(&b, "✗ [%d] %s\n", d.Index, d.Error)
			continue
		case len(d.Violations) == 0 && len(d.Repairs) == 0:
			fmt.Fprintf(&b, "✓ %s\n", d.Key)
			continue
		}
		fmt.Fprintf(&b, "~ %s\n", d.Key)
		for _, v := range d.Violations {
			fmt.Fprintf(&b, "  schema: %s\n", v.Error())
		}
		for _, rep := range d.Repairs {
			fmt.Fprintf(&b, "  repair: %s\n", rep)
		}
	}
	verb := "imported"
	if r.DryRun {
		verb = "would import"
	}
	fmt.Fprintf(&b, "\n%s %d, skipped %d of %d documents", verb, r.Imported, r.Skipped, len(r.Documents))
	return b.String()
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Import legacy aggregate documents",
		Long: `Import daily, weekly and monthly aggregates exported by an older tracker.

The file holds one JSON document or an array of them. The kind of each
document follows from its key field: date, week, or month/month_start.
Documents without subject_id belong to the configured subject.

Each document is checked against the aggregate schema first and every
violation is reported. It is then repaired rather than rejected: arrays are
padded or truncated to the month, values clamped into range, and rollups
recomputed. The repaired document replaces the stored one.

Exit codes:
  0 - Every document was imported
  1 - Some documents could not be placed (no readable date or month)
  2 - Command error (unreadable file, invalid JSON)

Examples:
  carelog import legacy.json
  carelog import legacy.json --dry-run --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report without writing")

	return cmd
}

func runImport(cmd *cobra.Command, opts *ImportOptions, path string) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	data, err := os.ReadFile(path)
	if err != nil {
		return out.Fail("import failed", badInput(err))
	}
	docs, err := decodeDocuments(data)
	if err != nil {
		return out.Fail("import failed", badInput(fmt.Errorf("%s: %w", path, err)))
	}
	validator, err := schema.New()
	if err != nil {
		return out.Fail("import failed", err)
	}

	a, err := openApp(ctx, cmd, opts.RootOptions, false)
	if err != nil {
		return err
	}
	defer a.Close()

	logger := a.opts.logger()
	reporter := a.opts.reporter()
	now := a.now()
	result := ImportResult{File: path, DryRun: opts.DryRun, Documents: make([]ImportedDocument, 0, len(docs))}

	for i, doc := range docs {
		entry := ImportedDocument{Index: i}
		if s, _ := doc[ir.FieldSubjectID].(string); s == "" {
			doc[ir.FieldSubjectID] = a.subject
		}

		kind, err := documentKind(doc)
		if err != nil {
			entry.Error = err.Error()
			result.Skipped++
			result.Documents = append(result.Documents, entry)
			continue
		}
		entry.Violations = validator.Validate(kind, doc)

		rep, err := repairDocument(kind, doc, now.Location(), now)
		if err != nil {
			entry.Error = err.Error()
			result.Skipped++
			result.Documents = append(result.Documents, entry)
			continue
		}
		entry.Key = rep.Key.String()
		for _, r := range rep.Repairs {
			entry.Repairs = append(entry.Repairs, r.String())
		}
		reporter.Report(rep.Key, rep.Repairs)

		if !opts.DryRun {
			if err := a.store.PutDocument(ctx, rep.Key, rep.Document, now); err != nil {
				return out.Fail("import failed", err)
			}
			logger.Debug("document imported", "document", entry.Key, "violations", len(entry.Violations), "repairs", len(rep.Repairs))
		}
		result.Imported++
		result.Documents = append(result.Documents, entry)
	}

	return out.Outcome(result, result.Skipped > 0, CodeInput, fmt.Sprintf("%d document(s) skipped", result.Skipped))
}
