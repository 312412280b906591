package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/carelog/internal/engine"
	"github.com/roach88/carelog/internal/ir"
	"github.com/roach88/carelog/internal/schema"
	"github.com/roach88/carelog/internal/store"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Repair bool
	All    bool
}

// DocumentViolations lists the schema violations of one stored document.
type DocumentViolations struct {
	Key        string                   `json:"key"`
	Violations []schema.ValidationError `json:"violations"`
}

// SubjectCheck is the check result of one subject.
type SubjectCheck struct {
	Subject   string               `json:"subject"`
	Documents int                  `json:"documents"`
	Invalid   []DocumentViolations `json:"invalid,omitempty"`
	Drift     []string             `json:"drift,omitempty"`
	Repaired  int                  `json:"repaired,omitempty"`
	BatchID   string               `json:"batch_id,omitempty"`
}

// CheckResult holds the overall check result.
type CheckResult struct {
	Subjects []SubjectCheck `json:"subjects"`
	Passed   bool           `json:"passed"`
}

func (r CheckResult) String() string {
	var b strings.Builder
	for _, s := range r.Subjects {
		mark := "✓"
		if len(s.Invalid) > 0 || (len(s.Drift) > 0 && s.Repaired == 0) {
			mark = "✗"
		}
		fmt.Fprintf(&b, "%s %s: %d documents\n", mark, s.Subject, s.Documents)
		for _, d := range s.Invalid {
			for _, v := range d.Violations {
				fmt.Fprintf(&b, "  %s %s\n", d.Key, v.Error())
			}
		}
		for _, d := range s.Drift {
			fmt.Fprintf(&b, "  drift: %s\n", d)
		}
		if s.Repaired > 0 {
			fmt.Fprintf(&b, "  repaired %d counters in batch %s\n", s.Repaired, s.BatchID)
		}
	}
	if len(r.Subjects) == 0 {
		fmt.Fprintln(&b, "No subjects found.")
	}
	if r.Passed {
		fmt.Fprint(&b, "\n✓ All checks passed")
	} else {
		fmt.Fprint(&b, "\n✗ Checks failed")
	}
	return b.String()
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check stored aggregates for schema violations and drift",
		Long: `Run the data-quality job over stored aggregates.

Every stored daily, weekly and monthly document is checked against the
aggregate schema. The stored sessions are then replayed from scratch and
every counter that differs from its replayed value is reported as drift.
With --repair, drifted counters are set to their replayed values in one
batch.

Exit codes:
  0 - No violations and no drift left
  1 - Violations found, or drift found without --repair
  2 - Command error (database not found, etc.)

Examples:
  carelog check
  carelog check --all --format json
  carelog check --repair`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Repair, "repair", false, "set drifted counters to their replayed values")
	cmd.Flags().BoolVar(&opts.All, "all", false, "check every subject in the database")

	return cmd
}

func runCheck(cmd *cobra.Command, opts *CheckOptions) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	cfg, err := opts.config(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	subjects := []string{cfg.Subject}
	if opts.All || cfg.Subject == "" {
		if subjects, err = st.ListSubjects(ctx); err != nil {
			return out.Fail("check failed", err)
		}
	}

	validator, err := schema.New()
	if err != nil {
		return out.Fail("check failed", err)
	}

	result := CheckResult{Subjects: make([]SubjectCheck, 0, len(subjects)), Passed: true}
	for _, subject := range subjects {
		sc, err := checkSubject(ctx, st, validator, subject, opts)
		if err != nil {
			return out.Fail(fmt.Sprintf("check of %s failed", subject), err)
		}
		if len(sc.Invalid) > 0 || (len(sc.Drift) > 0 && sc.Repaired == 0) {
			result.Passed = false
		}
		result.Subjects = append(result.Subjects, sc)
	}

	return out.Outcome(result, !result.Passed, CodeCheckFailed, "data-quality check failed")
}

func checkSubject(ctx context.Context, st *store.Store, validator *schema.Validator, subject string, opts *CheckOptions) (SubjectCheck, error) {
	logger := opts.logger()
	now := opts.clock().Now()
	sc := SubjectCheck{Subject: subject}

	stored, err := st.Aggregates(ctx, subject)
	if err != nil {
		return sc, err
	}
	sc.Documents = len(stored)

	keys := slices.SortedFunc(maps.Keys(stored), func(a, b ir.DocumentKey) int {
		return strings.Compare(a.String(), b.String())
	})
	for _, key := range keys {
		doc, err := externalDocument(key, stored[key], now.Location())
		if err != nil {
			return sc, err
		}
		if violations := validator.Validate(key.Kind, doc); len(violations) > 0 {
			sc.Invalid = append(sc.Invalid, DocumentViolations{Key: key.String(), Violations: violations})
			logger.Warn("schema violation", "document", key.String(), "violations", len(violations))
		}
	}

	events, err := st.FetchRecentSessions(ctx, subject, 0, nil)
	if err != nil {
		return sc, err
	}
	replayed, err := engine.Replay(subject, events)
	if err != nil {
		return sc, err
	}
	drifts := engine.CompareReplay(stored, replayed)
	for _, d := range drifts {
		sc.Drift = append(sc.Drift, d.String())
	}
	if len(drifts) == 0 {
		return sc, nil
	}
	logger.Warn("aggregate drift", "subject", subject, "counters", len(drifts))

	if opts.Repair {
		batch, err := engine.RepairBatch(subject, drifts, now)
		if err != nil {
			return sc, err
		}
		if err := st.CommitBatch(ctx, batch); err != nil {
			return sc, err
		}
		sc.Repaired = len(drifts)
		sc.BatchID = batch.ID
		logger.Info("drift repaired", "subject", subject, "counters", len(drifts), "batch", batch.ID)
	}
	return sc, nil
}
