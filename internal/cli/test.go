package cli

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/carelog/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario.yaml|dir>...",
		Short: "Run scenario harness",
		Long: `Run YAML scenarios against a fresh in-memory store.

Each scenario seeds sessions, drives the controller through its flow and
checks its assertions against the stored aggregates and the day cache.
When golden/<name>.golden exists next to a scenario file, the recorded
trace must match it byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  carelog test ./scenarios
  carelog test ./scenarios --filter "fluid-*"
  carelog test ./scenarios/cross_day_edit.yaml --update
  carelog test ./scenarios --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, paths []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	var scenarioFiles []string
	for _, p := range paths {
		files, err := findScenarioFiles(p, opts.Filter)
		if err != nil {
			return out.Fail("failed to find scenarios", badInput(err))
		}
		scenarioFiles = append(scenarioFiles, files...)
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(scenarioFiles)),
		Total:     len(scenarioFiles),
	}
	if len(scenarioFiles) == 0 {
		if out.Format == "json" {
			return out.Success(result)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	// Progress lines go out as scenarios finish; JSON waits for the total.
	progress := io.Discard
	if out.Format != "json" {
		progress = cmd.OutOrStdout()
	}
	for _, file := range scenarioFiles {
		sr := runScenario(cmd, opts, file)
		printScenario(progress, sr)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if out.Format == "json" {
		return outputTestJSON(out, result)
	}
	return outputTestText(cmd, result)
}

// findScenarioFiles returns path if it is a file, or every YAML file
// below it if it is a directory. Golden directories are skipped.
func findScenarioFiles(path string, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scenario path not found: %s", path)
	}
	if !info.IsDir() {
		ok, err := matchScenario(path, filter)
		if err != nil || !ok {
			return nil, err
		}
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}
		ok, err := matchScenario(p, filter)
		if err != nil {
			return err
		}
		if ok {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

func matchScenario(path, filter string) (bool, error) {
	ext := filepath.Ext(path)
	if ext != ".yaml" && ext != ".yml" {
		return false, nil
	}
	if filter == "" {
		return true, nil
	}
	name := strings.TrimSuffix(filepath.Base(path), ext)
	matched, err := filepath.Match(filter, name)
	if err != nil {
		return false, fmt.Errorf("invalid filter pattern: %w", err)
	}
	return matched, nil
}

// runScenario executes a single scenario and returns the result.
func runScenario(cmd *cobra.Command, opts *TestOptions, scenarioFile string) ScenarioResult {
	scenario, err := harness.LoadScenario(scenarioFile)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(scenarioFile),
			Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
		}
	}

	var hopts []harness.Option
	if opts.Verbose {
		hopts = append(hopts, harness.WithLogger(opts.logger()))
	}
	result, err := harness.Run(cmd.Context(), scenario, hopts...)
	if err != nil {
		return ScenarioResult{
			Name:   scenario.Name,
			Errors: []string{fmt.Sprintf("execution failed: %v", err)},
		}
	}

	trace, err := harness.MarshalTrace(scenario.Name, result)
	if err != nil {
		return ScenarioResult{
			Name:   scenario.Name,
			Errors: []string{fmt.Sprintf("failed to marshal trace: %v", err)},
		}
	}

	goldenPath := goldenFilePath(scenarioFile)
	if opts.Update {
		if err := writeGoldenFile(goldenPath, trace); err != nil {
			return ScenarioResult{
				Name:   scenario.Name,
				Errors: []string{fmt.Sprintf("failed to update golden file: %v", err)},
			}
		}
	} else if golden, err := os.ReadFile(goldenPath); err == nil {
		if !bytes.Equal(bytes.TrimSpace(golden), bytes.TrimSpace(trace)) {
			result.AddError("trace does not match golden file (run with --update to regenerate)")
		}
	} else if !os.IsNotExist(err) {
		return ScenarioResult{
			Name:   scenario.Name,
			Errors: []string{fmt.Sprintf("failed to read golden file: %v", err)},
		}
	}

	return ScenarioResult{
		Name:   scenario.Name,
		Pass:   result.Pass,
		Errors: result.Errors,
	}
}

func printScenario(w io.Writer, sr ScenarioResult) {
	if sr.Pass {
		fmt.Fprintf(w, "✓ %s\n", sr.Name)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", sr.Name)
	for _, e := range sr.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

func writeGoldenFile(path string, trace []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, trace, 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(out *OutputFormatter, result TestResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    CodeTestFailed,
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}
	if err := out.encode(response); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// outputTestText outputs the test summary as text.
func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
