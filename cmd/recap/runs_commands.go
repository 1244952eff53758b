package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"recap/internal/runs"
)

var statusTitle = cases.Title(language.English)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect workflow runs",
	}
	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsShowCommand(ctx))
	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := runs.Open(cfg)
			if err != nil {
				return fmt.Errorf("open runs store: %w", err)
			}
			defer store.Close()

			var statuses []runs.RunStatus
			for _, value := range statusFilter {
				trimmed := strings.TrimSpace(value)
				if trimmed == "" {
					continue
				}
				statuses = append(statuses, runs.RunStatus(trimmed))
			}

			listed, err := store.ListRuns(cmd.Context(), statuses...)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			rows := make([][]string, 0, len(listed))
			for _, run := range listed {
				rows = append(rows, []string{
					run.ID,
					run.Workflow,
					statusTitle.String(string(run.Status)),
					run.CreatedAt.Local().Format(time.RFC3339),
					run.ErrorMessage,
				})
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No runs found")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Workflow", "Status", "Created", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statusFilter, "status", nil, "Filter by run status (running, completed, failed)")
	return cmd
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and its step records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := runs.Open(cfg)
			if err != nil {
				return fmt.Errorf("open runs store: %w", err)
			}
			defer store.Close()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}
			if run == nil {
				return fmt.Errorf("run %s not found", args[0])
			}
			steps, err := store.StepsForRun(cmd.Context(), run.ID)
			if err != nil {
				return fmt.Errorf("list steps: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:      %s\n", run.ID)
			fmt.Fprintf(out, "Workflow: %s\n", run.Workflow)
			fmt.Fprintf(out, "Status:   %s\n", statusTitle.String(string(run.Status)))
			fmt.Fprintf(out, "Created:  %s\n", run.CreatedAt.Local().Format(time.RFC3339))
			if run.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:    %s\n", run.ErrorMessage)
			}
			if len(steps) == 0 {
				fmt.Fprintln(out, "No step records")
				return nil
			}

			rows := make([][]string, 0, len(steps))
			for _, step := range steps {
				rows = append(rows, []string{
					step.Step,
					statusTitle.String(string(step.Status)),
					strconv.Itoa(step.Attempts),
					step.LastError,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Step", "Status", "Attempts", "Last Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}
