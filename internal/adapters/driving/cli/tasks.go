package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

var (
	tasksLane  string
	tasksKind  string
	tasksState string
	tasksLimit int
	tasksJSON  bool
)

var revokeCmd = &cobra.Command{
	Use:   "revoke [task-id]",
	Short: "Revoke a queued or running task",
	Long: `Marks a task revoked. A queued task is never leased again; a running
task loses its lease and its handler is cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: runRevoke,
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and manage queued tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE:  runTasksList,
}

var tasksRetryCmd = &cobra.Command{
	Use:   "retry [task-id]",
	Short: "Re-queue a dead-lettered task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksRetry,
}

func init() {
	tasksListCmd.Flags().StringVar(&tasksLane, "lane", "", "filter by lane (embedding, indexing, maintenance)")
	tasksListCmd.Flags().StringVar(&tasksKind, "kind", "", "filter by task kind")
	tasksListCmd.Flags().StringVar(&tasksState, "state", "", "filter by state")
	tasksListCmd.Flags().IntVarP(&tasksLimit, "limit", "n", 50, "maximum number of tasks")
	tasksListCmd.Flags().BoolVar(&tasksJSON, "json", false, "output as JSON")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksRetryCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(revokeCmd)
}

func runRevoke(cmd *cobra.Command, args []string) error {
	if taskService == nil {
		return errNotConfigured("task service")
	}
	if err := taskService.Revoke(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("revoke failed: %w", err)
	}
	cmd.Printf("Task %s revoked.\n", args[0])
	return nil
}

func runTasksRetry(cmd *cobra.Command, args []string) error {
	if taskService == nil {
		return errNotConfigured("task service")
	}
	if err := taskService.Retry(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("retry failed: %w", err)
	}
	cmd.Printf("Task %s re-queued.\n", args[0])
	return nil
}

func runTasksList(cmd *cobra.Command, _ []string) error {
	if taskService == nil {
		return errNotConfigured("task service")
	}

	filter := domain.TaskFilter{
		Lane:  domain.Lane(tasksLane),
		Kind:  domain.TaskKind(tasksKind),
		State: domain.TaskState(tasksState),
		Limit: tasksLimit,
	}
	tasks, err := taskService.List(cmd.Context(), filter)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return fmt.Errorf("invalid filter: %w", err)
		}
		return fmt.Errorf("listing tasks: %w", err)
	}
	if tasksJSON {
		return printJSON(cmd, tasks)
	}
	if len(tasks) == 0 {
		cmd.Println("No tasks.")
		return nil
	}

	cmd.Printf("%-36s %-12s %-12s %-12s %7s  %s\n", "ID", "KIND", "LANE", "STATE", "ATTEMPT", "UPDATED")
	for i := range tasks {
		t := &tasks[i]
		cmd.Printf("%-36s %-12s %-12s %-12s %7d  %s\n",
			t.ID, t.Kind, t.Lane, t.State, t.Attempt, t.UpdatedAt.Format(time.RFC3339))
		if t.LastError != "" && (t.State == domain.TaskDead || t.State == domain.TaskRetryQueued) {
			cmd.Printf("    error: %s\n", t.LastError)
		}
	}
	return nil
}
