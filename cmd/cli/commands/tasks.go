package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/celestiaorg/crawlctl/internal/services"
	"github.com/celestiaorg/crawlctl/pkg/models"
)

// Task flag names
const (
	flagTaskID     = "id"
	flagTaskURL    = "url"
	flagTaskSearch = "search"
)

// taskOutput represents the filtered output for a crawl task
type taskOutput struct {
	ID            int64               `json:"id"`
	URL           string              `json:"url"`
	Status        string              `json:"status"`
	Title         string              `json:"title,omitempty"`
	HTMLVersion   string              `json:"html_version,omitempty"`
	H1Count       *int                `json:"h1_count,omitempty"`
	H2Count       *int                `json:"h2_count,omitempty"`
	H3Count       *int                `json:"h3_count,omitempty"`
	InternalLinks *int                `json:"internal_links,omitempty"`
	ExternalLinks *int                `json:"external_links,omitempty"`
	BrokenLinks   *int                `json:"broken_links,omitempty"`
	HasLoginForm  *bool               `json:"has_login_form,omitempty"`
	Created       string              `json:"created_at,omitempty"`
	BrokenLinkSet []models.BrokenLink `json:"broken_link_details,omitempty"`
}

// taskListOutput represents the filtered output for a list of crawl tasks
type taskListOutput struct {
	Tasks []taskOutput `json:"tasks"`
}

func toTaskOutput(task models.CrawlTask) taskOutput {
	out := taskOutput{
		ID:            task.ID,
		URL:           task.URL,
		Status:        task.Status.String(),
		Title:         task.Title(),
		H1Count:       task.H1Count,
		H2Count:       task.H2Count,
		H3Count:       task.H3Count,
		InternalLinks: task.InternalLinks,
		ExternalLinks: task.ExternalLinks,
		BrokenLinks:   task.BrokenLinks,
		HasLoginForm:  task.HasLoginForm,
		Created:       task.CreatedAt,
	}
	if task.HTMLVersion != nil {
		out.HTMLVersion = *task.HTMLVersion
	}
	return out
}

// GetTasksCmd returns the tasks command
func GetTasksCmd() *cobra.Command {
	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage crawl tasks",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List crawl tasks",
		RunE:  runListTasks,
	}
	listCmd.Flags().StringP(flagTaskSearch, "q", "", "Only show tasks whose title or URL contains this text")

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Get a crawl task and its broken links",
		RunE:  runGetTask,
	}
	getCmd.Flags().Int64P(flagTaskID, "i", 0, "Task ID")
	_ = getCmd.MarkFlagRequired(flagTaskID)

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a URL for crawling",
		RunE:  runAddTask,
	}
	addCmd.Flags().StringP(flagTaskURL, "u", "", "URL to crawl (http or https)")
	_ = addCmd.MarkFlagRequired(flagTaskURL)

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Crawl one or more tasks and wait for the results",
		Long: `Crawl one or more tasks and wait for the results.
Interrupting the command stops every crawl it started.`,
		RunE: runStartTasks,
	}
	startCmd.Flags().Int64SliceP(flagTaskID, "i", nil, "Task IDs")
	_ = startCmd.MarkFlagRequired(flagTaskID)

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete one or more crawl tasks",
		RunE:  runDeleteTasks,
	}
	deleteCmd.Flags().Int64SliceP(flagTaskID, "i", nil, "Task IDs")
	_ = deleteCmd.MarkFlagRequired(flagTaskID)

	tasksCmd.AddCommand(listCmd, getCmd, addCmd, startCmd, deleteCmd)
	return tasksCmd
}

func runListTasks(cmd *cobra.Command, _ []string) error {
	search, err := cmd.Flags().GetString(flagTaskSearch)
	if err != nil {
		return fmt.Errorf("error getting search flag: %w", err)
	}

	tasks, err := apiClient.ListCrawlTasks(cmd.Context())
	if err != nil {
		return fmt.Errorf("error listing tasks: %w", err)
	}

	output := taskListOutput{Tasks: []taskOutput{}}
	for _, task := range tasks {
		if task.Matches(search) {
			output.Tasks = append(output.Tasks, toTaskOutput(task))
		}
	}
	return printJSON(cmd, output)
}

func runGetTask(cmd *cobra.Command, _ []string) error {
	taskID, err := cmd.Flags().GetInt64(flagTaskID)
	if err != nil {
		return fmt.Errorf("error getting task ID flag: %w", err)
	}
	if taskID <= 0 {
		return fmt.Errorf("task ID must be a positive number")
	}

	task, err := findTask(cmd.Context(), taskID)
	if err != nil {
		return err
	}

	links, err := apiClient.GetBrokenLinks(cmd.Context(), taskID)
	if err != nil {
		return fmt.Errorf("error getting broken links: %w", err)
	}

	output := toTaskOutput(*task)
	output.BrokenLinkSet = links
	return printJSON(cmd, output)
}

func runAddTask(cmd *cobra.Command, _ []string) error {
	rawURL, err := cmd.Flags().GetString(flagTaskURL)
	if err != nil {
		return fmt.Errorf("error getting url flag: %w", err)
	}

	task, err := newOrchestrator().Add(cmd.Context(), rawURL)
	if err != nil {
		return fmt.Errorf("error adding task: %w", err)
	}
	return printJSON(cmd, toTaskOutput(*task))
}

func runStartTasks(cmd *cobra.Command, _ []string) error {
	ids, err := cmd.Flags().GetInt64Slice(flagTaskID)
	if err != nil {
		return fmt.Errorf("error getting task ID flag: %w", err)
	}

	orch, err := loadOrchestrator(cmd.Context())
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := orch.Registry().Get(id); !ok {
			return fmt.Errorf("task %d: %w", id, services.ErrUnknownTask)
		}
		orch.ToggleSelection(id, true)
	}

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// crawls run detached from the signal so an interrupt is a stop, not a failure
	finished := make(chan struct{})
	go func() {
		select {
		case <-sigCtx.Done():
			_ = orch.StopAll(context.WithoutCancel(sigCtx))
		case <-finished:
		}
	}()

	orch.StartSelected(context.WithoutCancel(cmd.Context()))
	orch.Wait()
	close(finished)

	output := taskListOutput{Tasks: []taskOutput{}}
	failed := 0
	for _, id := range ids {
		task, _ := orch.Registry().Get(id)
		if task.Status == models.CrawlStatusFailed {
			failed++
		}
		output.Tasks = append(output.Tasks, toTaskOutput(task))
	}
	if err := printJSON(cmd, output); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d crawls did not succeed", failed, len(ids))
	}
	return nil
}

func runDeleteTasks(cmd *cobra.Command, _ []string) error {
	ids, err := cmd.Flags().GetInt64Slice(flagTaskID)
	if err != nil {
		return fmt.Errorf("error getting task ID flag: %w", err)
	}

	orch := newOrchestrator()
	for _, id := range ids {
		orch.ToggleSelection(id, true)
	}
	if err := orch.DeleteSelected(cmd.Context()); err != nil {
		return fmt.Errorf("error deleting tasks: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d task(s)\n", len(ids))
	return nil
}

// loadOrchestrator builds an orchestrator whose registry holds the current job list
func loadOrchestrator(ctx context.Context) (*services.Orchestrator, error) {
	orch := newOrchestrator()
	tasks, err := apiClient.ListCrawlTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing tasks: %w", err)
	}
	orch.Registry().Replace(tasks)
	return orch, nil
}

func findTask(ctx context.Context, id int64) (*models.CrawlTask, error) {
	tasks, err := apiClient.ListCrawlTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing tasks: %w", err)
	}
	for i := range tasks {
		if tasks[i].ID == id {
			return &tasks[i], nil
		}
	}
	return nil, fmt.Errorf("task %d: %w", id, services.ErrUnknownTask)
}
