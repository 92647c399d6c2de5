package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/digkill/printstudio/internal/models"
	"github.com/digkill/printstudio/internal/repository"
)

func newProjectsCommand(ctx *commandContext) *cobra.Command {
	projectsCmd := &cobra.Command{
		Use:   "projects",
		Short: "Inspect and manage saved projects",
	}

	projectsCmd.AddCommand(newProjectsListCommand(ctx))
	projectsCmd.AddCommand(newProjectsShowCommand(ctx))
	projectsCmd.AddCommand(newProjectsDeleteCommand(ctx))

	return projectsCmd
}

// withStores opens the configured persistence backend for one command.
func withStores(cmd *cobra.Command, cc *commandContext, fn func(*backends) error) error {
	cfg, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	stores, err := openBackends(cmd.Context(), cfg, cc.log)
	if err != nil {
		return err
	}
	defer stores.Close()
	return fn(stores)
}

func newProjectsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved projects, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, ctx, func(stores *backends) error {
				projects, err := stores.projects.List(cmd.Context())
				if err != nil {
					return err
				}
				printProjects(cmd.OutOrStdout(), projects)
				return nil
			})
		},
	}
}

func printProjects(out io.Writer, projects []models.Project) {
	if len(projects) == 0 {
		fmt.Fprintln(out, "No saved projects")
		return
	}
	rows := make([][]string, 0, len(projects))
	for _, p := range projects {
		ready := 0
		for _, a := range p.Assets {
			if a.Ready() {
				ready++
			}
		}
		rows = append(rows, []string{
			p.ID,
			p.Plan.Title,
			p.Wizard.ProductType,
			strconv.Itoa(len(p.Pages)),
			strconv.Itoa(ready),
			formatTimestamp(p.Timestamp),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "Title", "Product", "Pages", "Images", "Saved"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	))
}

func newProjectsShowCommand(ctx *commandContext) *cobra.Command {
	var history int
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one project's plan, pages and recent generations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, ctx, func(stores *backends) error {
				p, err := stores.projects.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printProject(out, p)
				if history <= 0 {
					return nil
				}
				logs, err := stores.generations.Recent(cmd.Context(), p.ID, history)
				if err != nil {
					return err
				}
				printGenerations(out, logs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&history, "history", 10, "Number of recent generations to show")
	return cmd
}

func printProject(out io.Writer, p models.Project) {
	fmt.Fprintf(out, "%s\n", p.Plan.Title)
	fmt.Fprintf(out, "Concept: %s\n", p.Plan.Concept)
	fmt.Fprintf(out, "Product: %s (%s)\n", p.Wizard.ProductType, p.Wizard.SizeLabel())
	fmt.Fprintf(out, "Saved:   %s\n\n", formatTimestamp(p.Timestamp))

	images := make(map[string]models.Asset, len(p.Assets))
	mockups := 0
	for _, a := range p.Assets {
		images[a.ID] = a
		if a.Type == models.AssetMockup {
			mockups++
		}
	}
	rows := make([][]string, 0, len(p.Pages))
	for i, page := range p.Pages {
		status := "none"
		if a, ok := images[page.ID]; ok {
			status = "ready"
			if a.Loading {
				status = "loading"
			}
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			page.Name,
			string(page.AssetType()),
			string(page.ResolvedRenderMode()),
			status,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"#", "Page", "Type", "Mode", "Image"},
		rows,
		[]columnAlignment{alignRight},
	))
	fmt.Fprintf(out, "Mockups: %d\n", mockups)
}

func printGenerations(out io.Writer, logs []models.GenerationLog) {
	if len(logs) == 0 {
		fmt.Fprintln(out, "No recorded generations")
		return
	}
	rows := make([][]string, 0, len(logs))
	for _, l := range logs {
		rows = append(rows, []string{
			l.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			l.Kind,
			l.Slot,
			string(l.Outcome),
			l.Error,
		})
	}
	fmt.Fprintln(out, renderTable([]string{"When", "Kind", "Slot", "Outcome", "Error"}, rows, nil))
}

func newProjectsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, ctx, func(stores *backends) error {
				if err := stores.projects.Delete(cmd.Context(), args[0]); err != nil {
					if errors.Is(err, repository.ErrNotFound) {
						return fmt.Errorf("project %s not found", args[0])
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted project %s\n", args[0])
				return nil
			})
		},
	}
}

func formatTimestamp(ms int64) string {
	if ms <= 0 {
		return "unknown"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}
