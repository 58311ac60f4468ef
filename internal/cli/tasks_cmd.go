package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kolibri-omega/kolibri-studio/internal/kolibri"
	"github.com/kolibri-omega/kolibri-studio/internal/validator"
)

func (a *App) tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tasks",
		Aliases: []string{"task"},
		Short:   "Manage scheduled tasks",
	}
	cmd.AddCommand(a.tasksListCmd(), a.tasksCreateCmd(), a.tasksUpdateCmd(), a.tasksCancelCmd())
	return cmd
}

func (a *App) tasksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			tasks, err := client.ListTasks(ctx)
			if err != nil {
				return err
			}
			return a.writeOutput(cmd.OutOrStdout(), tasks, func(w io.Writer) error {
				if len(tasks) == 0 {
					fmt.Fprintln(w, "No tasks scheduled.")
					return nil
				}
				tw := newTable(w)
				fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tPRIORITY\tPROGRESS\tNEXT RUN\tUPDATED")
				for _, t := range tasks {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
						t.ID, t.Name, t.Status, intOrDash(t.Priority), progress(t.Progress),
						relativeStamp(t.NextRunAt), relativeStamp(t.UpdatedAt))
				}
				flushTable(tw)
				return nil
			})
		},
	}
}

func progress(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", *p*100)
}

// decodeOrBuild validates a payload from --file, or the one built from flags.
func (a *App) decodeOrBuild(kind validator.Kind, file string, fromFlags any, out any) error {
	v, err := a.validator()
	if err != nil {
		return err
	}
	if file != "" {
		_, err := v.DecodeFile(kind, file, out)
		return err
	}
	payload, err := json.Marshal(fromFlags)
	if err != nil {
		return err
	}
	_, err = v.Decode(kind, payload, out)
	return err
}

func (a *App) tasksCreateCmd() *cobra.Command {
	var (
		file     string
		priority int
		schedule string
		tags     []string
	)
	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Schedule a task",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flagReq := kolibri.TaskCreateRequest{Schedule: schedule, Tags: tags}
			if len(args) == 1 {
				flagReq.Name = args[0]
			} else if file == "" {
				return errors.New("task name or --file is required")
			}
			if cmd.Flags().Changed("priority") {
				flagReq.Priority = &priority
			}
			var req kolibri.TaskCreateRequest
			if err := a.decodeOrBuild(validator.KindTaskCreate, file, flagReq, &req); err != nil {
				return err
			}
			client, _, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			resp, err := client.CreateTask(ctx, req)
			if err != nil {
				return err
			}
			return a.printTaskAction(cmd, resp, "created")
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON or YAML task file")
	cmd.Flags().IntVar(&priority, "priority", 0, "Priority 0-10")
	cmd.Flags().StringVar(&schedule, "schedule", "", "Schedule expression understood by the node")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag (repeatable)")
	return cmd
}

func (a *App) tasksUpdateCmd() *cobra.Command {
	var (
		file     string
		status   string
		priority int
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a task's status or priority",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flagReq := kolibri.TaskUpdateRequest{Status: status}
			if cmd.Flags().Changed("priority") {
				flagReq.Priority = &priority
			}
			var req kolibri.TaskUpdateRequest
			if err := a.decodeOrBuild(validator.KindTaskUpdate, file, flagReq, &req); err != nil {
				return err
			}
			client, _, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			resp, err := client.UpdateTask(ctx, args[0], req)
			if err != nil {
				return err
			}
			return a.printTaskAction(cmd, resp, "updated")
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON or YAML update file")
	cmd.Flags().StringVar(&status, "status", "", "New status (queued, running, success, failed, cancelled)")
	cmd.Flags().IntVar(&priority, "priority", 0, "New priority 0-10")
	return cmd
}

func (a *App) tasksCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "cancel <id>",
		Aliases: []string{"delete", "rm"},
		Short:   "Cancel a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			resp, err := client.CancelTask(ctx, args[0])
			if err != nil {
				return err
			}
			return a.printTaskAction(cmd, resp, "cancelled")
		},
	}
}

func (a *App) printTaskAction(cmd *cobra.Command, resp *kolibri.TaskActionResponse, verb string) error {
	return a.writeOutput(cmd.OutOrStdout(), resp, func(w io.Writer) error {
		if !resp.Acknowledged {
			fmt.Fprintf(w, "Node did not acknowledge the request. %s\n", resp.Message)
			return nil
		}
		if resp.Task != nil {
			printSuccess(w, "Task %s %s (status %s).", resp.Task.ID, verb, resp.Task.Status)
			return nil
		}
		printSuccess(w, "Task %s.", verb)
		return nil
	})
}
