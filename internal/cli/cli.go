package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/yang-jaeyoung/flowledger/internal/log"
	internal_storage "github.com/yang-jaeyoung/flowledger/internal/storage"
	"github.com/yang-jaeyoung/flowledger/pkg/service"
)

// SetupCLI wires the workflow verbs onto the root command. Every command
// takes --root, the storage directory holding the event log.
func SetupCLI(rootCmd *cobra.Command) {
	createCmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a new workflow",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, cleanup := initService(cmd)
			defer cleanup()
			description, _ := cmd.Flags().GetString("description")
			project, _ := cmd.Flags().GetString("project")
			id, err := svc.CreateWorkflow(service.CreateWorkflowParams{
				Title:       args[0],
				Description: description,
				Project:     project,
			})
			exitOnErr("create workflow", err)
			fmt.Fprintf(os.Stdout, "Created workflow '%s' with ID %s\n", args[0], id)
		},
	}
	createCmd.Flags().String("description", "", "Workflow description")
	createCmd.Flags().String("project", "", "Project tag")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all workflows",
		Run: func(cmd *cobra.Command, args []string) {
			svc, cleanup := initService(cmd)
			defer cleanup()
			workflows, err := svc.ListWorkflows()
			exitOnErr("list workflows", err)
			if len(workflows) == 0 {
				fmt.Fprintf(os.Stdout, "No workflows found.\n")
				return
			}
			fmt.Fprintf(os.Stdout, "Workflows:\n")
			for _, wf := range workflows {
				fmt.Fprintf(os.Stdout, "- ID: %s, Title: %s, Status: %s, Tasks: %d, Created: %s\n",
					wf.ID, wf.Title, wf.Status, len(wf.Tasks), wf.CreatedAt.Format(time.RFC3339))
			}
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status <workflow-id>",
		Short: "Show a workflow's status report",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, cleanup := initService(cmd)
			defer cleanup()
			report, err := svc.WorkflowStatus(args[0])
			exitOnErr("get workflow status", err)
			printJSON(report)
		},
	}

	addTaskCmd := &cobra.Command{
		Use:   "add-task <workflow-id> <title>",
		Short: "Add a task to a workflow",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			svc, cleanup := initService(cmd)
			defer cleanup()
			description, _ := cmd.Flags().GetString("description")
			priority, _ := cmd.Flags().GetString("priority")
			deps, _ := cmd.Flags().GetStringSlice("deps")
			id, err := svc.AddTask(args[0], service.AddTaskParams{
				Title:        args[1],
				Description:  description,
				Priority:     priority,
				Dependencies: deps,
			})
			exitOnErr("add task", err)
			fmt.Fprintf(os.Stdout, "Added task '%s' with ID %s\n", args[1], id)
		},
	}
	addTaskCmd.Flags().String("description", "", "Task description")
	addTaskCmd.Flags().String("priority", "", "Task priority: low, medium, high, urgent")
	addTaskCmd.Flags().StringSlice("deps", nil, "Dependency task IDs")

	setStatusCmd := &cobra.Command{
		Use:   "set-status <workflow-id> <task-id> <status>",
		Short: "Change a task's status",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			svc, cleanup := initService(cmd)
			defer cleanup()
			note, _ := cmd.Flags().GetString("note")
			err := svc.SetTaskStatus(args[0], args[1], args[2], note)
			exitOnErr("set task status", err)
			fmt.Fprintf(os.Stdout, "Task %s is now '%s'\n", args[1], args[2])
		},
	}
	setStatusCmd.Flags().String("note", "", "Note recorded with the status change")

	updateTaskCmd := &cobra.Command{
		Use:   "update-task <workflow-id> <task-id>",
		Short: "Patch a task's fields",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			svc, cleanup := initService(cmd)
			defer cleanup()
			patch := service.TaskPatch{}
			if cmd.Flags().Changed("title") {
				v, _ := cmd.Flags().GetString("title")
				patch.Title = &v
			}
			if cmd.Flags().Changed("description") {
				v, _ := cmd.Flags().GetString("description")
				patch.Description = &v
			}
			if cmd.Flags().Changed("priority") {
				v, _ := cmd.Flags().GetString("priority")
				patch.Priority = &v
			}
			if cmd.Flags().Changed("status") {
				v, _ := cmd.Flags().GetString("status")
				patch.Status = &v
			}
			patch.Note, _ = cmd.Flags().GetString("note")
			patch.AddDependencies, _ = cmd.Flags().GetStringSlice("add-deps")
			err := svc.UpdateTask(args[0], args[1], patch)
			exitOnErr("update task", err)
			fmt.Fprintf(os.Stdout, "Updated task %s\n", args[1])
		},
	}
	updateTaskCmd.Flags().String("title", "", "New title")
	updateTaskCmd.Flags().String("description", "", "New description")
	updateTaskCmd.Flags().String("priority", "", "New priority")
	updateTaskCmd.Flags().String("status", "", "New status")
	updateTaskCmd.Flags().String("note", "", "Note recorded with a status change")
	updateTaskCmd.Flags().StringSlice("add-deps", nil, "Dependency task IDs to add")

	reorderCmd := &cobra.Command{
		Use:   "reorder <workflow-id> <task-id>...",
		Short: "Reorder a workflow's tasks (full permutation required)",
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			svc, cleanup := initService(cmd)
			defer cleanup()
			err := svc.ReorderTasks(args[0], args[1:])
			exitOnErr("reorder tasks", err)
			fmt.Fprintf(os.Stdout, "Reordered tasks: %s\n", strings.Join(args[1:], ", "))
		},
	}

	nextBatchCmd := &cobra.Command{
		Use:   "next-batch <workflow-id>",
		Short: "Show the tasks eligible to run now",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, cleanup := initService(cmd)
			defer cleanup()
			batch, err := svc.NextBatch(args[0])
			exitOnErr("compute next batch", err)
			if len(batch) == 0 {
				fmt.Fprintf(os.Stdout, "No tasks are ready to run.\n")
				return
			}
			fmt.Fprintf(os.Stdout, "Next batch: %s\n", strings.Join(batch, ", "))
		},
	}

	linkCmd := &cobra.Command{
		Use:   "link <workflow-id> <task-id> <note-id>",
		Short: "Link an artifact to a task",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			svc, cleanup := initService(cmd)
			defer cleanup()
			err := svc.LinkArtifact(args[0], args[1], args[2])
			exitOnErr("link artifact", err)
			fmt.Fprintf(os.Stdout, "Linked artifact %s to task %s\n", args[2], args[1])
		},
	}

	unlinkCmd := &cobra.Command{
		Use:   "unlink <workflow-id> <task-id> <note-id>",
		Short: "Unlink an artifact from a task",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			svc, cleanup := initService(cmd)
			defer cleanup()
			err := svc.UnlinkArtifact(args[0], args[1], args[2])
			exitOnErr("unlink artifact", err)
			fmt.Fprintf(os.Stdout, "Unlinked artifact %s from task %s\n", args[2], args[1])
		},
	}

	checkpointCmd := &cobra.Command{
		Use:   "checkpoint <workflow-id>",
		Short: "Record the current log position as a recovery point",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, cleanup := initService(cmd)
			defer cleanup()
			notes, _ := cmd.Flags().GetString("notes")
			reason, _ := cmd.Flags().GetString("reason")
			id, err := svc.CreateCheckpoint(args[0], notes, reason)
			exitOnErr("create checkpoint", err)
			fmt.Fprintf(os.Stdout, "Created checkpoint %s\n", id)
		},
	}
	checkpointCmd.Flags().String("notes", "", "Checkpoint notes")
	checkpointCmd.Flags().String("reason", "", "Why the checkpoint was taken")

	restoreCmd := &cobra.Command{
		Use:   "restore <checkpoint-id>",
		Short: "Show the workflow as it was at a checkpoint (read-only)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, cleanup := initService(cmd)
			defer cleanup()
			wf, err := svc.RestoreCheckpoint(args[0])
			exitOnErr("restore checkpoint", err)
			printJSON(wf)
		},
	}

	discardCmd := &cobra.Command{
		Use:   "discard <checkpoint-id>",
		Short: "Discard all events recorded after a checkpoint",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, cleanup := initService(cmd)
			defer cleanup()
			err := svc.DiscardAfterCheckpoint(args[0])
			exitOnErr("discard after checkpoint", err)
			fmt.Fprintf(os.Stdout, "Discarded events after checkpoint %s\n", args[0])
		},
	}

	rootCmd.AddCommand(createCmd, listCmd, statusCmd, addTaskCmd, setStatusCmd,
		updateTaskCmd, reorderCmd, nextBatchCmd, linkCmd, unlinkCmd,
		checkpointCmd, restoreCmd, discardCmd)
}

func initService(cmd *cobra.Command) (*service.WorkflowService, func()) {
	root, err := cmd.Flags().GetString("root")
	if err != nil {
		log.GetLogger().Errorf("Error retrieving root flag: %v", err)
		os.Exit(1)
	}
	log.GetLogger().Debugf("Opening store at root: %s", root)
	store, err := internal_storage.InitStore(root)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to initialize store: %v\n", err)
		os.Exit(1)
	}
	svc, err := service.NewWorkflowService(store, log.GetLogger())
	if err != nil {
		store.Close()
		log.GetLogger().Errorf("Failed to load state: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to load state: %v\n", err)
		os.Exit(1)
	}
	cleanup := func() {
		if err := svc.Close(); err != nil {
			log.GetLogger().Errorf("Failed to persist snapshot: %v", err)
		}
		if err := store.Close(); err != nil {
			log.GetLogger().Errorf("Failed to close store: %v", err)
		}
	}
	return svc, cleanup
}

func exitOnErr(op string, err error) {
	if err == nil {
		return
	}
	log.GetLogger().Errorf("Failed to %s: %v", op, err)
	fmt.Fprintf(os.Stderr, "Error: failed to %s: %v\n", op, err)
	os.Exit(1)
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitOnErr("render output", err)
	}
	fmt.Fprintln(os.Stdout, string(out))
}
