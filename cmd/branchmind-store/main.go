// Command branchmind-store is a minimal demonstration binary wiring the
// reasoning store together end to end. It is not a CLI/RPC surface for
// the store (out of scope per this project's scope) — just enough cobra
// plumbing, in the teacher's style, to open a database file and drive a
// handful of operations from a shell.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/branchmind/reasonstore/internal/config"
	"github.com/branchmind/reasonstore/internal/store"
)

var (
	dbPath     string
	jsonOutput bool
	rootCtx    context.Context
)

func main() {
	rootCtx = context.Background()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "branchmind-store",
	Short: "branchmind-store - demonstration binary for the reasoning store",
	Long:  `Opens a branchmind reasoning store database and runs a handful of operations against it.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the store's SQLite file (defaults to ./branchmind_rust.db)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit JSON output")
	rootCmd.AddCommand(workspaceInitCmd, taskCreateCmd, demoCmd)
}

func openStore(ctx context.Context) (*store.Store, error) {
	path := dbPath
	if path == "" {
		path = config.Default().DBPath()
	}
	return store.Open(ctx, path)
}

func printResult(v any) {
	if jsonOutput {
		b, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(b))
		return
	}
	fmt.Printf("%+v\n", v)
}

var workspaceInitCmd = &cobra.Command{
	Use:   "workspace-init <workspace>",
	Short: "create a workspace if it doesn't already exist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		if err := s.WorkspaceInit(rootCtx, args[0]); err != nil {
			return err
		}
		printResult(map[string]string{"workspace": args[0], "status": "ready"})
		return nil
	},
}

var taskCreateCmd = &cobra.Command{
	Use:   "task-create <workspace> <title>",
	Short: "create a task in a workspace",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		task, err := s.TaskCreate(rootCtx, args[0], store.TaskCreateRequest{Title: args[1]})
		if err != nil {
			return err
		}
		printResult(task)
		return nil
	},
}

// demoCmd exercises the store's full task/step/evidence/focus path end
// to end against a scratch workspace, printing the resulting task so a
// reader can see the operations it composes.
var demoCmd = &cobra.Command{
	Use:   "demo <workspace>",
	Short: "run a short end-to-end scenario against the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace := args[0]
		s, err := openStore(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		if err := s.WorkspaceInit(rootCtx, workspace); err != nil {
			return err
		}
		task, err := s.TaskCreate(rootCtx, workspace, store.TaskCreateRequest{Title: "demo task"})
		if err != nil {
			return err
		}
		step, err := s.StepDefine(rootCtx, workspace, task.ID, "s:0", "do the thing")
		if err != nil {
			return err
		}
		if _, err := s.StepProgress(rootCtx, workspace, &step.StepID, nil, task.ID, true, true); err != nil {
			return err
		}
		if _, err := s.EvidenceCapture(rootCtx, workspace, store.EvidenceCaptureRequest{
			TaskID: task.ID, Kind: store.EvidenceKindDecision, Summary: "completed demo step",
		}); err != nil {
			return err
		}
		if err := s.FocusSet(rootCtx, workspace, "current_task", task.ID); err != nil {
			return err
		}

		events, err := s.ListEventsForTask(rootCtx, workspace, task.ID, 100, 0)
		if err != nil {
			return err
		}
		printResult(map[string]any{"task": task, "event_count": len(events)})
		return nil
	},
}
