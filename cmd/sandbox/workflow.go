package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sui-sandbox/replay/internal/workflow"
)

func newWorkflowCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "workflow"}
	cmd.AddCommand(newWorkflowRunCmd(flags))
	return cmd
}

func newWorkflowRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run <spec-file>",
		Short: "Run every step of a declarative workflow spec in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildDeps(flags)
			if err != nil {
				return err
			}

			raw, err := afero.ReadFile(afero.NewOsFs(), args[0])
			if err != nil {
				return fmt.Errorf("workflow: read spec file: %w", err)
			}
			spec, err := workflow.ParseFile(args[0], raw)
			if err != nil {
				return err
			}

			eng := workflow.NewEngine(deps.orch, shellCommandRunner, deps.logger)
			report, err := eng.Run(cmd.Context(), spec)
			if err != nil {
				return err
			}
			fmt.Print(report.Summary())
			if !report.Success {
				return fmt.Errorf("workflow %q failed", spec.Name)
			}
			return nil
		},
	}
}

// shellCommandRunner satisfies a `command` step by re-invoking this same
// binary with its normalized args, mirroring the original CLI's own
// recursive self-invocation for command steps (workflow recursion itself is
// rejected at validation time, not here).
func shellCommandRunner(ctx context.Context, args []string) error {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	proc := exec.CommandContext(ctx, exe, args...)
	proc.Stdout = os.Stdout
	proc.Stderr = os.Stderr
	return proc.Run()
}
