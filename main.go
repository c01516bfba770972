package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"enhanceswarm/backlog"
	"enhanceswarm/config"
	"enhanceswarm/log"
	"enhanceswarm/orchestrator"
	"enhanceswarm/runner"
	"enhanceswarm/ui"
	"enhanceswarm/worktree"
)

var (
	version = "1.0.0"

	concurrencyFlag  int
	timeoutFlag      time.Duration
	agentTimeoutFlag time.Duration
	programFlag      string
	webhookFlag      string

	rootCmd = &cobra.Command{
		Use:   "enhance-swarm",
		Short: "Enhance Swarm - run autonomous agents over a task backlog in isolated worktrees",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	enhanceCmd = &cobra.Command{
		Use:   "enhance",
		Short: "Spawn agents for the open backlog items and wait for them to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize()
			defer log.Close()

			repoRoot, err := requireRepoRoot()
			if err != nil {
				return err
			}

			cfg := config.LoadConfig()
			if concurrencyFlag > 0 {
				cfg.Concurrency = concurrencyFlag
			}
			if timeoutFlag > 0 {
				cfg.RunTimeoutSec = int(timeoutFlag.Seconds())
			}
			if agentTimeoutFlag > 0 {
				cfg.AgentTimeoutSec = int(agentTimeoutFlag.Seconds())
			}
			if programFlag != "" {
				cfg.AgentProgram = programFlag
			}
			if webhookFlag != "" {
				cfg.WebhookURL = webhookFlag
			}

			layout := orchestrator.NewLayout(repoRoot)
			lock, err := orchestrator.AcquireRunLock(layout)
			if err != nil {
				return err
			}
			defer lock.Release()

			provider := backlog.NewFileProvider(layout.TasksPath())
			if capab := provider.Capability(); !capab.Available {
				return fmt.Errorf("no backlog found: create %s with open tasks first", layout.TasksPath())
			}
			items, err := provider.ListWorkItems(backlog.StateOpen)
			if err != nil {
				return fmt.Errorf("failed to read backlog: %w", err)
			}
			if len(items) == 0 {
				fmt.Println("backlog has no open items, nothing to do")
				return nil
			}

			var setup *worktree.Setup
			if cfg.WorktreeSetup != nil {
				setup = &worktree.Setup{
					CopyIgnored: cfg.WorktreeSetup.CopyIgnored,
					Run:         cfg.WorktreeSetup.Run,
				}
			}
			worktrees := worktree.NewProvider(repoRoot, layout.WorktreesDir(), cfg.BranchPrefix, setup)

			var sink orchestrator.Sink
			if cfg.WebhookURL != "" {
				sink = orchestrator.NewWebhookSink(cfg.WebhookURL)
			}

			orch := orchestrator.New(layout, workspaceAllocator{worktrees},
				&runner.PtyRunner{Program: cfg.AgentProgram}, provider, sink,
				orchestrator.Options{
					Concurrency:  cfg.Concurrency,
					PollInterval: cfg.PollInterval(),
					AgentTimeout: cfg.AgentTimeout(),
					RunTimeout:   cfg.RunTimeout(),
					Grace:        cfg.GracePeriod(),
					Retry: orchestrator.RetryPolicy{
						MaxAttempts:       cfg.RetryAttempts,
						BaseDelay:         cfg.RetryBaseDelay(),
						BackoffMultiplier: cfg.RetryBackoffMultiplier,
						JitterFraction:    cfg.RetryJitterFraction,
					},
					OutputRingLines: cfg.OutputRingLines,
				})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			signals := orchestrator.NewSignalHandler(cancel)
			signals.Start()
			defer signals.Stop()

			fmt.Printf("running %d agents (concurrency %d)\n", len(items), cfg.Concurrency)
			summary, err := orch.Run(ctx, items)
			if err != nil {
				return err
			}

			if err := config.SaveLastRun(layout.Root, summary); err != nil {
				log.WarningLog.Printf("failed to persist run summary: %v", err)
			}

			fmt.Println(ui.RenderSummary(summary))
			os.Exit(summary.ExitCode())
			return nil
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show per-agent progress for the current or most recent run",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize()
			defer log.Close()

			repoRoot, err := requireRepoRoot()
			if err != nil {
				return err
			}
			layout := orchestrator.NewLayout(repoRoot)

			progress, err := orchestrator.ReadProgressDir(layout.StatusDir())
			if err != nil {
				return fmt.Errorf("failed to read agent status: %w", err)
			}
			fmt.Println(ui.RenderProgress(progress))

			var last orchestrator.RunSummary
			if err := config.LoadLastRun(layout.Root, &last); err == nil {
				fmt.Println(ui.RenderSummary(&last))
			}
			return nil
		},
	}

	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Remove leftover worktrees, branches and run artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize()
			defer log.Close()

			repoRoot, err := requireRepoRoot()
			if err != nil {
				return err
			}
			layout := orchestrator.NewLayout(repoRoot)

			cfg := config.LoadConfig()
			if err := worktree.CleanupAll(repoRoot, layout.WorktreesDir(), cfg.BranchPrefix); err != nil {
				return err
			}
			if err := orchestrator.NewCleanupManager(layout).PurgeArtifacts(); err != nil {
				return err
			}
			fmt.Println("cleanup complete")
			return nil
		},
	}

	pauseCmd = &cobra.Command{
		Use:   "pause [agent-id]",
		Short: "Ask a running agent to pause",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return controlAgent(args[0], orchestrator.ControlPause)
		},
	}

	resumeCmd = &cobra.Command{
		Use:   "resume [agent-id]",
		Short: "Ask a paused agent to resume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return controlAgent(args[0], orchestrator.ControlResume)
		},
	}

	stopCmd = &cobra.Command{
		Use:   "stop [agent-id]",
		Short: "Ask an agent to stop; the monitor cancels it on the next poll",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return controlAgent(args[0], orchestrator.ControlStop)
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of enhance-swarm",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("enhance-swarm version %s\n", version)
		},
	}
)

// workspaceAllocator adapts the concrete worktree provider to the
// orchestrator's workspace interface.
type workspaceAllocator struct {
	provider *worktree.Provider
}

func (a workspaceAllocator) Allocate(agentID string) (orchestrator.Workspace, error) {
	lease, err := a.provider.Allocate(agentID)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

func requireRepoRoot() (string, error) {
	currentDir, err := filepath.Abs(".")
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	root, err := worktree.FindGitRepoRoot(currentDir)
	if err != nil {
		return "", fmt.Errorf("error: enhance-swarm must be run from within a git repository")
	}
	return root, nil
}

func controlAgent(agentID string, action orchestrator.ControlAction) error {
	log.Initialize()
	defer log.Close()

	repoRoot, err := requireRepoRoot()
	if err != nil {
		return err
	}
	controller := orchestrator.NewController(orchestrator.NewLayout(repoRoot))

	switch action {
	case orchestrator.ControlPause:
		err = controller.Pause(agentID)
	case orchestrator.ControlResume:
		err = controller.Resume(agentID)
	case orchestrator.ControlStop:
		err = controller.Stop(agentID)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s requested for agent %s\n", action, agentID)
	return nil
}

func main() {
	enhanceCmd.Flags().IntVar(&concurrencyFlag, "concurrency", 0, "Maximum number of agents running at once")
	enhanceCmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "Overall run timeout (e.g. 45m)")
	enhanceCmd.Flags().DurationVar(&agentTimeoutFlag, "agent-timeout", 0, "Per-agent timeout (e.g. 20m)")
	enhanceCmd.Flags().StringVar(&programFlag, "program", "", "Agent program to run (overrides config)")
	enhanceCmd.Flags().StringVar(&webhookFlag, "webhook", "", "Webhook URL for lifecycle notifications")

	rootCmd.AddCommand(enhanceCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
