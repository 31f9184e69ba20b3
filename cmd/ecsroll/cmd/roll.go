package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/finnigja/ecsroll/internal/awsapi"
	"github.com/finnigja/ecsroll/internal/cluster"
	"github.com/finnigja/ecsroll/internal/config"
	"github.com/finnigja/ecsroll/internal/roll"
)

var replaceCmd = &cobra.Command{
	Use:   "replace",
	Short: "Drain and terminate each instance, letting the group launch substitutes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRoll(cmd, "replace")
	},
}

var rebootCmd = &cobra.Command{
	Use:   "reboot",
	Short: "Drain and reboot each instance in place",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRoll(cmd, "reboot")
	},
}

func init() {
	rootCmd.SilenceUsage = true
	rootCmd.AddCommand(replaceCmd)
	rootCmd.AddCommand(rebootCmd)
}

// runFailure carries a non-zero exit code for a run that completed but
// reported failures (a drain past its ceiling, or a failed restore).
type runFailure struct {
	code int
}

func (e *runFailure) Error() string {
	return "maintenance run reported failures; review the summary"
}

// exitCodeFor maps a command error to the process exit code.
func exitCodeFor(err error) int {
	var rf *runFailure
	if errors.As(err, &rf) {
		return rf.code
	}
	return 1
}

func runRoll(cmd *cobra.Command, actionName string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	action, err := roll.ParseAction(actionName)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("wait") || cfg.Wait.BaseSeconds <= 0 {
		cfg.Wait.BaseSeconds = waitSeconds
	}
	if metricsAddr != "" {
		cfg.Metrics.Listen = metricsAddr
	}

	logger := slog.Default()
	logger.Info("initiating maintenance",
		"cluster", clusterName,
		"action", action.String(),
		"provider", provider,
		"base_wait_seconds", cfg.Wait.BaseSeconds,
	)

	gate, err := buildGate(logger)
	if err != nil {
		return err
	}

	clients, err := awsapi.NewClients(ctx, awsapi.Options{
		Provider: provider,
		Profile:  profile,
	}, logger)
	if err != nil {
		return err
	}

	if cfg.Metrics.Listen != "" {
		go serveMetrics(cfg.Metrics.Listen, logger)
	}

	reader := cluster.NewStateReader(clients.ECS, clients.ASG, logger)
	orch := roll.New(roll.Config{
		Reader:            reader,
		ECS:               clients.ECS,
		ASG:               clients.ASG,
		EC2:               clients.EC2,
		Gate:              gate,
		Logger:            logger,
		Cluster:           clusterName,
		Action:            action,
		Wait:              cfg.Wait,
		ReplacementPolicy: cfg.Replacement.Policy,
	})

	summary, err := orch.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), summary.String())
	if code := summary.ExitCode(); code != 0 {
		return &runFailure{code: code}
	}
	return nil
}

// buildGate picks the interaction gate: --yes wins, then an approval
// expression, then interactive prompting.
func buildGate(logger *slog.Logger) (roll.Gate, error) {
	if autoYes {
		return roll.AutoYesGate{}, nil
	}
	if approveExpr != "" {
		return roll.NewExpressionGate(approveExpr, logger)
	}
	return roll.NewInteractiveGate(os.Stdin, os.Stdout), nil
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics listener stopped", "error", err)
	}
}
