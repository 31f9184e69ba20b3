// Package cmd provides the CLI commands for ecsroll.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	clusterName string
	profile     string
	provider    string
	waitSeconds int
	autoYes     bool
	approveExpr string
	cfgFile     string
	verbose     bool
	metricsAddr string
)

// rootCmd represents the base command. Invoked without a subcommand it
// performs the default action, replace.
var rootCmd = &cobra.Command{
	Use:   "ecsroll",
	Short: "Rolling maintenance for ECS container instances",
	Long: `ecsroll cycles every EC2 instance backing an ECS cluster through
drain-and-replace or drain-and-reboot maintenance, one instance at a
time, without dropping cluster capacity below its configured level.

A temporary overflow instance is added before the first drain and the
Auto Scaling Group is returned to its original size at the end.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRoll(cmd, "replace")
	},
}

// Execute runs the CLI and maps the outcome to the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return exitCodeFor(err)
	}
	return 0
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&clusterName, "cluster", "c", "test-ecs-cluster",
		"Name of the ECS cluster to maintain")
	pf.StringVarP(&profile, "profile", "p", "default",
		"Name of the AWS profile to target")
	pf.StringVarP(&provider, "provider", "r", "profile",
		"AWS credential provider method (profile or env)")
	pf.IntVarP(&waitSeconds, "wait", "w", 30,
		"Base wait in seconds between poll attempts")
	pf.BoolVarP(&autoYes, "yes", "y", false,
		"Answer yes to all prompts")
	pf.StringVar(&approveExpr, "approve-expr", "",
		"Boolean expression evaluated per step for unattended approval (overrides prompting)")
	pf.StringVar(&cfgFile, "config", "",
		"Path to a YAML configuration file")
	pf.BoolVarP(&verbose, "verbose", "v", false,
		"Enable verbose logging output")
	pf.StringVar(&metricsAddr, "metrics-listen", "",
		"Address to serve Prometheus metrics on for the duration of the run")
}

// setupLogging configures structured JSON logging using slog.
func setupLogging() error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))

	return nil
}
