// Package awsapi resolves AWS credentials and builds the service
// clients a maintenance run talks to.
package awsapi

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/finnigja/ecsroll/internal/capacity"
	"github.com/finnigja/ecsroll/internal/cluster"
	"github.com/finnigja/ecsroll/internal/compute"
)

// Credential provider modes.
const (
	// ProviderProfile resolves credentials from a named shared-config
	// profile.
	ProviderProfile = "profile"
	// ProviderEnv resolves credentials from the default environment
	// chain.
	ProviderEnv = "env"
)

// Options selects how credentials are resolved.
type Options struct {
	// Provider is ProviderProfile or ProviderEnv.
	Provider string

	// Profile is the shared-config profile name, used only with
	// ProviderProfile.
	Profile string

	// Region overrides the region from the profile or environment.
	Region string
}

// Clients bundles the three control-plane clients for one run.
type Clients struct {
	ECS *cluster.AWSECSClient
	EC2 *compute.AWSEC2Client
	ASG *capacity.AWSASGClient
}

// NewClients resolves credentials per the options and constructs the
// service clients.
func NewClients(ctx context.Context, opts Options, logger *slog.Logger) (*Clients, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	switch opts.Provider {
	case ProviderProfile:
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	case ProviderEnv:
		// Default chain: environment, then instance metadata.
	default:
		return nil, fmt.Errorf("unknown credential provider %q (want %q or %q)",
			opts.Provider, ProviderProfile, ProviderEnv)
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Debug("resolved AWS credentials",
		"provider", opts.Provider,
		"region", cfg.Region,
	)

	return &Clients{
		ECS: cluster.NewAWSECSClient(cfg, logger),
		EC2: compute.NewAWSEC2Client(cfg, logger),
		ASG: capacity.NewAWSASGClient(cfg, logger),
	}, nil
}
