package compute

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
)

// AWSEC2Client implements EC2Client using the real EC2 API.
type AWSEC2Client struct {
	client *ec2.Client
	logger *slog.Logger
}

// NewAWSEC2Client creates a real EC2 client from a resolved AWS config.
func NewAWSEC2Client(cfg aws.Config, logger *slog.Logger) *AWSEC2Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &AWSEC2Client{
		client: ec2.NewFromConfig(cfg),
		logger: logger,
	}
}

func (c *AWSEC2Client) TerminateInstance(ctx context.Context, instanceID string) error {
	_, err := c.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return fmt.Errorf("failed to terminate instance %s: %w", instanceID, err)
	}

	c.logger.Info("terminated instance", "instance", instanceID)
	return nil
}

func (c *AWSEC2Client) RebootInstance(ctx context.Context, instanceID string) error {
	_, err := c.client.RebootInstances(ctx, &ec2.RebootInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return fmt.Errorf("failed to reboot instance %s: %w", instanceID, err)
	}

	c.logger.Info("rebooted instance", "instance", instanceID)
	return nil
}

func (c *AWSEC2Client) InstanceStatus(ctx context.Context, instanceID string) (string, error) {
	out, err := c.client.DescribeInstanceStatus(ctx, &ec2.DescribeInstanceStatusInput{
		InstanceIds:         []string{instanceID},
		IncludeAllInstances: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe status of %s: %w", instanceID, err)
	}
	if len(out.InstanceStatuses) == 0 {
		return "", fmt.Errorf("instance %s has no status", instanceID)
	}

	status := out.InstanceStatuses[0].InstanceStatus
	if status == nil {
		return "", fmt.Errorf("instance %s has no status checks", instanceID)
	}
	return string(status.Status), nil
}

// Compile-time interface check.
var _ EC2Client = (*AWSEC2Client)(nil)
