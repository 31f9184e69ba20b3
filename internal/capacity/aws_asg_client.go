package capacity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
)

// AWSASGClient implements ASGClient using the real Auto Scaling API.
type AWSASGClient struct {
	client *autoscaling.Client
	logger *slog.Logger
}

// NewAWSASGClient creates a real Auto Scaling client from a resolved
// AWS config.
func NewAWSASGClient(cfg aws.Config, logger *slog.Logger) *AWSASGClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AWSASGClient{
		client: autoscaling.NewFromConfig(cfg),
		logger: logger,
	}
}

func (c *AWSASGClient) DescribeGroup(ctx context.Context, group string) (*GroupInfo, error) {
	out, err := c.client.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{group},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe autoscaling group %q: %w", group, err)
	}
	if len(out.AutoScalingGroups) == 0 {
		return nil, fmt.Errorf("autoscaling group %q not found", group)
	}
	return groupInfoFromAWS(out.AutoScalingGroups[0]), nil
}

// ResizeGroup shifts min, max, and desired together, matching how the
// overflow unit is added and removed: the group's own bounds must never
// clamp the change.
func (c *AWSASGClient) ResizeGroup(ctx context.Context, group string, delta int32) error {
	current, err := c.DescribeGroup(ctx, group)
	if err != nil {
		return err
	}

	_, err = c.client.UpdateAutoScalingGroup(ctx, &autoscaling.UpdateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(group),
		MinSize:              aws.Int32(current.MinSize + delta),
		MaxSize:              aws.Int32(current.MaxSize + delta),
		DesiredCapacity:      aws.Int32(current.DesiredCapacity + delta),
	})
	if err != nil {
		return fmt.Errorf("failed to resize autoscaling group %q by %d: %w", group, delta, err)
	}

	c.logger.Info("resized autoscaling group",
		"group", group,
		"delta", delta,
		"desired", current.DesiredCapacity+delta,
	)

	return nil
}

func (c *AWSASGClient) SetInstanceProtection(ctx context.Context, group string, instanceIDs []string, protected bool) error {
	if len(instanceIDs) == 0 {
		return nil
	}

	_, err := c.client.SetInstanceProtection(ctx, &autoscaling.SetInstanceProtectionInput{
		AutoScalingGroupName: aws.String(group),
		InstanceIds:          instanceIDs,
		ProtectedFromScaleIn: aws.Bool(protected),
	})
	if err != nil {
		return fmt.Errorf("failed to set scale-in protection %t on %v: %w", protected, instanceIDs, err)
	}

	c.logger.Info("set scale-in protection",
		"group", group,
		"instances", instanceIDs,
		"protected", protected,
	)

	return nil
}

// GroupsForInstances pages DescribeAutoScalingInstances and collects the
// distinct group names of the given instances.
func (c *AWSASGClient) GroupsForInstances(ctx context.Context, instanceIDs []string) ([]string, error) {
	if len(instanceIDs) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool)
	var groups []string

	paginator := autoscaling.NewDescribeAutoScalingInstancesPaginator(c.client, &autoscaling.DescribeAutoScalingInstancesInput{
		InstanceIds: instanceIDs,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe autoscaling instances: %w", err)
		}
		for _, asi := range page.AutoScalingInstances {
			name := aws.ToString(asi.AutoScalingGroupName)
			if name != "" && !seen[name] {
				seen[name] = true
				groups = append(groups, name)
			}
		}
	}

	return groups, nil
}

func (c *AWSASGClient) GroupDesiredCapacity(ctx context.Context, group string) (int32, error) {
	info, err := c.DescribeGroup(ctx, group)
	if err != nil {
		return 0, err
	}
	return info.DesiredCapacity, nil
}

// groupInfoFromAWS converts an AWS ASG to our GroupInfo.
func groupInfoFromAWS(g asgtypes.AutoScalingGroup) *GroupInfo {
	info := &GroupInfo{
		Name:            aws.ToString(g.AutoScalingGroupName),
		MinSize:         aws.ToInt32(g.MinSize),
		MaxSize:         aws.ToInt32(g.MaxSize),
		DesiredCapacity: aws.ToInt32(g.DesiredCapacity),
	}
	for _, inst := range g.Instances {
		info.Instances = append(info.Instances, GroupInstance{
			InstanceID: aws.ToString(inst.InstanceId),
			Protected:  aws.ToBool(inst.ProtectedFromScaleIn),
		})
	}
	return info
}

// Compile-time interface check.
var _ ASGClient = (*AWSASGClient)(nil)
