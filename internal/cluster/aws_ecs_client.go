package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
)

// AWSECSClient implements ECSClient using the real ECS API.
type AWSECSClient struct {
	client *ecs.Client
	logger *slog.Logger
}

// NewAWSECSClient creates a real ECS client from a resolved AWS config.
func NewAWSECSClient(cfg aws.Config, logger *slog.Logger) *AWSECSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AWSECSClient{
		client: ecs.NewFromConfig(cfg),
		logger: logger,
	}
}

// ClusterExists reports whether the named cluster exists, walking the
// ListClusters pages and comparing the name segment of each ARN.
func (c *AWSECSClient) ClusterExists(ctx context.Context, cluster string) (bool, error) {
	paginator := ecs.NewListClustersPaginator(c.client, &ecs.ListClustersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to list clusters: %w", err)
		}
		for _, arn := range page.ClusterArns {
			if clusterNameFromARN(arn) == cluster {
				return true, nil
			}
		}
	}
	return false, nil
}

func (c *AWSECSClient) ClusterARN(ctx context.Context, cluster string) (string, error) {
	out, err := c.client.DescribeClusters(ctx, &ecs.DescribeClustersInput{
		Clusters: []string{cluster},
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe cluster %q: %w", cluster, err)
	}
	if len(out.Clusters) == 0 {
		return "", fmt.Errorf("cluster %q not found", cluster)
	}
	return aws.ToString(out.Clusters[0].ClusterArn), nil
}

func (c *AWSECSClient) ListContainerInstances(ctx context.Context, cluster string) ([]string, error) {
	var arns []string
	paginator := ecs.NewListContainerInstancesPaginator(c.client, &ecs.ListContainerInstancesInput{
		Cluster: aws.String(cluster),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list container instances for %q: %w", cluster, err)
		}
		arns = append(arns, page.ContainerInstanceArns...)
	}
	return arns, nil
}

func (c *AWSECSClient) DescribeContainerInstances(ctx context.Context, cluster string, arns []string) ([]Instance, error) {
	if len(arns) == 0 {
		return nil, nil
	}
	out, err := c.client.DescribeContainerInstances(ctx, &ecs.DescribeContainerInstancesInput{
		Cluster:            aws.String(cluster),
		ContainerInstances: arns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe container instances for %q: %w", cluster, err)
	}

	instances := make([]Instance, 0, len(out.ContainerInstances))
	for _, ci := range out.ContainerInstances {
		instances = append(instances, instanceFromAWS(ci))
	}
	return instances, nil
}

func (c *AWSECSClient) SetInstanceStatus(ctx context.Context, cluster, arn string, status Status) error {
	_, err := c.client.UpdateContainerInstancesState(ctx, &ecs.UpdateContainerInstancesStateInput{
		Cluster:            aws.String(cluster),
		ContainerInstances: []string{arn},
		Status:             ecstypes.ContainerInstanceStatus(status),
	})
	if err != nil {
		return fmt.Errorf("failed to set %s on container instance %s: %w", status, arn, err)
	}

	c.logger.Info("updated container instance state",
		"cluster", cluster,
		"container_instance", arn,
		"status", string(status),
	)

	return nil
}

func (c *AWSECSClient) RunningTaskCount(ctx context.Context, cluster, arn string) (int, error) {
	count := 0
	paginator := ecs.NewListTasksPaginator(c.client, &ecs.ListTasksInput{
		Cluster:           aws.String(cluster),
		ContainerInstance: aws.String(arn),
		DesiredStatus:     ecstypes.DesiredStatusRunning,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to list tasks on %s: %w", arn, err)
		}
		count += len(page.TaskArns)
	}
	return count, nil
}

// instanceFromAWS converts an ECS container instance to our model.
func instanceFromAWS(ci ecstypes.ContainerInstance) Instance {
	return Instance{
		InstanceID:           aws.ToString(ci.Ec2InstanceId),
		ContainerInstanceARN: aws.ToString(ci.ContainerInstanceArn),
		Status:               Status(aws.ToString(ci.Status)),
		RunningTasks:         int(ci.RunningTasksCount),
		PendingTasks:         int(ci.PendingTasksCount),
		AgentConnected:       ci.AgentConnected,
	}
}

// clusterNameFromARN extracts the name segment from a cluster ARN.
func clusterNameFromARN(arn string) string {
	if idx := strings.LastIndex(arn, "/"); idx >= 0 {
		return arn[idx+1:]
	}
	return arn
}

// Compile-time interface check.
var _ ECSClient = (*AWSECSClient)(nil)
