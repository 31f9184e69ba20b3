package roll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/finnigja/ecsroll/internal/backoff"
	"github.com/finnigja/ecsroll/internal/capacity"
	"github.com/finnigja/ecsroll/internal/cluster"
	"github.com/finnigja/ecsroll/internal/compute"
	"github.com/finnigja/ecsroll/internal/config"
	"github.com/finnigja/ecsroll/internal/metrics"
)

// Orchestrator drives the whole maintenance run: add overflow capacity,
// cycle every instance through drain → act → protect, then restore the
// original group size. Strictly sequential: exactly one instance is in
// flight at a time, so healthy capacity never drops below the original
// desired capacity.
type Orchestrator struct {
	reader SnapshotReader
	ecs    cluster.ECSClient
	asg    capacity.ASGClient
	ec2    compute.EC2Client
	gate   Gate
	logger *slog.Logger

	clusterName string
	action      Action

	wait              config.WaitConfig
	replacementPolicy string
	sleep             backoff.SleepFunc
}

// Config configures an orchestrator.
type Config struct {
	Reader SnapshotReader
	ECS    cluster.ECSClient
	ASG    capacity.ASGClient
	EC2    compute.EC2Client
	Gate   Gate
	Logger *slog.Logger

	Cluster string
	Action  Action

	Wait              config.WaitConfig
	ReplacementPolicy string

	// Sleep replaces real timers in every polling loop. Tests inject a
	// no-op so no wall-clock time passes.
	Sleep backoff.SleepFunc
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gate == nil {
		cfg.Gate = AutoYesGate{}
	}
	if cfg.Wait.BaseSeconds <= 0 {
		cfg.Wait = config.Default().Wait
	}
	if cfg.ReplacementPolicy == "" {
		cfg.ReplacementPolicy = config.ReplacementPolicyFail
	}
	return &Orchestrator{
		reader:            cfg.Reader,
		ecs:               cfg.ECS,
		asg:               cfg.ASG,
		ec2:               cfg.EC2,
		gate:              cfg.Gate,
		logger:            cfg.Logger,
		clusterName:       cfg.Cluster,
		action:            cfg.Action,
		wait:              cfg.Wait,
		replacementPolicy: cfg.ReplacementPolicy,
		sleep:             cfg.Sleep,
	}
}

func (o *Orchestrator) policy(maxAttempts int) backoff.Policy {
	return backoff.Policy{
		Base:        time.Duration(o.wait.BaseSeconds) * time.Second,
		Factor:      o.wait.Factor,
		Jitter:      o.wait.Jitter,
		MaxAttempts: maxAttempts,
		Sleep:       o.sleep,
	}
}

// Run executes the maintenance cycle and returns the run summary.
//
// Only pre-mutation failures abort with an error: a failed cluster
// lookup, a declined run start, or overflow capacity that never became
// healthy. Everything after that point is per-instance (recorded in the
// summary) or a restore warning (recorded in the summary too).
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	snap, err := o.reader.Snapshot(ctx, o.clusterName)
	if err != nil {
		return nil, err
	}
	metrics.ClusterInstances.Set(float64(len(snap.Instances)))
	metrics.GroupDesiredCapacity.Set(float64(snap.DesiredCapacity))

	summary := &Summary{
		Cluster:          o.clusterName,
		Action:           o.action,
		OriginalCapacity: snap.DesiredCapacity,
	}

	o.logger.Info("starting maintenance run",
		"cluster", o.clusterName,
		"group", snap.GroupName,
		"action", o.action.String(),
		"instances", len(snap.Instances),
		"desired_capacity", snap.DesiredCapacity,
	)

	ok, err := o.gate.Confirm(ctx, Step{
		Name: StepStart,
		Description: fmt.Sprintf("Initiate %s cycle for %d instances of cluster %q (group %q)?",
			o.action, len(snap.Instances), o.clusterName, snap.GroupName),
		Total: len(snap.Instances),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRunDeclined
	}

	protection := capacity.NewProtectionManager(o.asg, snap.GroupName, o.logger)
	waiter := compute.NewWaiter(o.ec2, o.logger, o.policy(o.wait.StatusMaxAttempts))
	overflow := capacity.NewOverflowManager(capacity.OverflowManagerConfig{
		ASG:            o.asg,
		Reader:         o.reader,
		Logger:         o.logger,
		Backoff:        o.policy(o.wait.CapacityMaxAttempts),
		WaitInstanceOK: waiter.WaitInstanceOK,
	})
	restorer := capacity.NewRestorer(capacity.RestorerConfig{
		ASG:        o.asg,
		Reader:     o.reader,
		Protection: protection,
		Logger:     o.logger,
		Backoff:    o.policy(o.wait.CapacityMaxAttempts),
	})

	// The overflow unit must be schedulable before any drain starts.
	fresh, err := overflow.Grow(ctx, snap, 1)
	if err != nil {
		metrics.StepFailures.WithLabelValues("overflow").Inc()
		return nil, err
	}

	// seen holds every instance ID this run has touched or observed:
	// the original fleet, the overflow unit, and each replacement as it
	// registers. Nothing in it is ever acted on again.
	seen := make(map[string]bool, len(snap.Instances)+1)
	for _, inst := range snap.Instances {
		seen[inst.InstanceID] = true
	}
	for _, inst := range fresh {
		seen[inst.InstanceID] = true
	}

	drainer := NewDrainCoordinator(o.ecs, o.clusterName, o.policy(o.wait.DrainMaxAttempts), o.logger)
	executor := NewActionExecutor(ExecutorConfig{
		ECS:               o.ecs,
		EC2:               o.ec2,
		Reader:            o.reader,
		Waiter:            waiter,
		Logger:            o.logger,
		ClusterName:       o.clusterName,
		GroupName:         snap.GroupName,
		Action:            o.action,
		ExpectCount:       len(snap.Instances) + 1,
		CapacityBackoff:   o.policy(o.wait.CapacityMaxAttempts),
		StatusBackoff:     o.policy(o.wait.StatusMaxAttempts),
		ReplacementPolicy: o.replacementPolicy,
	})

	total := len(snap.Instances)
	for i, inst := range snap.Instances {
		result := o.cycleInstance(ctx, inst, i+1, total, seen, drainer, executor, protection)
		summary.Results = append(summary.Results, result)
	}

	o.restore(ctx, summary, snap, restorer, drainer, fresh)

	summary.Log(o.logger)
	return summary, nil
}

// cycleInstance runs one instance through the per-instance state
// machine. Any gate rejection or component error is terminal for the
// instance, never for the run.
func (o *Orchestrator) cycleInstance(
	ctx context.Context,
	inst cluster.Instance,
	ordinal, total int,
	seen map[string]bool,
	drainer *DrainCoordinator,
	executor *ActionExecutor,
	protection *capacity.ProtectionManager,
) InstanceResult {
	result := InstanceResult{
		InstanceID:           inst.InstanceID,
		ContainerInstanceARN: inst.ContainerInstanceARN,
		State:                StatePending,
	}

	ok, err := o.gate.Confirm(ctx, Step{
		Name: StepDrain,
		Description: fmt.Sprintf("Drain instance %d of %d, %s [%s]?",
			ordinal, total, inst.InstanceID, inst.ContainerInstanceARN),
		InstanceID:   inst.InstanceID,
		Ordinal:      ordinal,
		Total:        total,
		RunningTasks: inst.RunningTasks,
	})
	if err != nil {
		return o.fail(result, err)
	}
	if !ok {
		return o.skip(result)
	}

	result.State = StateDraining
	if err := drainer.Drain(ctx, inst); err != nil {
		return o.fail(result, err)
	}
	result.State = StateDrainComplete

	ok, err = o.gate.Confirm(ctx, Step{
		Name: StepAction,
		Description: fmt.Sprintf("Perform %s %d of %d on drained instance %s?",
			o.action, ordinal, total, inst.InstanceID),
		InstanceID: inst.InstanceID,
		Ordinal:    ordinal,
		Total:      total,
	})
	if err != nil {
		return o.fail(result, err)
	}
	if !ok {
		// The instance stays DRAINING; reverting a drain is out of
		// scope because in-flight work may already have stopped.
		return o.skip(result)
	}

	protectID, err := executor.Execute(ctx, inst, seen)
	if err != nil {
		return o.fail(result, err)
	}
	result.State = StateActionApplied

	if err := protection.Set(ctx, []string{protectID}, true); err != nil {
		return o.fail(result, err)
	}
	result.State = StateProtectionSet

	result.State = StateDone
	o.logger.Info("instance cycled",
		"instance", inst.InstanceID,
		"ordinal", ordinal,
		"total", total,
	)
	return result
}

func (o *Orchestrator) restore(ctx context.Context, summary *Summary, snap *cluster.Snapshot, restorer *capacity.Restorer, drainer *DrainCoordinator, overflow []cluster.Instance) {
	ok, err := o.gate.Confirm(ctx, Step{
		Name: StepRestore,
		Description: fmt.Sprintf("Return group %q to original size %d?",
			snap.GroupName, snap.DesiredCapacity),
	})
	if err == nil && !ok {
		summary.RestoreSkipped = true
		o.logger.Warn("capacity restore declined; group remains oversized by one unit",
			"group", snap.GroupName,
		)
		// Protection still must not leak past the run.
		if clearErr := restorer.ClearProtections(ctx); clearErr != nil {
			summary.RestoreErr = &capacity.RestoreError{Group: snap.GroupName, Err: clearErr}
		}
		return
	}
	if err != nil {
		summary.RestoreErr = &capacity.RestoreError{Group: snap.GroupName, Err: err}
		return
	}

	// The shrink takes an unprotected instance, which is the overflow
	// unit. Drain it first so scale-in never removes an instance with
	// running tasks.
	if err := o.drainOverflow(ctx, drainer, overflow); err != nil {
		metrics.StepFailures.WithLabelValues("restore").Inc()
		summary.RestoreErr = &capacity.RestoreError{Group: snap.GroupName, Err: err}
		if clearErr := restorer.ClearProtections(ctx); clearErr != nil {
			o.logger.Warn("failed to clear scale-in protection",
				"group", snap.GroupName,
				"error", clearErr.Error(),
			)
		}
		return
	}

	if err := restorer.Restore(ctx, o.clusterName, snap.GroupName, 1, len(snap.Instances)); err != nil {
		metrics.StepFailures.WithLabelValues("restore").Inc()
		summary.RestoreErr = err
	}
}

// drainOverflow drains whichever of the run's overflow instances are
// still registered, ahead of the group shrink.
func (o *Orchestrator) drainOverflow(ctx context.Context, drainer *DrainCoordinator, overflow []cluster.Instance) error {
	if len(overflow) == 0 {
		return nil
	}
	current, err := o.reader.Snapshot(ctx, o.clusterName)
	if err != nil {
		return fmt.Errorf("failed to refresh cluster state: %w", err)
	}
	for _, inst := range overflow {
		cur, ok := current.InstanceByID(inst.InstanceID)
		if !ok {
			continue
		}
		if err := drainer.Drain(ctx, cur); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) fail(result InstanceResult, err error) InstanceResult {
	result.State = StateFailed
	result.Err = err
	metrics.StepFailures.WithLabelValues(failureKind(err)).Inc()
	o.logger.Warn("instance failed",
		"instance", result.InstanceID,
		"error", err.Error(),
	)
	return result
}

func (o *Orchestrator) skip(result InstanceResult) InstanceResult {
	result.State = StateFailed
	result.Skipped = true
	metrics.StepFailures.WithLabelValues("skipped").Inc()
	o.logger.Info("instance skipped by operator",
		"instance", result.InstanceID,
	)
	return result
}

func failureKind(err error) string {
	var drainErr *DrainTimeoutError
	var actionErr *ActionError
	var capErr *capacity.CapacityTimeoutError
	var statusErr *compute.StatusTimeoutError
	switch {
	case errors.As(err, &drainErr):
		return "drain_timeout"
	case errors.As(err, &actionErr):
		return "action_rejected"
	case errors.As(err, &capErr):
		return "capacity_timeout"
	case errors.As(err, &statusErr):
		return "status_timeout"
	default:
		return "other"
	}
}
