package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/workflow_platform/internal/apperrors"
	"github.com/R3E-Network/workflow_platform/internal/dag"
	"github.com/R3E-Network/workflow_platform/internal/jsonvalue"
	"github.com/R3E-Network/workflow_platform/internal/logging"
	"github.com/R3E-Network/workflow_platform/internal/metrics"
	"github.com/R3E-Network/workflow_platform/internal/queue"
)

// Executor implements the C6 Workflow Executor.
type Executor struct {
	store   Store
	queue   queue.Queue
	assets  AssetStaleness
	logger  *logging.Logger
	metrics metrics.Recorder
	rnd     *rand.Rand
}

// NewExecutor builds an Executor. assets may be nil if replay's
// stale-asset gate is not needed by the caller (e.g. unit tests exercising
// only run creation).
func NewExecutor(store Store, q queue.Queue, assets AssetStaleness, logger *logging.Logger, recorder metrics.Recorder) *Executor {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &Executor{
		store:   store,
		queue:   q,
		assets:  assets,
		logger:  logger,
		metrics: recorder,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CreateRun implements spec.md §4.6's run-creation algorithm.
func (e *Executor) CreateRun(ctx context.Context, req RunRequest) (WorkflowRun, error) {
	def, err := e.store.GetDefinition(ctx, req.WorkflowDefinitionID)
	if err != nil {
		return WorkflowRun{}, err
	}

	params := req.Parameters
	if params == nil {
		// caller supplies definition.defaultParameters via req.Parameters
		// being pre-merged upstream; nil here means "no override".
		params = map[string]any{}
	}
	paramsVal, err := jsonvalue.FromAny(params)
	if err != nil {
		return WorkflowRun{}, apperrors.Validation("invalid parameters: %v", err)
	}

	if err := ValidatePartitionKey(&def, req.PartitionKey); err != nil {
		return WorkflowRun{}, err
	}

	now := time.Now().UTC()
	run := WorkflowRun{
		ID:                   uuid.NewString(),
		WorkflowDefinitionID: def.ID,
		Status:               RunPending,
		Parameters:           paramsVal,
		Context:              jsonvalue.Null,
		Output:               jsonvalue.Null,
		PartitionKey:         req.PartitionKey,
		TriggeredBy:          req.TriggeredBy,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if req.Trigger != nil {
		if tv, err := jsonvalue.FromAny(req.Trigger); err == nil {
			run.Trigger = tv
		}
	}
	if req.RunKey != nil {
		normalized := NormalizeRunKey(*req.RunKey)
		run.RunKey = req.RunKey
		run.RunKeyNormalized = &normalized
	}

	result, created, err := e.store.CreateRun(ctx, run)
	if err != nil {
		return WorkflowRun{}, err
	}
	if !created {
		return result, apperrors.Conflict("run-key-conflict").WithDetail(result)
	}

	key := result.ID
	if result.RunKeyNormalized != nil {
		key = *result.RunKeyNormalized
	}
	payload, _ := json.Marshal(result)
	if err := e.queue.Enqueue(ctx, queue.KindRunDispatch, key, payload); err != nil {
		failed := result
		failed.Status = RunFailed
		zero := int64(0)
		failed.DurationMs = &zero
		failed.UpdatedAt = time.Now().UTC()
		_ = e.store.UpdateRun(ctx, failed)
		e.metrics.Counter("run_enqueue_failures_total", nil, 1)
		return failed, apperrors.Wrap(apperrors.KindQueueUnavailable, "enqueue run", err)
	}

	e.metrics.Counter("runs_created_total", map[string]string{"workflow": def.Slug}, 1)
	return result, nil
}

// LaunchRun adapts CreateRun to the shape trigger.RunLauncher expects,
// letting the trigger engine depend on an Executor without either package
// importing the other.
func (e *Executor) LaunchRun(ctx context.Context, workflowDefinitionID string, parameters map[string]any, runKey *string, triggeredBy, triggerID *string) (string, error) {
	var trigger map[string]any
	if triggerID != nil {
		trigger = map[string]any{"triggerId": *triggerID}
	}
	run, err := e.CreateRun(ctx, RunRequest{
		WorkflowDefinitionID: workflowDefinitionID,
		Parameters:           parameters,
		RunKey:               runKey,
		TriggeredBy:          triggeredBy,
		Trigger:              trigger,
	})
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

// StartStep transitions a step pending → running and, on a run's first
// step start, transitions the run pending → running.
func (e *Executor) StartStep(ctx context.Context, runID, stepID string) (WorkflowRunStep, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return WorkflowRunStep{}, err
	}
	if run.Status == RunPending {
		run.Status = RunRunning
		startedAt := time.Now().UTC()
		run.StartedAt = &startedAt
		run.CurrentStepID = &stepID
		run.UpdatedAt = startedAt
		if err := e.store.UpdateRun(ctx, run); err != nil {
			return WorkflowRunStep{}, err
		}
	}

	step, err := e.store.GetStep(ctx, runID, stepID)
	if err != nil {
		return WorkflowRunStep{}, err
	}
	step.Status = StepRunning
	step.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateStep(ctx, step); err != nil {
		return WorkflowRunStep{}, err
	}
	return step, nil
}

// CompleteStep transitions a step to succeeded, recording its
// output and produced assets, and advances the run's status if this was
// the last outstanding step.
func (e *Executor) CompleteStep(ctx context.Context, runID, stepID string, output jsonvalue.Value, produced []ProducedAsset) error {
	step, err := e.store.GetStep(ctx, runID, stepID)
	if err != nil {
		return err
	}
	step.Status = StepSucceeded
	step.Output = output
	step.ProducedAssets = produced
	step.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateStep(ctx, step); err != nil {
		return err
	}
	return e.maybeFinalizeRun(ctx, runID)
}

// FailStep consults the step's retry policy: if attempts remain, the step
// is re-enqueued for a retry at nextAttemptAt; otherwise it (and the run)
// are marked failed.
func (e *Executor) FailStep(ctx context.Context, runID, stepID string, stepDef dag.WorkflowStep, stepErr error) error {
	step, err := e.store.GetStep(ctx, runID, stepID)
	if err != nil {
		return err
	}

	msg := stepErr.Error()
	step.ErrorMessage = &msg
	policy := stepDef.RetryPolicy

	if policy.ShouldRetry(step.Attempt) {
		delay := policy.Jittered(policy.NextDelay(step.Attempt), e.rnd)
		nextAt := time.Now().UTC().Add(delay)
		step.Status = StepPending
		step.Attempt++
		step.RetryAttempts++
		step.RetryState.Attempts = step.Attempt
		step.RetryState.NextAttemptAt = &nextAt
		step.RetryState.LastError = &msg
		step.NextAttemptAt = &nextAt
		step.UpdatedAt = time.Now().UTC()
		if err := e.store.UpdateStep(ctx, step); err != nil {
			return err
		}

		payload, _ := json.Marshal(step)
		return e.queue.Enqueue(ctx, queue.KindStepDispatch, runID+"/"+stepID, payload)
	}

	step.Status = StepFailed
	step.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateStep(ctx, step); err != nil {
		return err
	}

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	run.Status = RunFailed
	e.finalizeRun(&run)
	return e.store.UpdateRun(ctx, run)
}

// SkipStep marks a step skipped (e.g. an unreachable branch after an
// upstream failure) without affecting retry bookkeeping.
func (e *Executor) SkipStep(ctx context.Context, runID, stepID string) error {
	step, err := e.store.GetStep(ctx, runID, stepID)
	if err != nil {
		return err
	}
	step.Status = StepSkipped
	step.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateStep(ctx, step); err != nil {
		return err
	}
	return e.maybeFinalizeRun(ctx, runID)
}

func (e *Executor) maybeFinalizeRun(ctx context.Context, runID string) error {
	steps, err := e.store.ListStepsForRun(ctx, runID)
	if err != nil {
		return err
	}
	allDone := true
	for _, s := range steps {
		if s.Status != StepSucceeded && s.Status != StepSkipped {
			allDone = false
			break
		}
	}
	if !allDone {
		return nil
	}

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.IsTerminal() {
		return nil
	}
	run.Status = RunSucceeded
	e.finalizeRun(&run)
	return e.store.UpdateRun(ctx, run)
}

func (e *Executor) finalizeRun(run *WorkflowRun) {
	now := time.Now().UTC()
	run.CompletedAt = &now
	run.UpdatedAt = now
	if run.StartedAt != nil {
		d := now.Sub(*run.StartedAt).Milliseconds()
		run.DurationMs = &d
	} else {
		zero := int64(0)
		run.DurationMs = &zero
	}
}

// ExpandFanout materializes one child step per collection element (up to
// MaxItems), naming each child "<template id>[<i>]", per
// spec.md §4.6. It does not dispatch them; callers enqueue the returned
// steps via KindStepDispatch respecting MaxConcurrency.
func ExpandFanout(step dag.WorkflowStep, collection []any) ([]dag.WorkflowStep, error) {
	if step.Type != dag.StepFanout || step.Template == nil {
		return nil, apperrors.Validation("step %s is not a fanout step", step.ID)
	}
	maxItems := step.MaxItems
	if maxItems <= 0 || maxItems > 10000 {
		maxItems = 10000
	}
	if len(collection) > maxItems {
		collection = collection[:maxItems]
	}

	out := make([]dag.WorkflowStep, 0, len(collection))
	for i := range collection {
		child := *step.Template
		child.ID = fmt.Sprintf("%s[%d]", step.Template.ID, i)
		out = append(out, child)
	}
	return out, nil
}

// Replay creates a new run with the source run's (parameters, triggeredBy,
// trigger, partitionKey). If allowStaleAssets is false and any of the
// source run's produced assets are stale, Replay fails with
// apperrors.KindStaleAssets.
func (e *Executor) Replay(ctx context.Context, sourceRunID string, allowStaleAssets bool) (WorkflowRun, []string, error) {
	source, err := e.store.GetRun(ctx, sourceRunID)
	if err != nil {
		return WorkflowRun{}, nil, err
	}

	var stale []string
	if e.assets != nil {
		steps, err := e.store.ListStepsForRun(ctx, sourceRunID)
		if err != nil {
			return WorkflowRun{}, nil, err
		}
		seen := make(map[string]struct{})
		for _, step := range steps {
			for _, asset := range step.ProducedAssets {
				key := asset.AssetID + "/" + encodePartitionKey(asset.PartitionKey)
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				isStale, err := e.assets.IsStale(ctx, asset.AssetID, asset.PartitionKey)
				if err != nil {
					return WorkflowRun{}, nil, err
				}
				if isStale {
					stale = append(stale, asset.AssetID)
				}
			}
		}
	}

	if len(stale) > 0 && !allowStaleAssets {
		return WorkflowRun{}, stale, apperrors.StaleAssets(stale)
	}

	var params map[string]any
	_ = source.Parameters.Decode(&params)
	var trigger map[string]any
	if !source.Trigger.IsNull() {
		_ = source.Trigger.Decode(&trigger)
	}

	run, err := e.CreateRun(ctx, RunRequest{
		WorkflowDefinitionID: source.WorkflowDefinitionID,
		Parameters:           params,
		PartitionKey:         source.PartitionKey,
		TriggeredBy:          source.TriggeredBy,
		Trigger:              trigger,
	})
	return run, stale, err
}

func encodePartitionKey(pk map[string]string) string {
	if len(pk) == 0 {
		return ""
	}
	keys := make([]string, 0, len(pk))
	for k := range pk {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for _, k := range keys {
		out += k + "=" + pk[k] + "&"
	}
	return out
}

// Diff compares two runs of the same workflow definition, per spec.md
// §4.6's diff contract.
func (e *Executor) Diff(ctx context.Context, baseRunID, compareRunID string) (Diff, error) {
	base, err := e.store.GetRun(ctx, baseRunID)
	if err != nil {
		return Diff{}, err
	}
	compare, err := e.store.GetRun(ctx, compareRunID)
	if err != nil {
		return Diff{}, err
	}
	if base.WorkflowDefinitionID != compare.WorkflowDefinitionID {
		return Diff{}, apperrors.Validation("runs belong to different workflow definitions")
	}

	baseSteps, err := e.store.ListStepsForRun(ctx, baseRunID)
	if err != nil {
		return Diff{}, err
	}
	compareSteps, err := e.store.ListStepsForRun(ctx, compareRunID)
	if err != nil {
		return Diff{}, err
	}

	d := Diff{
		Parameters: jsonDiff(base.Parameters, compare.Parameters),
		Context:    jsonDiff(base.Context, compare.Context),
		Output:     jsonDiff(base.Output, compare.Output),
	}
	d.StatusTransitions = []string{string(base.Status) + " -> " + string(compare.Status)}
	d.Assets = diffAssets(baseSteps, compareSteps)

	if e.assets != nil {
		for _, entry := range d.Assets {
			isStale, err := e.assets.IsStale(ctx, entry.AssetID, entry.PartitionKey)
			if err == nil && isStale {
				d.StaleAssets = append(d.StaleAssets, entry.AssetID)
			}
		}
	}
	return d, nil
}

func jsonDiff(base, compare jsonvalue.Value) jsonvalue.Value {
	if base.String() == compare.String() {
		return jsonvalue.Null
	}
	v, _ := jsonvalue.FromAny(map[string]any{"base": json.RawMessage(base.Raw()), "compare": json.RawMessage(compare.Raw())})
	return v
}

func diffAssets(baseSteps, compareSteps []WorkflowRunStep) []AssetDiffEntry {
	type key struct {
		assetID string
		pk      string
	}
	inBase := make(map[key]ProducedAsset)
	inCompare := make(map[key]ProducedAsset)
	for _, s := range baseSteps {
		for _, a := range s.ProducedAssets {
			inBase[key{a.AssetID, encodePartitionKey(a.PartitionKey)}] = a
		}
	}
	for _, s := range compareSteps {
		for _, a := range s.ProducedAssets {
			inCompare[key{a.AssetID, encodePartitionKey(a.PartitionKey)}] = a
		}
	}

	seen := make(map[key]struct{})
	var out []AssetDiffEntry
	for k, a := range inBase {
		_, inC := inCompare[k]
		out = append(out, AssetDiffEntry{AssetID: a.AssetID, PartitionKey: a.PartitionKey, InBase: true, InCompare: inC})
		seen[k] = struct{}{}
	}
	for k, a := range inCompare {
		if _, ok := seen[k]; ok {
			continue
		}
		out = append(out, AssetDiffEntry{AssetID: a.AssetID, PartitionKey: a.PartitionKey, InBase: false, InCompare: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}
