package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/workflow_platform/internal/apperrors"
)

func step(id string, dependsOn ...string) WorkflowStep {
	return WorkflowStep{ID: id, Type: StepJob, DependsOn: dependsOn}
}

func TestValidateDetectsCycle(t *testing.T) {
	def := &WorkflowDefinition{Steps: []WorkflowStep{
		step("a", "c"),
		step("b", "a"),
		step("c", "b"),
	}}

	err := Validate(def)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindDAGInvalid))
}

func TestValidateRejectsDuplicateStepID(t *testing.T) {
	def := &WorkflowDefinition{Steps: []WorkflowStep{
		step("a"),
		step("a"),
	}}

	err := Validate(def)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindDAGInvalid))
}

func TestValidateRejectsDuplicateStoreResultAs(t *testing.T) {
	a := step("a")
	a.StoreResultAs = "result"
	b := step("b", "a")
	b.StoreResultAs = "result"

	def := &WorkflowDefinition{Steps: []WorkflowStep{a, b}}

	err := Validate(def)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindDAGInvalid))
}

func TestValidateRejectsFanoutTemplateIDCollidingWithStepID(t *testing.T) {
	fanout := WorkflowStep{
		ID:       "fanout-step",
		Type:     StepFanout,
		Template: &WorkflowStep{ID: "other-step", Type: StepJob},
	}
	other := step("other-step")

	def := &WorkflowDefinition{Steps: []WorkflowStep{fanout, other}}

	err := Validate(def)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindDAGInvalid))
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	def := &WorkflowDefinition{Steps: []WorkflowStep{
		step("a", "missing"),
	}}

	err := Validate(def)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindDAGInvalid))
}

func TestValidateOrdersIndependentRootsByDeclarationOrder(t *testing.T) {
	def := &WorkflowDefinition{Steps: []WorkflowStep{
		step("c"),
		step("a"),
		step("b"),
	}}

	require.NoError(t, Validate(def))
	assert.Equal(t, []string{"c", "a", "b"}, def.DAG.TopologicalOrder)
	assert.Equal(t, []string{"c", "a", "b"}, def.DAG.Roots)
}

func TestValidateBreaksReadyTiesByDeclarationOrderNotDependencyOrder(t *testing.T) {
	def := &WorkflowDefinition{Steps: []WorkflowStep{
		step("root"),
		step("z", "root"),
		step("y", "root"),
		step("x", "root"),
	}}

	require.NoError(t, Validate(def))
	assert.Equal(t, []string{"root", "z", "y", "x"}, def.DAG.TopologicalOrder)
}

func TestValidateBuildsAdjacencyFromDependsOn(t *testing.T) {
	def := &WorkflowDefinition{Steps: []WorkflowStep{
		step("a"),
		step("b", "a"),
		step("c", "a"),
	}}

	require.NoError(t, Validate(def))
	assert.ElementsMatch(t, []string{"b", "c"}, def.DAG.Adjacency["a"])
	assert.Equal(t, []string{"a"}, def.DAG.Roots)
}

func TestValidateRejectsTooManyDependencies(t *testing.T) {
	deps := make([]string, 0, 26)
	steps := make([]WorkflowStep, 0, 27)
	for i := 0; i < 26; i++ {
		id := string(rune('a' + i))
		steps = append(steps, step(id))
		deps = append(deps, id)
	}
	steps = append(steps, step("overloaded", deps...))

	def := &WorkflowDefinition{Steps: steps}

	err := Validate(def)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindDAGInvalid))
}

func TestValidateAcceptsSimpleDiamond(t *testing.T) {
	def := &WorkflowDefinition{Steps: []WorkflowStep{
		step("start"),
		step("left", "start"),
		step("right", "start"),
		step("end", "left", "right"),
	}}

	require.NoError(t, Validate(def))
	assert.Equal(t, []string{"start", "left", "right", "end"}, def.DAG.TopologicalOrder)
}
