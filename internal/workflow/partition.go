package workflow

import (
	"strings"
	"time"

	"github.com/R3E-Network/workflow_platform/internal/apperrors"
	"github.com/R3E-Network/workflow_platform/internal/dag"
)

// ValidatePartitionKey implements spec.md §4.6 step 2: if any step declares
// a partitioned asset, partitionKey is required and must validate against
// every partitioning spec attached to the definition's steps.
func ValidatePartitionKey(def *dag.WorkflowDefinition, partitionKey *string) error {
	specs := collectPartitioningSpecs(def)
	if len(specs) == 0 {
		return nil
	}
	if partitionKey == nil || strings.TrimSpace(*partitionKey) == "" {
		return apperrors.PartitionKeyInvalid("partitionKey is required")
	}

	for assetID, spec := range specs {
		if err := validateOne(assetID, spec, *partitionKey); err != nil {
			return err
		}
	}
	return nil
}

func collectPartitioningSpecs(def *dag.WorkflowDefinition) map[string]*dag.Partitioning {
	out := make(map[string]*dag.Partitioning)
	for _, step := range def.Steps {
		for _, decl := range step.Produces {
			if decl.Partitioning != nil {
				out[decl.AssetID] = decl.Partitioning
			}
		}
		if step.Type == dag.StepFanout && step.Template != nil {
			for _, decl := range step.Template.Produces {
				if decl.Partitioning != nil {
					out[decl.AssetID] = decl.Partitioning
				}
			}
		}
	}
	return out
}

func validateOne(assetID string, spec *dag.Partitioning, key string) error {
	switch spec.Type {
	case dag.PartitioningTimeWindow:
		format := spec.Format
		if format == "" {
			format = time.RFC3339
		}
		t, err := time.Parse(format, key)
		if err != nil {
			return apperrors.PartitionKeyInvalid("Invalid partition key for asset %s: %v", assetID, err)
		}
		loc := time.UTC
		if spec.Timezone != "" {
			l, err := time.LoadLocation(spec.Timezone)
			if err != nil {
				return apperrors.PartitionKeyInvalid("Invalid partition key for asset %s: unknown timezone %q", assetID, spec.Timezone)
			}
			loc = l
		}
		if !alignedToGranularity(t.In(loc), spec.Granularity) {
			return apperrors.PartitionKeyInvalid("Invalid partition key for asset %s: %q does not align to granularity %q", assetID, key, spec.Granularity)
		}
	case dag.PartitioningStatic:
		for _, k := range spec.Keys {
			if k == key {
				return nil
			}
		}
		return apperrors.PartitionKeyInvalid("Invalid partition key for asset %s: %q is not one of the declared static keys", assetID, key)
	case dag.PartitioningDynamic:
		// Accepted, recorded as-is; maxKeys is not checked here, and no
		// other part of the module enforces it (Open Question #2).
	}
	return nil
}

// alignedToGranularity reports whether t falls exactly on a granularity
// boundary (spec.md §4.6 step 2). Calendar units (day/week/month/year) are
// checked field-by-field rather than via time.Truncate, since Truncate only
// handles fixed-length durations and breaks across DST transitions and for
// month/year, which aren't fixed durations at all. An unrecognized
// granularity is accepted rather than rejected outright.
func alignedToGranularity(t time.Time, granularity string) bool {
	switch strings.ToLower(granularity) {
	case "", "instant":
		return true
	case "minute":
		return t.Second() == 0 && t.Nanosecond() == 0
	case "hour":
		return t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
	case "day":
		return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
	case "week":
		return t.Weekday() == time.Monday && t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
	case "month":
		return t.Day() == 1 && t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
	case "year":
		return t.Month() == time.January && t.Day() == 1 && t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
	default:
		return true
	}
}
