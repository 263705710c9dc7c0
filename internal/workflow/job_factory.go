package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/VariantEffect/mavedb-api-sub004/internal/domain"
)

// JobFactory materializes job run records from templates and a runtime
// parameter bag. Created runs are staged only — persistence is the caller's
// responsibility, so a whole pipeline graph can commit atomically.
type JobFactory struct {
	softwareVersion string
}

// NewJobFactory creates a JobFactory stamping the given software version on
// every run it builds.
func NewJobFactory(softwareVersion string) *JobFactory {
	return &JobFactory{softwareVersion: softwareVersion}
}

// NewJobRun builds a job run from a template. Every nil-valued template
// parameter must be present in pipelineParams or the build fails with a
// MissingParameterError naming the key. Literal defaults are copied as-is,
// and extra caller params not referenced by the template are ignored.
func (f *JobFactory) NewJobRun(tmpl JobTemplate, correlationID string,
	pipelineParams map[string]any, pipelineID *string) (*domain.JobRun, error) {

	params, err := deepCopyParams(tmpl.Params)
	if err != nil {
		return nil, fmt.Errorf("copy params for job %s: %w", tmpl.Key, err)
	}

	for key, value := range params {
		if value != nil {
			continue
		}
		supplied, ok := pipelineParams[key]
		if !ok {
			return nil, &domain.MissingParameterError{Key: key}
		}
		params[key] = supplied
	}

	return &domain.JobRun{
		ID:                domain.NewID(),
		JobType:           tmpl.Type,
		JobFunction:       tmpl.Function,
		Params:            params,
		Status:            domain.JobStatusPending,
		PipelineID:        pipelineID,
		Priority:          tmpl.Priority,
		MaxRetries:        tmpl.MaxRetries,
		RetryDelaySeconds: tmpl.RetryDelaySeconds,
		CorrelationID:     correlationID,
		SoftwareVersion:   f.softwareVersion,
	}, nil
}

// deepCopyParams copies a parameter template, including nested mappings, so
// filled-in runs never alias the immutable registry.
func deepCopyParams(params map[string]any) (map[string]any, error) {
	if params == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(params))
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
