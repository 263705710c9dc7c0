package workflow

import "github.com/VariantEffect/mavedb-api-sub004/internal/domain"

// Job types used by the built-in science workflows.
const (
	JobTypeVariantCreation   = "variant_creation"
	JobTypeVariantMapping    = "variant_mapping"
	JobTypeVariantAnnotation = "variant_annotation"
)

// As a general rule, job keys match function names for clarity. A suffix may
// be added to the key when the same function appears more than once.

// DefaultDefinitions returns the built-in pipeline definitions for the
// variant processing workflows.
func DefaultDefinitions() map[string]PipelineDefinition {
	return map[string]PipelineDefinition{
		"validate_map_annotate_score_set": {
			Description: "Pipeline to validate, map, and annotate variants for a score set.",
			Jobs: []JobTemplate{
				{
					Key:      "create_variants_for_score_set",
					Function: "create_variants_for_score_set",
					Type:     JobTypeVariantCreation,
					Params: map[string]any{
						"score_set_id":    nil, // supplied at runtime
						"updater_id":      nil, // supplied at runtime
						"scores_file_key": nil, // supplied at runtime
						"counts_file_key": nil, // supplied at runtime
					},
					MaxRetries:        3,
					RetryDelaySeconds: 30,
				},
				{
					Key:      "map_variants_for_score_set",
					Function: "map_variants_for_score_set",
					Type:     JobTypeVariantMapping,
					Params: map[string]any{
						"score_set_id": nil, // supplied at runtime
						"updater_id":   nil, // supplied at runtime
					},
					Dependencies: []TemplateDependency{
						{Key: "create_variants_for_score_set", Type: domain.DependencySuccessRequired},
					},
					MaxRetries:        3,
					RetryDelaySeconds: 60,
				},
				{
					Key:      "submit_score_set_mappings_to_car",
					Function: "submit_score_set_mappings_to_car",
					Type:     JobTypeVariantAnnotation,
					Params: map[string]any{
						"score_set_id": nil, // supplied at runtime
					},
					Dependencies: []TemplateDependency{
						{Key: "map_variants_for_score_set", Type: domain.DependencySuccessRequired},
					},
					MaxRetries:        5,
					RetryDelaySeconds: 120,
				},
				{
					Key:      "link_clinical_controls",
					Function: "link_clinical_controls",
					Type:     JobTypeVariantAnnotation,
					Params: map[string]any{
						"score_set_id": nil, // supplied at runtime
						"release":      "latest",
					},
					Dependencies: []TemplateDependency{
						{Key: "submit_score_set_mappings_to_car", Type: domain.DependencySuccessRequired},
					},
					MaxRetries:        3,
					RetryDelaySeconds: 60,
				},
			},
		},
		"refresh_published_variants": {
			Description: "Pipeline to re-map and re-annotate the variants of an already published score set.",
			Jobs: []JobTemplate{
				{
					Key:      "map_variants_for_score_set",
					Function: "map_variants_for_score_set",
					Type:     JobTypeVariantMapping,
					Params: map[string]any{
						"score_set_id": nil, // supplied at runtime
						"updater_id":   nil, // supplied at runtime
					},
					MaxRetries:        3,
					RetryDelaySeconds: 60,
				},
				{
					Key:      "link_clinical_controls",
					Function: "link_clinical_controls",
					Type:     JobTypeVariantAnnotation,
					Params: map[string]any{
						"score_set_id": nil, // supplied at runtime
						"release":      "latest",
					},
					Dependencies: []TemplateDependency{
						{Key: "map_variants_for_score_set", Type: domain.DependencySuccessRequired},
					},
					MaxRetries:        3,
					RetryDelaySeconds: 60,
				},
			},
		},
	}
}
