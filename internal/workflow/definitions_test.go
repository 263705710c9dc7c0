package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VariantEffect/mavedb-api-sub004/internal/domain"
)

func chainDefinition(jobs ...JobTemplate) map[string]PipelineDefinition {
	return map[string]PipelineDefinition{"test_pipeline": {Description: "test", Jobs: jobs}}
}

func TestRegistry_BuiltinDefinitionsAreValid(t *testing.T) {
	registry, err := NewRegistry(DefaultDefinitions())
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]string{"validate_map_annotate_score_set", "refresh_published_variants"},
		registry.Names())

	def, err := registry.Lookup("validate_map_annotate_score_set")
	require.NoError(t, err)
	assert.Len(t, def.Jobs, 4)

	t.Run("unknown_pipeline", func(t *testing.T) {
		_, err := registry.Lookup("no_such_pipeline")
		var notFound *domain.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestRegistry_Validation(t *testing.T) {
	cases := []struct {
		name string
		jobs []JobTemplate
	}{
		{
			name: "empty_key",
			jobs: []JobTemplate{{Key: "", Function: "f"}},
		},
		{
			name: "empty_function",
			jobs: []JobTemplate{{Key: "a", Function: ""}},
		},
		{
			name: "duplicate_key",
			jobs: []JobTemplate{
				{Key: "a", Function: "f"},
				{Key: "a", Function: "g"},
			},
		},
		{
			name: "negative_retries",
			jobs: []JobTemplate{{Key: "a", Function: "f", MaxRetries: -1}},
		},
		{
			name: "unknown_dependency",
			jobs: []JobTemplate{
				{Key: "a", Function: "f", Dependencies: []TemplateDependency{
					{Key: "missing", Type: domain.DependencySuccessRequired},
				}},
			},
		},
		{
			name: "self_dependency",
			jobs: []JobTemplate{
				{Key: "a", Function: "f", Dependencies: []TemplateDependency{
					{Key: "a", Type: domain.DependencySuccessRequired},
				}},
			},
		},
		{
			name: "unknown_dependency_type",
			jobs: []JobTemplate{
				{Key: "a", Function: "f"},
				{Key: "b", Function: "g", Dependencies: []TemplateDependency{
					{Key: "a", Type: "COMPLETION_REQUIRED"},
				}},
			},
		},
		{
			name: "two_node_cycle",
			jobs: []JobTemplate{
				{Key: "a", Function: "f", Dependencies: []TemplateDependency{
					{Key: "b", Type: domain.DependencySuccessRequired},
				}},
				{Key: "b", Function: "g", Dependencies: []TemplateDependency{
					{Key: "a", Type: domain.DependencySuccessRequired},
				}},
			},
		},
		{
			name: "three_node_cycle",
			jobs: []JobTemplate{
				{Key: "a", Function: "f", Dependencies: []TemplateDependency{
					{Key: "c", Type: domain.DependencySuccessRequired},
				}},
				{Key: "b", Function: "g", Dependencies: []TemplateDependency{
					{Key: "a", Type: domain.DependencySuccessRequired},
				}},
				{Key: "c", Function: "h", Dependencies: []TemplateDependency{
					{Key: "b", Type: domain.DependencySuccessRequired},
				}},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRegistry(chainDefinition(tc.jobs...))
			require.Error(t, err)
			var validation *domain.ValidationError
			assert.ErrorAs(t, err, &validation)
		})
	}
}

func TestResolveExecutionOrder_Levels(t *testing.T) {
	// diamond: a → {b, c} → d
	jobs := []JobTemplate{
		{Key: "a", Function: "f"},
		{Key: "b", Function: "g", Dependencies: []TemplateDependency{
			{Key: "a", Type: domain.DependencySuccessRequired},
		}},
		{Key: "c", Function: "h", Dependencies: []TemplateDependency{
			{Key: "a", Type: domain.DependencySuccessRequired},
		}},
		{Key: "d", Function: "i", Dependencies: []TemplateDependency{
			{Key: "b", Type: domain.DependencySuccessRequired},
			{Key: "c", Type: domain.DependencySuccessRequired},
		}},
	}

	levels, err := resolveExecutionOrder("diamond", jobs)
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"a"}, levels[0])
	assert.ElementsMatch(t, []string{"b", "c"}, levels[1])
	assert.Equal(t, []string{"d"}, levels[2])
}
