package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VariantEffect/mavedb-api-sub004/internal/domain"
	"github.com/VariantEffect/mavedb-api-sub004/internal/workflow"
)

func TestPool_RunsFanOutPipeline(t *testing.T) {
	env := setupEnv(t)
	rec := &callRecorder{}

	env.registry.MustRegister("root", okHandler(rec, "root"))
	env.registry.MustRegister("left", okHandler(rec, "left"))
	env.registry.MustRegister("right", okHandler(rec, "right"))

	defs := chainDefs(
		workflow.JobTemplate{Key: "root", Function: "root", Type: "test"},
		workflow.JobTemplate{Key: "left", Function: "left", Type: "test",
			Dependencies: []workflow.TemplateDependency{
				{Key: "root", Type: domain.DependencySuccessRequired},
			}},
		workflow.JobTemplate{Key: "right", Function: "right", Type: "test",
			Dependencies: []workflow.TemplateDependency{
				{Key: "root", Type: domain.DependencySuccessRequired},
			}},
	)

	pipeline := triggerDefinition(t, env, defs, "chain", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewPool(env.queue, env.executor, 4, testLogger())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		p, err := env.pipelines.GetByID(context.Background(), pipeline.ID)
		return err == nil && p.Status.IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	final, err := env.pipelines.GetByID(context.Background(), pipeline.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PipelineStatusSucceeded, final.Status)

	calls := rec.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, "root", calls[0], "fan-out children only run after the root")
	assert.ElementsMatch(t, []string{"left", "right"}, calls[1:])
}

func TestPool_StopsWhenQueueCloses(t *testing.T) {
	env := setupEnv(t)
	pool := NewPool(env.queue, env.executor, 2, testLogger())

	done := make(chan error, 1)
	go func() { done <- pool.Run(context.Background()) }()

	env.queue.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after queue close")
	}
}
