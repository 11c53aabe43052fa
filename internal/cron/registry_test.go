package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name    string
	cadence time.Duration
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

type periodicStub struct{ stubJob }

func (p *periodicStub) Cadence() time.Duration { return p.cadence }

func TestRegistryKeepsOrderAndRejectsDuplicates(t *testing.T) {
	jobA := &stubJob{name: "a"}
	jobB := &stubJob{name: "b"}
	registry := NewRegistry(jobA, nil)
	require.True(t, registry.Register(jobB))
	assert.False(t, registry.Register(&stubJob{name: "a"}))
	assert.False(t, registry.Register(nil))

	jobs := registry.Jobs()
	require.Len(t, jobs, 2)
	assert.Same(t, jobA, jobs[0])
	assert.Same(t, jobB, jobs[1])

	jobs[0] = nil
	assert.NotNil(t, registry.Jobs()[0], "internal slice leaked")
}

func TestRegistryDueHonoursCadence(t *testing.T) {
	everyTick := &stubJob{name: "provider-webhook-replay"}
	daily := &periodicStub{stubJob{name: "outbox-retention", cadence: 24 * time.Hour}}
	registry := NewRegistry(everyTick, daily)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.Len(t, registry.Due(start), 2, "periodic jobs run on the first tick")
	registry.MarkRun(everyTick.Name(), start)
	registry.MarkRun(daily.Name(), start)

	due := registry.Due(start.Add(time.Hour))
	require.Len(t, due, 1)
	assert.Equal(t, "provider-webhook-replay", due[0].Name())

	assert.Len(t, registry.Due(start.Add(24*time.Hour)), 2)
}
