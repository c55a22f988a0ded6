package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/corkboard/server/internal/pipeline"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	results []pipeline.BatchResult
	err     error
	calls   int
	sizes   []int

	staleAfter time.Duration
	staleLimit int
}

func (f *fakeRunner) RunOnce(_ context.Context, batchSize int) (pipeline.BatchResult, error) {
	f.calls++
	f.sizes = append(f.sizes, batchSize)
	if f.err != nil {
		return pipeline.BatchResult{}, f.err
	}
	if len(f.results) == 0 {
		return pipeline.BatchResult{}, nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

func (f *fakeRunner) RecoverStale(_ context.Context, staleAfter time.Duration, limit int) (int, error) {
	f.staleAfter = staleAfter
	f.staleLimit = limit
	return 0, nil
}

func processJob() *river.Job[ProcessScansArgs] {
	return &river.Job[ProcessScansArgs]{JobRow: &rivertype.JobRow{ID: 1}, Args: ProcessScansArgs{Reason: ReasonPoll}}
}

func TestProcessScansWorker_DrainsFullBatches(t *testing.T) {
	runner := &fakeRunner{results: []pipeline.BatchResult{
		{Claimed: 5, Completed: 5},
		{Claimed: 5, Completed: 4, Retried: 1},
		{Claimed: 2, Completed: 2},
	}}
	w := ProcessScansWorker{Runner: runner, BatchSize: 5, Logger: zerolog.Nop()}

	require.NoError(t, w.Work(context.Background(), processJob()))
	assert.Equal(t, 3, runner.calls)
	assert.Equal(t, []int{5, 5, 5}, runner.sizes)
}

func TestProcessScansWorker_StopsAtMaxPasses(t *testing.T) {
	full := pipeline.BatchResult{Claimed: 1, Completed: 1}
	runner := &fakeRunner{results: []pipeline.BatchResult{full, full, full, full}}
	w := ProcessScansWorker{Runner: runner, BatchSize: 1, MaxPasses: 2}

	require.NoError(t, w.Work(context.Background(), processJob()))
	assert.Equal(t, 2, runner.calls)
}

func TestProcessScansWorker_ClaimErrorFailsJob(t *testing.T) {
	runner := &fakeRunner{err: errors.New("connection refused")}
	w := ProcessScansWorker{Runner: runner}

	err := w.Work(context.Background(), processJob())
	require.Error(t, err)
	assert.Equal(t, []int{10}, runner.sizes, "default batch size")
}

func TestProcessScansWorker_RequiresRunner(t *testing.T) {
	require.Error(t, ProcessScansWorker{}.Work(context.Background(), processJob()))
}

func TestRecoverStaleWorker(t *testing.T) {
	runner := &fakeRunner{}
	w := RecoverStaleWorker{Recoverer: runner, StaleAfter: 20 * time.Minute}
	job := &river.Job[RecoverStaleArgs]{JobRow: &rivertype.JobRow{ID: 2}}

	require.NoError(t, w.Work(context.Background(), job))
	assert.Equal(t, 20*time.Minute, runner.staleAfter)
	assert.Equal(t, 100, runner.staleLimit)
}

func TestJobKinds(t *testing.T) {
	assert.Equal(t, JobKindProcessScans, ProcessScansArgs{}.Kind())
	assert.Equal(t, JobKindProcessScans, ProcessScansWorker{}.Kind())
	assert.Equal(t, JobKindRecoverStale, RecoverStaleArgs{}.Kind())
	assert.Equal(t, JobKindRecoverStale, RecoverStaleWorker{}.Kind())
}

func TestNewWorkers(t *testing.T) {
	workers := NewWorkers(WorkerDeps{Processor: &fakeRunner{}, BatchSize: 10, StaleAfter: time.Minute})
	require.NotNil(t, workers)
}

type fakeInserter struct {
	args []river.JobArgs
	opts []*river.InsertOpts
	err  error
}

func (f *fakeInserter) Insert(_ context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.args = append(f.args, args)
	f.opts = append(f.opts, opts)
	return &rivertype.JobInsertResult{Job: &rivertype.JobRow{Kind: args.Kind()}}, nil
}

func TestTrigger(t *testing.T) {
	ins := &fakeInserter{}
	require.NoError(t, NewTrigger(ins).TriggerProcessing(context.Background()))
	require.Len(t, ins.args, 1)
	assert.Equal(t, ProcessScansArgs{Reason: ReasonSubmission}, ins.args[0])
	assert.Equal(t, ProcessScansMaxAttempts, ins.opts[0].MaxAttempts)
	assert.Equal(t, 2*time.Second, ins.opts[0].UniqueOpts.ByPeriod)

	failing := NewTrigger(&fakeInserter{err: errors.New("insert failed")})
	require.Error(t, failing.TriggerProcessing(context.Background()))

	var nilTrigger *Trigger
	require.Error(t, nilTrigger.TriggerProcessing(context.Background()))
}
