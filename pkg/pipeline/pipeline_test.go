package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jzx17/pagepipeline/internal/testutils"
	"github.com/jzx17/pagepipeline/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *types.Config {
	return &types.Config{
		QueueCapacity: 4,
		BatchTimeout:  20 * time.Millisecond,
		DrainTimeout:  5 * time.Millisecond,
		StopTimeout:   2 * time.Second,
	}
}

func newTestPipeline(t *testing.T, specs []StageSpec[string]) *Pipeline[string] {
	t.Helper()
	p, err := New(specs, testConfig(), WithLogger[string](testutils.DiscardLogger()))
	require.NoError(t, err)
	return p
}

func suffixSpecs(batchSizes ...int) []StageSpec[string] {
	specs := make([]StageSpec[string], len(batchSizes))
	for i, size := range batchSizes {
		name := string(rune('a' + i))
		specs[i] = StageSpec[string]{Name: name, Processor: testutils.Suffix(name), BatchSize: size}
	}
	return specs
}

func TestNew_Validation(t *testing.T) {
	proc := testutils.Suffix("x")

	tests := []struct {
		name   string
		specs  []StageSpec[string]
		config *types.Config
	}{
		{"no stages", nil, nil},
		{"unnamed stage", []StageSpec[string]{{Processor: proc}}, nil},
		{"nil processor", []StageSpec[string]{{Name: "ocr"}}, nil},
		{"duplicate names", []StageSpec[string]{{Name: "ocr", Processor: proc}, {Name: "ocr", Processor: proc}}, nil},
		{"negative batch size", []StageSpec[string]{{Name: "ocr", Processor: proc, BatchSize: -1}}, nil},
		{"negative batch timeout override", []StageSpec[string]{{Name: "ocr", Processor: proc, BatchTimeout: -time.Second}}, nil},
		{"negative capacity override", []StageSpec[string]{{Name: "ocr", Processor: proc, QueueCapacity: -1}}, nil},
		{"invalid config", []StageSpec[string]{{Name: "ocr", Processor: proc}}, &types.Config{QueueCapacity: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.specs, tt.config)
			assert.ErrorIs(t, err, types.ErrInvalidConfig)
			assert.Nil(t, p)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New([]StageSpec[string]{{Name: "ocr", Processor: testutils.Suffix("ocr")}}, nil)
	require.NoError(t, err)

	cfg := p.Config()
	assert.Equal(t, 100, cfg.QueueCapacity)
	assert.Equal(t, 32, cfg.DrainBatchSize)
	assert.Equal(t, []string{"ocr"}, p.StageNames())
	assert.Equal(t, 1, p.specs[0].BatchSize)
}

func TestExecute_Conservation(t *testing.T) {
	for _, n := range []int{1, 10, 57} {
		t.Run(fmt.Sprintf("%d items", n), func(t *testing.T) {
			p := newTestPipeline(t, suffixSpecs(1, 3, 2))
			pages := testutils.Pages(n)

			result := p.Execute(testutils.TestContext(t, 10*time.Second), nil, pages)

			require.NoError(t, result.Err)
			assert.Equal(t, types.StatusSuccess, result.Status)
			assert.Equal(t, n, result.ExpectedTotal)
			assert.Equal(t, n, result.SuccessCount()+result.FailureCount())
			require.Len(t, result.Succeeded, n)
			for i, page := range pages {
				assert.Equal(t, page+"|a|b|c", result.Succeeded[i])
			}

			require.Len(t, result.Stages, 3)
			for _, st := range result.Stages {
				assert.Equal(t, int64(n), st.Processed, "stage %s", st.Name)
				assert.Equal(t, types.StageStopped, st.State)
			}
		})
	}
}

func TestExecuteMany_ConservationUnderContention(t *testing.T) {
	// capacity 1 and a tiny batch timeout keep every worker cycling through
	// empty get_batch timeouts while upstream stages put and close
	p, err := New(suffixSpecs(1, 2, 1), &types.Config{
		QueueCapacity: 1,
		BatchTimeout:  time.Millisecond,
		DrainTimeout:  time.Millisecond,
		StopTimeout:   2 * time.Second,
	}, WithLogger[string](testutils.DiscardLogger()))
	require.NoError(t, err)

	ctx := testutils.TestContext(t, 60*time.Second)
	for round := 0; round < 10; round++ {
		docs := make([]Document[string], 40)
		for i := range docs {
			docs[i] = Document[string]{Payloads: testutils.Pages(1 + i%4)}
		}

		for i, result := range p.ExecuteMany(ctx, docs, 8) {
			require.NotNil(t, result)
			require.NoError(t, result.Err, "round %d doc %d", round, i)
			require.Equal(t, types.StatusSuccess, result.Status, "round %d doc %d", round, i)
			require.Len(t, result.Succeeded, len(docs[i].Payloads))
			for j, page := range docs[i].Payloads {
				assert.Equal(t, page+"|a|b|c", result.Succeeded[j])
			}
		}
	}
}

func TestNewRunWiring_StageOverrides(t *testing.T) {
	specs := []StageSpec[string]{
		{Name: "ocr", Processor: testutils.Suffix("ocr"), BatchSize: 1, QueueCapacity: 2, BatchTimeout: time.Millisecond},
		{Name: "layout", Processor: testutils.Suffix("layout"), BatchSize: 1},
	}
	cfg := testConfig().WithDefaults()
	w, err := NewRunWiring(specs, cfg, nil, testutils.DiscardLogger())
	require.NoError(t, err)

	assert.Equal(t, 2, w.Stages()[0].Input().Cap())
	assert.Equal(t, cfg.QueueCapacity, w.Stages()[1].Input().Cap())
	assert.Equal(t, cfg.QueueCapacity, w.Terminal().Cap())
	require.NoError(t, w.Stop())

	p := newTestPipeline(t, specs)
	result := p.Execute(testutils.TestContext(t, 10*time.Second), nil, testutils.Pages(7))
	require.NoError(t, result.Err)
	assert.Equal(t, types.StatusSuccess, result.Status)
	assert.Equal(t, "page-6|ocr|layout", result.Succeeded[6])
}

func TestExecute_PartialFailure(t *testing.T) {
	// the second stage fails for sequence numbers 2 and 3 only
	failing := TryMap(func(ctx context.Context, run types.RunInfo, item string) (string, error) {
		if item == "page-2|a" || item == "page-3|a" {
			return "", errors.New("layout model rejected page")
		}
		return item + "|b", nil
	})
	p := newTestPipeline(t, []StageSpec[string]{
		{Name: "a", Processor: testutils.Suffix("a")},
		{Name: "b", Processor: failing, BatchSize: 1},
		{Name: "c", Processor: testutils.Suffix("c")},
	})

	result := p.Execute(testutils.TestContext(t, 10*time.Second), nil, testutils.Pages(5))

	assert.Equal(t, 3, result.SuccessCount())
	assert.Equal(t, 2, result.FailureCount())
	assert.Equal(t, types.StatusPartialSuccess, result.Status)
	assert.True(t, result.IsPartialSuccess())
	assert.False(t, result.IsCompleteFailure())
	assert.NoError(t, result.Err)

	assert.Equal(t, []string{"page-0|a|b|c", "page-1|a|b|c", "page-4|a|b|c"}, result.Succeeded)
	require.Len(t, result.Failed, 2)
	for i, seq := range []int{2, 3} {
		f := result.Failed[i]
		assert.Equal(t, seq, f.SequenceNo)

		var stageErr *types.StageError
		require.True(t, errors.As(f.Err, &stageErr))
		assert.Equal(t, "b", stageErr.Stage)
		assert.Equal(t, seq, stageErr.SequenceNo)
	}

	// failed items bypass the last stage
	assert.Equal(t, int64(3), result.Stages[2].Processed)
}

func TestExecute_EarlyTermination(t *testing.T) {
	var wiring *RunWiring[string]
	var calls atomic.Int32

	// the middle stage closes its downstream queue while handling the third item
	closer := types.ProcessorFunc[string](func(ctx context.Context, run types.RunInfo, items []string) ([]string, error) {
		if calls.Add(1) == 3 {
			wiring.Stages()[2].Input().Close()
		}
		out := make([]string, len(items))
		for i, item := range items {
			out[i] = item + "|b"
		}
		return out, nil
	})

	p := newTestPipeline(t, []StageSpec[string]{
		{Name: "a", Processor: testutils.Suffix("a")},
		{Name: "b", Processor: closer},
		{Name: "c", Processor: testutils.Suffix("c")},
	})
	p.onWire = func(w *RunWiring[string]) { wiring = w }

	done := make(chan *ProcessingResult[string], 1)
	go func() {
		done <- p.Execute(context.Background(), nil, testutils.Pages(5))
	}()

	var result *ProcessingResult[string]
	select {
	case result = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("coordinator blocked after the pipeline shut down early")
	}

	assert.ErrorIs(t, result.Err, types.ErrTerminatedEarly)
	assert.Equal(t, 5, result.SuccessCount()+result.FailureCount())
	assert.Equal(t, []string{"page-0|a|b|c", "page-1|a|b|c"}, result.Succeeded)
	require.Len(t, result.Failed, 3)
	for i, f := range result.Failed {
		assert.Equal(t, i+2, f.SequenceNo, "synthesized failures carry the missing sequence numbers")
		assert.ErrorIs(t, f.Err, types.ErrTerminatedEarly)
	}
	assert.Equal(t, types.StatusPartialSuccess, result.Status)
}

func TestExecute_NoPayloads(t *testing.T) {
	p := newTestPipeline(t, suffixSpecs(1))

	result := p.Execute(context.Background(), nil, nil)

	assert.ErrorIs(t, result.Err, types.ErrNoPayloads)
	assert.Equal(t, types.StatusFailure, result.Status)
	assert.Zero(t, result.ExpectedTotal)
	assert.Empty(t, result.Stages, "no wiring is built for an empty run")
}

func TestExecute_CancelledBeforeStart(t *testing.T) {
	rec := testutils.NewRecorder(testutils.Suffix("a"))
	p := newTestPipeline(t, []StageSpec[string]{{Name: "a", Processor: rec}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := p.Execute(ctx, nil, testutils.Pages(3))

	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.True(t, result.IsCompleteFailure())
	assert.Equal(t, 3, result.FailureCount())
	assert.Empty(t, rec.Batches())
}

func TestExecute_CancelledWhileRunning(t *testing.T) {
	blocker := testutils.NewBlocker[string]()
	p := newTestPipeline(t, []StageSpec[string]{
		{Name: "a", Processor: testutils.Suffix("a")},
		{Name: "b", Processor: blocker},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultChan := p.ExecuteAsync(ctx, nil, testutils.Pages(5))
	testutils.WaitClosed(t, blocker.Entered(), 5*time.Second)
	cancel()

	var result *ProcessingResult[string]
	select {
	case result = <-resultChan:
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish after cancellation")
	}

	// the stages may report their own cancellation failures before the coordinator notices
	if result.Err != nil {
		assert.ErrorIs(t, result.Err, context.Canceled)
	}
	assert.Equal(t, types.StatusFailure, result.Status)
	assert.Equal(t, 5, result.FailureCount())
	for _, f := range result.Failed {
		assert.ErrorIs(t, f.Err, context.Canceled)
	}
}

func TestExecute_RunContext(t *testing.T) {
	var runs []types.RunInfo
	proc := types.ProcessorFunc[string](func(ctx context.Context, run types.RunInfo, items []string) ([]string, error) {
		runs = append(runs, run)
		return items, nil
	})
	p := newTestPipeline(t, []StageSpec[string]{{Name: "a", Processor: proc, BatchSize: 8}})

	first := p.Execute(context.Background(), "report.pdf", testutils.Pages(1))
	second := p.Execute(context.Background(), "invoice.pdf", testutils.Pages(1))

	assert.Equal(t, int64(1), first.Run.ID)
	assert.Equal(t, int64(2), second.Run.ID)
	assert.NotEmpty(t, first.Run.Label)
	assert.NotEqual(t, first.Run.Label, second.Run.Label)

	require.Len(t, runs, 2)
	assert.Equal(t, first.Run, runs[0])
	assert.Equal(t, "invoice.pdf", runs[1].Shared)

	// finished runs are released
	assert.Equal(t, types.RunInfo{ID: 1}, p.resolveRun(1))
}

func TestExecuteMany_IsolatesOverlappingRuns(t *testing.T) {
	// every item must belong to the document its run was started for
	check := TryMap(func(ctx context.Context, run types.RunInfo, item string) (string, error) {
		doc := run.Shared.(string)
		if !strings.HasPrefix(item, doc+"/") {
			return "", fmt.Errorf("item %q leaked into run of %s", item, doc)
		}
		return item + "|ocr", nil
	})
	rec := testutils.NewRecorder(check)
	p := newTestPipeline(t, []StageSpec[string]{
		{Name: "preprocess", Processor: testutils.Suffix("pre")},
		{Name: "ocr", Processor: rec, BatchSize: 4},
		{Name: "assemble", Processor: testutils.Suffix("asm"), BatchSize: 2},
	})

	docs := make([]Document[string], 6)
	for i := range docs {
		name := fmt.Sprintf("doc%d", i)
		payloads := make([]string, 12)
		for j := range payloads {
			payloads[j] = fmt.Sprintf("%s/page-%d", name, j)
		}
		docs[i] = Document[string]{Shared: name, Payloads: payloads}
	}

	results := p.ExecuteMany(testutils.TestContext(t, 20*time.Second), docs, 3)
	require.Len(t, results, len(docs))

	ids := make(map[int64]bool)
	for i, result := range results {
		require.NotNil(t, result)
		assert.Equal(t, types.StatusSuccess, result.Status, "doc %d", i)
		assert.Equal(t, docs[i].Shared, result.Run.Shared)
		require.Len(t, result.Succeeded, 12)
		for j, page := range result.Succeeded {
			assert.Equal(t, fmt.Sprintf("doc%d/page-%d|pre|ocr|asm", i, j), page)
		}
		ids[result.Run.ID] = true
	}
	assert.Len(t, ids, len(docs), "run ids are unique")
	assert.Equal(t, 6*12, rec.Items())
}

func TestNewStandard(t *testing.T) {
	models := StandardModels[string]{
		OCR:      testutils.Suffix("ocr"),
		Layout:   testutils.Suffix("layout"),
		Assemble: testutils.Suffix("assemble"),
	}
	p, err := NewStandard(models, testConfig(), WithLogger[string](testutils.DiscardLogger()))
	require.NoError(t, err)

	assert.Equal(t, []string{StagePreprocess, StageOCR, StageLayout, StageTable, StageAssemble}, p.StageNames())
	assert.Equal(t, 4, p.specs[1].BatchSize)
	assert.Equal(t, 1, p.specs[4].BatchSize)

	result := p.Execute(testutils.TestContext(t, 10*time.Second), nil, testutils.Pages(9))
	require.Equal(t, types.StatusSuccess, result.Status)
	assert.Equal(t, "page-8|ocr|layout|assemble", result.Succeeded[8])
}
