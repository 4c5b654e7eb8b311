package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jzx17/pagepipeline/internal/testutils"
	"github.com/jzx17/pagepipeline/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRun = types.RunInfo{ID: 7, Label: "test"}

func TestPassthrough(t *testing.T) {
	out, err := Passthrough[string]().Transform(context.Background(), testRun, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out)
}

func TestMap(t *testing.T) {
	upper := Map(strings.ToUpper)

	out, err := upper.Transform(context.Background(), testRun, []string{"hello", "world"})
	require.NoError(t, err)
	assert.Equal(t, []string{"HELLO", "WORLD"}, out)
}

func TestTryMap(t *testing.T) {
	boom := errors.New("unreadable page")
	proc := TryMap(func(ctx context.Context, run types.RunInfo, item string) (string, error) {
		if item == "bad" {
			return "", boom
		}
		return item + "!", nil
	})

	t.Run("success", func(t *testing.T) {
		out, err := proc.Transform(context.Background(), testRun, []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a!", "b!"}, out)
	})

	t.Run("first error fails the batch", func(t *testing.T) {
		out, err := proc.Transform(context.Background(), testRun, []string{"a", "bad", "c"})
		assert.ErrorIs(t, err, boom)
		assert.Nil(t, out)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := proc.Transform(ctx, testRun, []string{"a"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestChain(t *testing.T) {
	t.Run("runs in order", func(t *testing.T) {
		chain := Chain(testutils.Suffix("ocr"), testutils.Suffix("layout"))
		out, err := chain.Transform(context.Background(), testRun, []string{"p0", "p1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"p0|ocr|layout", "p1|ocr|layout"}, out)
	})

	t.Run("stops on error", func(t *testing.T) {
		boom := errors.New("boom")
		rec := testutils.NewRecorder[string](nil)
		failing := types.ProcessorFunc[string](func(ctx context.Context, run types.RunInfo, items []string) ([]string, error) {
			return nil, boom
		})

		_, err := Chain(failing, rec).Transform(context.Background(), testRun, []string{"p0"})
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, rec.Batches())
	})

	t.Run("length mismatch", func(t *testing.T) {
		dropping := types.ProcessorFunc[string](func(ctx context.Context, run types.RunInfo, items []string) ([]string, error) {
			return items[:1], nil
		})
		_, err := Chain(dropping).Transform(context.Background(), testRun, []string{"p0", "p1"})
		assert.ErrorIs(t, err, types.ErrContractViolation)
	})

	t.Run("empty chain", func(t *testing.T) {
		out, err := Chain[string]().Transform(context.Background(), testRun, []string{"p0"})
		require.NoError(t, err)
		assert.Equal(t, []string{"p0"}, out)
	})
}

func TestHandleErrors(t *testing.T) {
	boom := errors.New("table model unavailable")
	failing := types.ProcessorFunc[string](func(ctx context.Context, run types.RunInfo, items []string) ([]string, error) {
		return nil, boom
	})

	t.Run("suppressed error passes input through", func(t *testing.T) {
		var seen error
		proc := HandleErrors(failing, func(run types.RunInfo, err error) error {
			seen = err
			return nil
		})

		out, err := proc.Transform(context.Background(), testRun, []string{"p0"})
		require.NoError(t, err)
		assert.Equal(t, []string{"p0"}, out)
		assert.Same(t, boom, seen)
	})

	t.Run("replaced error", func(t *testing.T) {
		wrapped := errors.New("wrapped")
		proc := HandleErrors(failing, func(run types.RunInfo, err error) error { return wrapped })

		_, err := proc.Transform(context.Background(), testRun, []string{"p0"})
		assert.Same(t, wrapped, err)
	})
}

func TestTap(t *testing.T) {
	var observed []string
	proc := Tap(testutils.Suffix("ocr"), func(run types.RunInfo, items []string) {
		assert.Equal(t, testRun, run)
		observed = append(observed, items...)
	})

	_, err := proc.Transform(context.Background(), testRun, []string{"p0"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p0|ocr"}, observed)
}
