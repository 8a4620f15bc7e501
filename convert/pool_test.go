package convert_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udfkit/udf2parquet/convert"
)

func TestWorkerPoolRunsSubmittedTasks(t *testing.T) {
	t.Parallel()

	pool := convert.NewWorkerPool(4)
	defer pool.Shutdown()

	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		pool.Submit(func() {
			ran.Add(1)
			wg.Done()
		})
	}
	wg.Wait()
	assert.EqualValues(t, 50, ran.Load())
}

func TestConvertMany(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, data, 0o644))
		return p
	}
	jobs := []convert.Job{
		{Input: write("one.udf", sensorContainer(false)), Output: filepath.Join(dir, "one.parquet")},
		{Input: write("broken.udf", []byte("not a container")), Output: filepath.Join(dir, "broken.parquet")},
		{Input: write("two.udf", scaledContainer()), Output: filepath.Join(dir, "two.parquet")},
	}

	results := convert.ConvertMany(context.Background(), jobs, 2, convert.Options{})
	require.Len(t, results, 3)

	assert.Equal(t, jobs[0], results[0].Job)
	require.NoError(t, results[0].Err)
	assert.EqualValues(t, 5, results[0].Result.Rows)

	require.Error(t, results[1].Err)
	var cerr *convert.ConversionError
	require.ErrorAs(t, results[1].Err, &cerr)
	assert.Equal(t, convert.KindFormat, cerr.Kind)
	assert.Nil(t, results[1].Result)
	_, statErr := os.Stat(jobs[1].Output)
	assert.True(t, os.IsNotExist(statErr))

	require.NoError(t, results[2].Err)
	assert.EqualValues(t, 3, results[2].Result.Rows)

	for _, i := range []int{0, 2} {
		_, err := os.Stat(jobs[i].Output)
		assert.NoError(t, err)
	}
}

func TestConvertManyEmpty(t *testing.T) {
	t.Parallel()

	results := convert.ConvertMany(context.Background(), nil, 3, convert.Options{})
	assert.Empty(t, results)
}
