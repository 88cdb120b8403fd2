package plugins

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

func taskPlugin(name string, fn pkg.Func) *PluginInstance {
	return &PluginInstance{Plugin: fn, config: desc(name, 0, pkg.ModeEnforce)}
}

func TestTask_Success(t *testing.T) {
	t.Parallel()

	pi := taskPlugin("ok", func(context.Context, string, any, *pkg.PluginContext) (*pkg.Result, error) {
		return pkg.Modify("changed"), nil
	})

	tk := startTask(context.Background(), pi, testHook, "in", pkg.NewPluginContext("ok", gctx()), time.Second)
	res, err := tk.Wait()

	require.NoError(t, err)
	assert.Equal(t, "changed", res.ModifiedPayload)
	assert.Positive(t, tk.elapsed)
}

func TestTask_ErrorIsAttributed(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	pi := taskPlugin("broken", func(context.Context, string, any, *pkg.PluginContext) (*pkg.Result, error) {
		return pkg.Continue(), boom
	})

	res, err := startTask(context.Background(), pi, testHook, nil, nil, time.Second).Wait()

	assert.Nil(t, res)
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, ErrPluginExecution)

	var pe *PluginError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "broken", pe.Plugin)
	assert.Equal(t, testHook, pe.Hook)
	assert.False(t, pe.Timeout())
}

func TestTask_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	pi := taskPlugin("stuck", func(context.Context, string, any, *pkg.PluginContext) (*pkg.Result, error) {
		<-release
		return pkg.Continue(), nil
	})

	start := time.Now()
	_, err := startTask(context.Background(), pi, testHook, nil, nil, 20*time.Millisecond).Wait()

	require.ErrorIs(t, err, ErrPluginTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestTask_LateResultIsATimeout(t *testing.T) {
	t.Parallel()

	pi := taskPlugin("late", func(ctx context.Context, _ string, _ any, _ *pkg.PluginContext) (*pkg.Result, error) {
		<-ctx.Done()
		return pkg.Continue(), nil
	})

	res, err := startTask(context.Background(), pi, testHook, nil, nil, 10*time.Millisecond).Wait()

	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrPluginTimeout)
}

func TestTask_Cancel(t *testing.T) {
	t.Parallel()

	pi := taskPlugin("cancelled", func(ctx context.Context, _ string, _ any, _ *pkg.PluginContext) (*pkg.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	tk := startTask(context.Background(), pi, testHook, nil, nil, time.Minute)
	tk.Cancel()
	tk.Cancel()

	select {
	case <-tk.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not finish after Cancel")
	}

	_, err := tk.Wait()
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, ErrPluginExecution)
}

func TestTask_Panic(t *testing.T) {
	t.Parallel()

	pi := taskPlugin("panics", func(context.Context, string, any, *pkg.PluginContext) (*pkg.Result, error) {
		panic("kaboom")
	})

	_, err := startTask(context.Background(), pi, testHook, nil, nil, time.Second).Wait()
	require.ErrorIs(t, err, ErrPluginExecution)
	assert.ErrorContains(t, err, "kaboom")
}
