package plugins

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/peteski22/plugin-hooks/internal/hooks"
	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

const (
	outcomeAccepted  = "accepted"
	outcomeViolation = "violation"
	outcomeError     = "error"
	outcomeTimeout   = "timeout"
)

// metadataViolationKey is where a permissive plugin's violation is recorded
// in the chain metadata, under the plugin's namespace.
const metadataViolationKey = "violation"

// defaultViolationCode is used when a plugin blocks without describing why.
const defaultViolationCode = "PLUGIN_VIOLATION"

const (
	// StatePending is a chain that has not started.
	StatePending ChainState = "pending"

	// StateRunning is a chain that is executing plugins.
	StateRunning ChainState = "running"

	// StateCompleted is a chain that ran to the end without being halted.
	StateCompleted ChainState = "completed"

	// StateBlocked is a chain halted by a violation.
	StateBlocked ChainState = "blocked"

	// StateFailed is a chain aborted by a plugin error under fail-on-plugin-error.
	StateFailed ChainState = "failed"
)

// ChainState is the lifecycle of one hook invocation.
type ChainState string

// ChainResult is the aggregated outcome of a hook invocation.
type ChainResult struct {
	HookType string
	State    ChainState

	// Result is the final outcome. ContinueProcessing is true only for completed chains.
	Result *pkg.Result

	// Contexts are the plugin contexts of every plugin that ran, in execution order.
	Contexts []*pkg.PluginContext

	// Err is the plugin error that aborted a failed chain.
	Err error
}

// ContextTable indexes Contexts by plugin name, for continuing a later chain.
func (r *ChainResult) ContextTable() pkg.ContextTable {
	table := make(pkg.ContextTable, len(r.Contexts))
	for _, c := range r.Contexts {
		table[c.PluginName()] = c
	}
	return table
}

// PayloadOr returns the chain's modified payload, or original when no plugin changed it.
func (r *ChainResult) PayloadOr(original any) any {
	if r.Result != nil && r.Result.ModifiedPayload != nil {
		return r.Result.ModifiedPayload
	}
	return original
}

// chain executes one hook invocation over an ordered plugin list.
type chain struct {
	hookType  hooks.HookType
	settings  Settings
	logger    hclog.Logger
	telemetry *telemetry
	global    pkg.GlobalContext
	continued pkg.ContextTable

	state     ChainState
	payload   any
	modified  bool
	violation *pkg.Violation
	err       error
	metadata  map[string]any
	contexts  []*pkg.PluginContext
}

func newChain(
	ht hooks.HookType,
	settings Settings,
	logger hclog.Logger,
	tel *telemetry,
	global pkg.GlobalContext,
	continued pkg.ContextTable,
	payload any,
) *chain {
	return &chain{
		hookType:  ht,
		settings:  settings,
		logger:    logger.With("hook", ht.Name, "request_id", global.RequestID),
		telemetry: tel,
		global:    global,
		continued: continued,
		state:     StatePending,
		payload:   payload,
		metadata:  make(map[string]any),
	}
}

// run executes the plugins band by band and returns the aggregated result.
func (c *chain) run(ctx context.Context, plugins []*PluginInstance) *ChainResult {
	c.state = StateRunning

	for _, band := range priorityBands(plugins) {
		if c.settings.ParallelExecutionWithinBand && len(band) > 1 {
			c.runConcurrent(ctx, band)
		} else {
			c.runSequential(ctx, band)
		}

		if c.state != StateRunning {
			break
		}
	}

	if c.state == StateRunning {
		c.state = StateCompleted
	}

	return c.result()
}

// priorityBands splits an ordered plugin list into maximal runs of equal priority.
func priorityBands(plugins []*PluginInstance) [][]*PluginInstance {
	var bands [][]*PluginInstance

	for i := 0; i < len(plugins); {
		j := i + 1
		for j < len(plugins) && plugins[j].Priority() == plugins[i].Priority() {
			j++
		}
		bands = append(bands, plugins[i:j])
		i = j
	}

	return bands
}

// runSequential invokes the band one plugin at a time, threading the payload.
func (c *chain) runSequential(ctx context.Context, band []*PluginInstance) {
	for _, pi := range band {
		pctx, ok := c.prepare(pi)
		if !ok {
			continue
		}

		t := c.launch(ctx, pi, c.payload, pctx)
		if halted := c.apply(ctx, t); halted {
			return
		}
	}
}

// runConcurrent invokes every eligible plugin of the band against the same
// payload snapshot, joins them all, then applies their outcomes in band order.
func (c *chain) runConcurrent(ctx context.Context, band []*PluginInstance) {
	snapshot := c.payload

	tasks := make([]*task, 0, len(band))
	for _, pi := range band {
		pctx, ok := c.prepare(pi)
		if !ok {
			continue
		}
		tasks = append(tasks, c.launch(ctx, pi, snapshot, pctx))
	}

	for _, t := range tasks {
		<-t.Done()
	}

	for i, t := range tasks {
		if halted := c.apply(ctx, t); halted {
			for _, rest := range tasks[i+1:] {
				rest.span.End()
			}
			return
		}
	}
}

// prepare evaluates the plugin's conditions and obtains its context.
// Skipped plugins get no context and no timing.
func (c *chain) prepare(pi *PluginInstance) (*pkg.PluginContext, bool) {
	if !pi.Eligible(c.global) {
		c.logger.Trace("skipping plugin, conditions not met", "plugin", pi.Name())
		return nil, false
	}

	pctx, ok := c.continued[pi.Name()]
	if !ok || pctx == nil || pctx.PluginName() != pi.Name() {
		pctx = pkg.NewPluginContext(pi.Name(), c.global)
	}
	c.contexts = append(c.contexts, pctx)

	return pctx, true
}

// launch starts the plugin under its deadline, inside its own span.
func (c *chain) launch(ctx context.Context, pi *PluginInstance, payload any, pctx *pkg.PluginContext) *task {
	ctx, span := c.telemetry.tracer.Start(ctx, "plugin "+pi.Name(), trace.WithAttributes(
		attribute.String("plugin.name", pi.Name()),
		attribute.String("plugin.mode", string(pi.Mode())),
		attribute.Int("plugin.priority", pi.Priority()),
	))

	t := startTask(ctx, pi, c.hookType.Name, payload, pctx, pi.Timeout(c.settings.PluginTimeout))
	t.span = span

	return t
}

// apply classifies a finished task and folds it into the chain.
// It returns true when the chain must halt.
func (c *chain) apply(ctx context.Context, t *task) bool {
	res, err := t.Wait()
	pi := t.plugin
	name := pi.Name()

	defer t.span.End()

	var replacement any
	if err == nil && res != nil && res.ContinueProcessing && res.ModifiedPayload != nil {
		validated, verr := c.hookType.Result.Validate(res.ModifiedPayload)
		if verr != nil {
			err = &PluginError{
				Plugin: name,
				Hook:   c.hookType.Name,
				Err:    fmt.Errorf("%w: invalid modified payload: %w", ErrPluginExecution, verr),
			}
		} else {
			replacement = validated
		}
	}

	if err != nil {
		t.span.RecordError(err)
		t.span.SetStatus(otelcodes.Error, err.Error())
		return c.applyError(ctx, t, err)
	}

	if res == nil {
		res = pkg.Continue()
	}

	c.mergeMetadata(name, res.Metadata)

	if res.ContinueProcessing {
		c.telemetry.recordPlugin(ctx, name, c.hookType.Name, outcomeAccepted, t.elapsed)
		if replacement != nil {
			c.payload = replacement
			c.modified = true
		}
		c.logger.Trace("plugin accepted", "plugin", name, "modified", replacement != nil, "elapsed", t.elapsed)
		return false
	}

	v := res.Violation.Clone()
	if v == nil {
		v = &pkg.Violation{Reason: "blocked by plugin", Code: defaultViolationCode}
	}
	v.PluginName = name

	c.telemetry.recordPlugin(ctx, name, c.hookType.Name, outcomeViolation, t.elapsed)
	t.span.SetAttributes(attribute.String("violation.code", v.Code))

	if pi.Mode().HaltsOnViolation() {
		c.logger.Info("plugin blocked chain", "plugin", name, "mode", pi.Mode(), "code", v.Code, "reason", v.Reason)
		c.state = StateBlocked
		c.violation = v
		return true
	}

	c.logger.Warn("plugin reported violation in permissive mode", "plugin", name, "code", v.Code, "reason", v.Reason)
	c.namespace(name)[metadataViolationKey] = v

	return false
}

// applyError handles an execution error or timeout according to the plugin's mode.
func (c *chain) applyError(ctx context.Context, t *task, err error) bool {
	pi := t.plugin

	outcome := outcomeError
	if errors.Is(err, ErrPluginTimeout) {
		outcome = outcomeTimeout
	}
	c.telemetry.recordPlugin(ctx, pi.Name(), c.hookType.Name, outcome, t.elapsed)

	if pi.Mode() == pkg.ModeEnforce && c.settings.FailOnPluginError {
		c.logger.Error("plugin failed, aborting chain", "plugin", pi.Name(), "outcome", outcome, "error", err)
		c.state = StateFailed
		c.err = err
		return true
	}

	c.logger.Warn("plugin failed, continuing", "plugin", pi.Name(), "mode", pi.Mode(), "outcome", outcome, "error", err)

	return false
}

func (c *chain) namespace(plugin string) map[string]any {
	ns, ok := c.metadata[plugin].(map[string]any)
	if !ok {
		ns = make(map[string]any)
		c.metadata[plugin] = ns
	}
	return ns
}

func (c *chain) mergeMetadata(plugin string, md map[string]any) {
	if len(md) == 0 {
		return
	}
	ns := c.namespace(plugin)
	for k, v := range md {
		ns[k] = v
	}
}

func (c *chain) result() *ChainResult {
	out := &pkg.Result{
		ContinueProcessing: c.state == StateCompleted,
		Violation:          c.violation,
		Metadata:           c.metadata,
	}
	if c.modified {
		out.ModifiedPayload = c.payload
	}

	return &ChainResult{
		HookType: c.hookType.Name,
		State:    c.state,
		Result:   out,
		Contexts: c.contexts,
		Err:      c.err,
	}
}
