// Package harness runs lowered cell source inside a shared JavaScript
// runtime, injecting prior bindings and harvesting new ones.
//
// One Runtime corresponds to one notebook page: values produced by a cell
// stay valid for later cells only within the same Runtime. A Runtime runs one
// evaluation at a time; callers serialize access.
package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/leapstack-labs/nodebook/internal/rewrite"
	"github.com/leapstack-labs/nodebook/internal/store"
)

// Formal parameter names reserved by the wrapper function.
const (
	storeParam  = "__nodebook_store__"
	logParam    = "__nodebook_log__"
	failedParam = "__nodebook_failed__"
)

var reservedParams = map[string]bool{
	storeParam:          true,
	logParam:            true,
	failedParam:         true,
	rewrite.LoaderIdent: true,
	"exports":           true,
	"module":            true,
}

// ConstructionError reports that the wrapper around cell source could not be
// built. It is fatal for the run.
type ConstructionError struct {
	Err error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("failed to construct cell function: %v", e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// Config configures a Runtime.
type Config struct {
	// Fetcher loads module source; defaults to HTTPFetcher.
	Fetcher Fetcher
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// Runtime owns the JavaScript runtime and event loop shared by the cells of
// one notebook.
type Runtime struct {
	loop    *eventloop.EventLoop
	modules *modules
	logger  *slog.Logger
}

// New creates a Runtime with its own event loop.
func New(cfg Config) *Runtime {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runtime{
		loop:    eventloop.NewEventLoop(),
		modules: newModules(cfg.Fetcher, logger),
		logger:  logger,
	}
}

// Request describes one evaluation.
type Request struct {
	// Source is the rewritten lowered source.
	Source string
	// Exports are the names to copy into the new store on success.
	Exports []string
	// Previous holds the bindings from earlier cells.
	Previous *store.Store
	// Sink receives console output; a fresh sink is used when nil.
	Sink *Sink
	// Registry resolves bare names required by loaded modules.
	Registry rewrite.Registry
}

// Result is the outcome of one evaluation.
type Result struct {
	Store    *store.Store
	Duration time.Duration
	Output   string
	// Failed is true when the cell threw or never settled.
	Failed bool
	// Settled is false when the cell was still awaiting when the event loop
	// ran out of work.
	Settled bool
}

// Evaluate runs req.Source. Exceptions raised by the cell are captured into
// the output and leave the new store empty; only failures to build the
// wrapper are returned as errors.
func (r *Runtime) Evaluate(ctx context.Context, req Request) (*Result, error) {
	sink := req.Sink
	if sink == nil {
		sink = NewSink()
	}

	var (
		promise  *goja.Promise
		storeObj *goja.Object
		failed   *goja.Object
		buildErr error
		start    time.Time
	)

	r.loop.Run(func(vm *goja.Runtime) {
		fn, params, err := r.construct(vm, req)
		if err != nil {
			buildErr = err
			return
		}

		storeObj = vm.NewObject()
		failed = vm.NewObject()
		args := []goja.Value{
			storeObj,
			vm.NewObject(),
			vm.NewObject(),
			vm.ToValue(func(call goja.FunctionCall) goja.Value {
				sink.Append(call.Arguments...)
				return goja.Undefined()
			}),
			vm.ToValue(r.modules.importFunc(ctx, vm, req.Registry)),
			failed,
		}
		for _, name := range params {
			v, _ := req.Previous.Get(name)
			if v == nil {
				v = goja.Undefined()
			}
			args = append(args, v)
		}

		start = time.Now()
		ret, err := fn(goja.Undefined(), args...)
		if err != nil {
			sink.Append(vm.ToValue(err.Error()))
			return
		}
		promise, _ = ret.Export().(*goja.Promise)
	})
	elapsed := time.Since(start)

	if buildErr != nil {
		sink.Drain()
		return nil, buildErr
	}

	res := &Result{Store: store.New(), Duration: elapsed}
	r.loop.Run(func(vm *goja.Runtime) {
		ok := false
		switch {
		case promise == nil:
		case promise.State() == goja.PromiseStateFulfilled:
			res.Settled = true
			ok = !promise.Result().StrictEquals(failed)
		case promise.State() == goja.PromiseStateRejected:
			res.Settled = true
			sink.Append(promise.Result())
		default:
			sink.Append(vm.ToValue("cell did not settle: it is still waiting on a promise that nothing will resolve"))
		}

		if ok {
			// A cell that returns early skips every export assignment.
			for _, name := range req.Exports {
				if v := storeObj.Get(name); v != nil {
					res.Store.Set(name, v)
				}
			}
		}
		res.Failed = !ok
		res.Output = Format(vm, sink.Drain())
	})

	r.logger.Debug("cell evaluated",
		"duration_ms", res.Duration.Milliseconds(),
		"exports", res.Store.Len(),
		"failed", res.Failed,
	)
	return res, nil
}

// construct compiles the async wrapper around the cell source. It returns the
// callable and the previous-store names bound as parameters, in order.
func (r *Runtime) construct(vm *goja.Runtime, req Request) (goja.Callable, []string, error) {
	params := make([]string, 0, req.Previous.Len())
	for _, name := range req.Previous.Names() {
		if reservedParams[name] {
			r.logger.Debug("skipping previous binding with reserved name", "name", name)
			continue
		}
		params = append(params, name)
	}

	src := wrapperSource(req.Source, req.Exports, params)
	v, err := vm.RunScript("cell.js", src)
	if err != nil {
		return nil, nil, &ConstructionError{Err: err}
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, nil, &ConstructionError{Err: fmt.Errorf("wrapper is not callable")}
	}
	return fn, params, nil
}

// wrapperSource builds the async function that runs a cell. console is
// shadowed in an inner block so that a previous binding named console does
// not collide with it. On success each export is copied onto the store
// object; on failure the error goes to the log and the failure marker is
// returned.
func wrapperSource(source string, exports, params []string) string {
	var b strings.Builder
	b.WriteString("(async function (")
	b.WriteString(strings.Join(append([]string{storeParam, "exports", "module", logParam, rewrite.LoaderIdent, failedParam}, params...), ", "))
	b.WriteString(") {\n{\n")
	b.WriteString("const console = new Proxy({}, { get: () => (...args) => { " + logParam + "(...args); } });\n")
	b.WriteString("try {\n")
	b.WriteString(source)
	b.WriteString("\n;\n")
	for _, name := range exports {
		key, _ := json.Marshal(name)
		fmt.Fprintf(&b, "%s[%s] = %s;\n", storeParam, key, name)
	}
	b.WriteString("} catch (__nodebook_error__) {\nconsole.error(__nodebook_error__);\nreturn " + failedParam + ";\n}\n}\nreturn true;\n})")
	return b.String()
}
