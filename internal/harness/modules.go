package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/dop251/goja"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/leapstack-labs/nodebook/internal/rewrite"
)

// Fetcher retrieves module source text by URL.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// HTTPFetcher fetches http(s) URLs with an HTTP client and file URLs from
// disk.
type HTTPFetcher struct {
	Client *http.Client
}

// Fetch implements Fetcher.
func (f HTTPFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid module url %q: %w", ref, err)
	}
	switch u.Scheme {
	case "file":
		return os.ReadFile(u.Path)
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported module url scheme %q", u.Scheme)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", ref, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: %s", ref, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// namespaceJS builds what a dynamic import would yield from a CommonJS
// exports value: enumerable own properties, plus a default export for
// modules that were not converted from ES module syntax.
const namespaceJS = `(function (m) {
  if (m === null || (typeof m !== "object" && typeof m !== "function")) return { default: m };
  const ns = {};
  for (const k of Object.keys(m)) ns[k] = m[k];
  if (!Object.getOwnPropertyDescriptor(m, "__esModule") && !("default" in ns)) ns.default = m;
  return ns;
})`

const moduleWrapperHead = "(function (exports, require, module, __filename, __dirname) {\n"

// modules loads and caches modules inside one runtime. Cached exports are
// runtime values and must never cross runtimes.
type modules struct {
	fetcher   Fetcher
	logger    *slog.Logger
	cache     map[string]*goja.Object
	namespace goja.Callable
}

func newModules(fetcher Fetcher, logger *slog.Logger) *modules {
	if fetcher == nil {
		fetcher = HTTPFetcher{}
	}
	return &modules{
		fetcher: fetcher,
		logger:  logger,
		cache:   make(map[string]*goja.Object),
	}
}

// importFunc returns the loader handed to cell code. Each call yields a
// promise of the module namespace.
func (m *modules) importFunc(ctx context.Context, vm *goja.Runtime, reg rewrite.Registry) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		promise, resolve, reject := vm.NewPromise()
		spec := call.Argument(0).String()

		exports, err := m.require(ctx, vm, spec, "", reg)
		if err != nil {
			reject(vm.NewGoError(err))
			return vm.ToValue(promise)
		}
		ns, err := m.toNamespace(vm, exports)
		if err != nil {
			reject(vm.NewGoError(err))
			return vm.ToValue(promise)
		}
		resolve(ns)
		return vm.ToValue(promise)
	}
}

func (m *modules) toNamespace(vm *goja.Runtime, exports goja.Value) (goja.Value, error) {
	if m.namespace == nil {
		v, err := vm.RunScript("nodebook:namespace", namespaceJS)
		if err != nil {
			return nil, err
		}
		fn, ok := goja.AssertFunction(v)
		if !ok {
			return nil, fmt.Errorf("namespace helper is not callable")
		}
		m.namespace = fn
	}
	return m.namespace(goja.Undefined(), exports)
}

// require loads spec relative to parent and returns its exports value.
func (m *modules) require(ctx context.Context, vm *goja.Runtime, spec, parent string, reg rewrite.Registry) (goja.Value, error) {
	ref, err := resolveSpecifier(spec, parent, reg)
	if err != nil {
		return nil, err
	}
	if mod, ok := m.cache[ref]; ok {
		return mod.Get("exports"), nil
	}

	m.logger.Debug("loading module", "url", ref, "parent", parent)
	src, err := m.fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	result := api.Transform(string(src), api.TransformOptions{
		Loader:     loaderFor(ref),
		Format:     api.FormatCommonJS,
		Target:     api.ES2022,
		Sourcefile: ref,
	})
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("failed to convert module %s: %s", ref, result.Errors[0].Text)
	}

	wrapped, err := vm.RunScript(ref, moduleWrapperHead+string(result.Code)+"\n})")
	if err != nil {
		return nil, fmt.Errorf("failed to compile module %s: %w", ref, err)
	}
	fn, ok := goja.AssertFunction(wrapped)
	if !ok {
		return nil, fmt.Errorf("module wrapper for %s is not callable", ref)
	}

	mod := vm.NewObject()
	exports := vm.NewObject()
	if err := mod.Set("exports", exports); err != nil {
		return nil, err
	}
	// Cached before execution so cyclic requires see partial exports.
	m.cache[ref] = mod

	requireFn := func(call goja.FunctionCall) goja.Value {
		v, err := m.require(ctx, vm, call.Argument(0).String(), ref, reg)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return v
	}

	if _, err := fn(exports, exports, vm.ToValue(requireFn), mod, vm.ToValue(ref), vm.ToValue(path.Dir(ref))); err != nil {
		delete(m.cache, ref)
		return nil, fmt.Errorf("module %s failed: %w", ref, err)
	}
	return mod.Get("exports"), nil
}

// resolveSpecifier turns an import specifier into an absolute module URL.
func resolveSpecifier(spec, parent string, reg rewrite.Registry) (string, error) {
	if spec == "" {
		return "", fmt.Errorf("empty module specifier")
	}
	if u, err := url.Parse(spec); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		return spec, nil
	}
	if strings.HasPrefix(spec, "/") || strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") {
		if parent == "" {
			return "", fmt.Errorf("cannot resolve relative module %q outside a module", spec)
		}
		base, err := url.Parse(parent)
		if err != nil {
			return "", fmt.Errorf("invalid parent module url %q: %w", parent, err)
		}
		rel, err := url.Parse(spec)
		if err != nil {
			return "", fmt.Errorf("invalid module specifier %q: %w", spec, err)
		}
		return base.ResolveReference(rel).String(), nil
	}
	if ref := rewrite.Resolve(reg, spec); ref != spec {
		return ref, nil
	}
	return "", fmt.Errorf("cannot resolve module %q: no package registered under that name", spec)
}

func loaderFor(ref string) api.Loader {
	p := ref
	if u, err := url.Parse(ref); err == nil {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".ts", ".mts", ".cts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".jsx":
		return api.LoaderJSX
	case ".json":
		return api.LoaderJSON
	default:
		return api.LoaderJS
	}
}
