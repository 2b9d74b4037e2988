// Package sandbox hosts user-provided JS/TS step modules inside a sealed
// goja runtime: no disk, network, environment, or host-clock access beyond
// the Message/Context bindings passed in, a wall-clock budget per call, and
// a per-script heap ceiling. Exceeding either bound surfaces as a
// ScriptError rather than crashing the mapper.
package sandbox

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/thin-edge/tedge-mapper-core/internal/logging"
)

// ScriptError reports a sandboxed script failure: a thrown JS error, a
// budget violation, or a load failure. Error sinks carry it verbatim.
type ScriptError struct {
	ScriptPath string
	FlowName   string
	Topic      string
	Payload    []byte
	Cause      string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("sandbox: %s (flow=%s topic=%s): %s", e.ScriptPath, e.FlowName, e.Topic, e.Cause)
}

// Limits bounds a single script's resource consumption.
type Limits struct {
	WallClock time.Duration
	HeapBytes int
}

// program is a compiled script and the metadata needed to detect staleness.
type program struct {
	source  *goja.Program
	modTime time.Time
	hasOn   struct {
		message  bool
		interval bool
	}
}

// cacheKey identifies one compiled program by path and the modification
// time observed when it was compiled; a changed mtime is a cache miss.
type cacheKey struct {
	path    string
	modTime int64
}

// Runtime loads, caches, and invokes script step modules under the
// configured resource limits.
type Runtime struct {
	limits Limits
	log    *logging.Scoped
	cache  *lru.Cache[cacheKey, *program]
}

// New creates a Runtime with a program cache capacity of cacheSize.
func New(limits Limits, cacheSize int, log *logging.Scoped) (*Runtime, error) {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	cache, err := lru.New[cacheKey, *program](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("sandbox: create program cache: %w", err)
	}
	if log == nil {
		log = logging.NewScoped(nil, nil)
	}
	return &Runtime{limits: limits, log: log.With("component", "sandbox"), cache: cache}, nil
}

// load compiles path (or returns it from cache if its mtime is unchanged),
// type-stripping a .ts suffix with a minimal tokenizer before compilation.
func (r *Runtime) load(path string) (*program, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("sandbox: stat %s: %w", path, err)
	}

	key := cacheKey{path: path, modTime: info.ModTime().UnixNano()}
	if p, ok := r.cache.Get(key); ok {
		return p, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sandbox: read %s: %w", path, err)
	}

	source := string(raw)
	if strings.HasSuffix(path, ".ts") {
		source = stripTypes(source)
	}

	compiled, err := goja.Compile(path, source, false)
	if err != nil {
		return nil, fmt.Errorf("sandbox: compile %s: %w", path, err)
	}

	p := &program{source: compiled, modTime: info.ModTime()}
	p.hasOn.message = strings.Contains(source, "onMessage")
	p.hasOn.interval = strings.Contains(source, "onInterval")

	r.cache.Add(key, p)
	return p, nil
}

// newVM builds a fresh sealed goja runtime: console/TextEncoder/TextDecoder
// are installed, Date sees a fixed clock at the Unix epoch instead of the
// host clock, and the heap ceiling is enforced via SetMemoryLimit.
func (r *Runtime) newVM(scriptPath, flowName string) *goja.Runtime {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	vm.SetTimeSource(func() time.Time { return time.Unix(0, 0) })
	if r.limits.HeapBytes > 0 {
		vm.SetMemoryLimit(uint64(r.limits.HeapBytes))
	}
	installConsole(vm, r.log.With("script", scriptPath).With("flow", flowName))
	installTextCodec(vm)
	return vm
}

// run executes fn (the compiled program plus a call into entryPoint) under
// the configured wall-clock budget, converting panics/interrupts/thrown
// errors into a *ScriptError.
func (r *Runtime) run(scriptPath, flowName, topic string, payload []byte, fn func(vm *goja.Runtime) (goja.Value, error)) (val goja.Value, err error) {
	vm := r.newVM(scriptPath, flowName)
	defer func() {
		if p := recover(); p != nil {
			val, err = nil, &ScriptError{ScriptPath: scriptPath, FlowName: flowName, Topic: topic, Payload: payload, Cause: fmt.Sprint(p)}
		}
	}()

	var timer *time.Timer
	if r.limits.WallClock > 0 {
		timer = time.AfterFunc(r.limits.WallClock, func() {
			vm.Interrupt("script exceeded wall-clock budget")
		})
		defer timer.Stop()
	}

	val, err = fn(vm)
	if err != nil {
		cause := err.Error()
		if ie, ok := err.(*goja.InterruptedError); ok {
			cause = fmt.Sprint(ie.Value())
		}
		return nil, &ScriptError{ScriptPath: scriptPath, FlowName: flowName, Topic: topic, Payload: payload, Cause: cause}
	}
	return val, nil
}

// Call compiles (or reuses) the script at path, binds msg/ctx, and invokes
// the named entry point ("onMessage" or "onInterval") if it exists. A
// missing entry point is not an error — it simply produces no messages.
func (r *Runtime) Call(path, entryPoint, flowName string, bind func(vm *goja.Runtime) []goja.Value) ([]goja.Value, error) {
	prog, err := r.load(path)
	if err != nil {
		return nil, &ScriptError{ScriptPath: path, FlowName: flowName, Cause: err.Error()}
	}

	hasEntry := (entryPoint == "onMessage" && prog.hasOn.message) || (entryPoint == "onInterval" && prog.hasOn.interval)
	if !hasEntry {
		return nil, nil
	}

	var result []goja.Value
	_, err = r.run(path, flowName, "", nil, func(vm *goja.Runtime) (goja.Value, error) {
		if _, err := vm.RunProgram(prog.source); err != nil {
			return nil, err
		}
		fnVal := vm.Get(entryPoint)
		if fnVal == nil || goja.IsUndefined(fnVal) {
			return nil, nil
		}
		fn, ok := goja.AssertFunction(fnVal)
		if !ok {
			return nil, fmt.Errorf("%s is not callable", entryPoint)
		}
		args := bind(vm)
		ret, err := fn(goja.Undefined(), args...)
		if err != nil {
			return nil, err
		}
		result = flattenReturn(vm, ret)
		return ret, nil
	})
	return result, err
}

// flattenReturn normalizes a script's return value (null, a single object,
// or an array of objects) into a slice of goja.Value for the caller to
// decode into Messages.
func flattenReturn(vm *goja.Runtime, ret goja.Value) []goja.Value {
	if ret == nil || goja.IsUndefined(ret) || goja.IsNull(ret) {
		return nil
	}
	if arr, ok := ret.Export().([]interface{}); ok {
		out := make([]goja.Value, 0, len(arr))
		for _, v := range arr {
			out = append(out, vm.ToValue(v))
		}
		return out
	}
	return []goja.Value{ret}
}
