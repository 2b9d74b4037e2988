// Package steps implements the builtin Step Registry: the enumerated
// functions flows may name directly in their TOML, plus the adapter that
// lets a sandboxed script module satisfy the same Builtin contract so the
// flow engine never special-cases builtin vs. script steps.
package steps

import (
	"sync"
	"time"

	"github.com/thin-edge/tedge-mapper-core/internal/contextstore"
	"github.com/thin-edge/tedge-mapper-core/pkg/message"
)

// Context bundles everything a step invocation may touch besides the
// message itself: the three KV scopes and its own immutable config.
type Context struct {
	Mapper contextstore.KV
	Flow   contextstore.KV
	Script contextstore.KV
	Config map[string]interface{}
}

// Builtin is the uniform callable contract every step — builtin or
// script-backed — satisfies. Either method may be a no-op; OnMessage is
// used for the per-message path, OnInterval for the periodic-tick path.
type Builtin interface {
	OnMessage(msg message.Message, ctx Context) ([]message.Message, error)
	OnInterval(at time.Time, ctx Context) ([]message.Message, error)
}

// BuiltinFunc adapts a plain onMessage function to Builtin for steps with
// no interval behavior (every builtin in the registry below).
type BuiltinFunc func(msg message.Message, ctx Context) ([]message.Message, error)

func (f BuiltinFunc) OnMessage(msg message.Message, ctx Context) ([]message.Message, error) {
	return f(msg, ctx)
}

func (f BuiltinFunc) OnInterval(time.Time, Context) ([]message.Message, error) { return nil, nil }

// Registry dispatches a flow's declared step name to its implementation.
// Resolution is by declared name rather than runtime probing, since flow
// TOML always names the builtin it wants explicitly.
type Registry struct {
	mu       sync.RWMutex
	builtins map[string]Builtin
}

// NewRegistry returns a Registry pre-populated with all nine spec builtins.
func NewRegistry() *Registry {
	r := &Registry{builtins: make(map[string]Builtin)}
	r.Register("add-timestamp", BuiltinFunc(AddTimestamp))
	r.Register("ignore-topics", BuiltinFunc(IgnoreTopics))
	r.Register("limit-payload-size", BuiltinFunc(LimitPayloadSize))
	r.Register("set-topic", BuiltinFunc(SetTopic))
	r.Register("update-context", BuiltinFunc(UpdateContext))
	r.Register("cache-early-messages", BuiltinFunc(CacheEarlyMessages))
	r.Register("skip-mosquitto-health-status", BuiltinFunc(SkipMosquittoHealthStatus))
	r.Register("into_c8y_measurements", BuiltinFunc(IntoC8yMeasurements))
	r.Register("set-aws-topic", BuiltinFunc(SetAWSTopic))
	return r
}

// Register adds or replaces the builtin registered under name.
func (r *Registry) Register(name string, b Builtin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builtins[name] = b
}

// Resolve looks up a builtin by name.
func (r *Registry) Resolve(name string) (Builtin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.builtins[name]
	return b, ok
}
