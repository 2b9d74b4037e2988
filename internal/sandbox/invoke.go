package sandbox

import (
	"time"

	"github.com/dop251/goja"

	"github.com/thin-edge/tedge-mapper-core/internal/contextstore"
	"github.com/thin-edge/tedge-mapper-core/pkg/message"
)

// jsMessage is the shape a script sees for Message and must return.
type jsMessage struct {
	Topic    string            `json:"topic"`
	Payload  string            `json:"payload"` // UTF-8 view; binary payloads round-trip via TextEncoder/Decoder
	QoS      byte              `json:"qos"`
	Retained bool              `json:"retained"`
	Headers  map[string]string `json:"headers"`
}

func toJSMessage(m message.Message) *jsMessage {
	return &jsMessage{Topic: m.Topic, Payload: string(m.Payload), QoS: m.QoS, Retained: m.Retained, Headers: m.Headers}
}

func fromJSValue(v goja.Value, fallback message.Message) message.Message {
	exported := v.Export()
	if jm, ok := exported.(*jsMessage); ok {
		out := fallback
		out.Topic = jm.Topic
		out.Payload = []byte(jm.Payload)
		out.Headers = jm.Headers
		return out
	}
	obj, ok := exported.(map[string]interface{})
	if !ok {
		return fallback
	}
	out := fallback
	if t, ok := obj["topic"].(string); ok {
		out.Topic = t
	}
	if p, ok := obj["payload"].(string); ok {
		out.Payload = []byte(p)
	}
	if h, ok := obj["headers"].(map[string]interface{}); ok {
		headers := make(map[string]string, len(h))
		for k, val := range h {
			if s, ok := val.(string); ok {
				headers[k] = s
			}
		}
		out.Headers = headers
	}
	return out
}

// contextBinding exposes a contextstore.KV to a script as an object with
// keys/get/set/remove methods, one per scope (mapper/flow/script).
func contextBinding(vm *goja.Runtime, kv contextstore.KV) *goja.Object {
	obj := vm.NewObject()
	obj.Set("keys", func(goja.FunctionCall) goja.Value { return vm.ToValue(kv.Keys()) })
	obj.Set("get", func(call goja.FunctionCall) goja.Value {
		v, ok := kv.Get(call.Argument(0).String())
		if !ok {
			return goja.Null()
		}
		return vm.ToValue(v)
	})
	obj.Set("set", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		if goja.IsUndefined(call.Argument(1)) || goja.IsNull(call.Argument(1)) {
			kv.Delete(key)
		} else {
			kv.Set(key, call.Argument(1).Export())
		}
		return goja.Undefined()
	})
	obj.Set("remove", func(call goja.FunctionCall) goja.Value {
		kv.Delete(call.Argument(0).String())
		return goja.Undefined()
	})
	return obj
}

// contextObject builds the Context value handed to onMessage/onInterval:
// mapper/flow/script KV bindings plus the immutable step config.
func contextObject(vm *goja.Runtime, mapper, flow, script contextstore.KV, cfg map[string]interface{}) *goja.Object {
	obj := vm.NewObject()
	obj.Set("mapper", contextBinding(vm, mapper))
	obj.Set("flow", contextBinding(vm, flow))
	obj.Set("script", contextBinding(vm, script))
	obj.Set("config", vm.ToValue(cfg))
	return obj
}

// InvokeMessage runs a script step's onMessage(message, context) entry
// point and returns zero or more resulting messages.
func (r *Runtime) InvokeMessage(path, flowName string, in message.Message, mapper, flow, script contextstore.KV, cfg map[string]interface{}) ([]message.Message, error) {
	values, err := r.Call(path, "onMessage", flowName, func(vm *goja.Runtime) []goja.Value {
		return []goja.Value{
			vm.ToValue(toJSMessage(in)),
			contextObject(vm, mapper, flow, script, cfg),
		}
	})
	if err != nil {
		if se, ok := err.(*ScriptError); ok {
			se.Topic = in.Topic
			se.Payload = in.Payload
		}
		return nil, err
	}
	return decodeMessages(values, in), nil
}

// InvokeInterval runs a script step's onInterval(time, context) entry
// point, used by steps that declare a tick `interval`.
func (r *Runtime) InvokeInterval(path, flowName string, at time.Time, mapper, flow, script contextstore.KV, cfg map[string]interface{}) ([]message.Message, error) {
	values, err := r.Call(path, "onInterval", flowName, func(vm *goja.Runtime) []goja.Value {
		return []goja.Value{
			vm.ToValue(at.UnixMilli()),
			contextObject(vm, mapper, flow, script, cfg),
		}
	})
	if err != nil {
		return nil, err
	}
	return decodeMessages(values, message.Message{Timestamp: at}), nil
}

func decodeMessages(values []goja.Value, fallback message.Message) []message.Message {
	out := make([]message.Message, 0, len(values))
	for _, v := range values {
		m := fromJSValue(v, fallback)
		if m.Timestamp.IsZero() {
			m.Timestamp = time.Now()
		}
		out = append(out, m)
	}
	return out
}
