package sandbox

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/dop251/goja"

	"github.com/thin-edge/tedge-mapper-core/internal/logging"
)

// installConsole exposes a console.log/warn/error routed to the mapper's
// structured logger instead of stdout, the only logging facility a script
// is given.
func installConsole(vm *goja.Runtime, log *logging.Scoped) {
	console := vm.NewObject()
	logFn := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, a := range call.Arguments {
				parts = append(parts, a.String())
			}
			msg := strings.Join(parts, " ")
			switch level {
			case "warn":
				log.Warn(msg)
			case "error":
				log.Error(msg)
			default:
				log.Info(msg)
			}
			return goja.Undefined()
		}
	}
	console.Set("log", logFn("log"))
	console.Set("info", logFn("log"))
	console.Set("warn", logFn("warn"))
	console.Set("error", logFn("error"))
	vm.Set("console", console)
}

// installTextCodec exposes a minimal UTF-8 TextEncoder/TextDecoder, the
// only byte<->string conversion facility available to scripts.
func installTextCodec(vm *goja.Runtime) {
	encoder := vm.NewObject()
	encoder.Set("encode", func(call goja.FunctionCall) goja.Value {
		s := call.Argument(0).String()
		b := []byte(s)
		arr := vm.NewArray()
		for i, c := range b {
			arr.Set(strconv.Itoa(i), int(c))
		}
		return arr
	})
	vm.Set("TextEncoder", func(call goja.ConstructorCall) *goja.Object {
		call.This.Set("encode", encoder.Get("encode"))
		return call.This
	})

	vm.Set("TextDecoder", func(call goja.ConstructorCall) *goja.Object {
		call.This.Set("decode", func(inner goja.FunctionCall) goja.Value {
			exported := inner.Argument(0).Export()
			switch v := exported.(type) {
			case []byte:
				return vm.ToValue(string(v))
			case string:
				if decoded, err := base64.StdEncoding.DecodeString(v); err == nil {
					return vm.ToValue(string(decoded))
				}
				return vm.ToValue(v)
			default:
				return vm.ToValue("")
			}
		})
		return call.This
	})
}

// stripTypes removes the subset of TypeScript syntax the mapper needs to
// tolerate in step modules: `name: Type` parameter and return-type
// annotations. It is deliberately minimal — full TS syntax is out of
// scope, this only has to clear the annotations real flow steps use.
func stripTypes(src string) string {
	var out strings.Builder
	i := 0
	for i < len(src) {
		c := src[i]
		if c == ':' {
			j := i + 1
			for j < len(src) && strings.IndexByte(",(){};=\n", src[j]) == -1 {
				j++
			}
			i = j
			continue
		}
		out.WriteByte(c)
		i++
	}
	return out.String()
}
