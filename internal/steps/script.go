package steps

import (
	"time"

	"github.com/thin-edge/tedge-mapper-core/internal/sandbox"
	"github.com/thin-edge/tedge-mapper-core/pkg/message"
)

// ScriptStep adapts a sandboxed script module at Path to the Builtin
// contract, so the flow engine drives builtin and script steps through the
// identical interface.
type ScriptStep struct {
	Path     string
	FlowName string
	Runtime  *sandbox.Runtime
}

func (s ScriptStep) OnMessage(msg message.Message, ctx Context) ([]message.Message, error) {
	return s.Runtime.InvokeMessage(s.Path, s.FlowName, msg, ctx.Mapper, ctx.Flow, ctx.Script, ctx.Config)
}

func (s ScriptStep) OnInterval(at time.Time, ctx Context) ([]message.Message, error) {
	return s.Runtime.InvokeInterval(s.Path, s.FlowName, at, ctx.Mapper, ctx.Flow, ctx.Script, ctx.Config)
}
