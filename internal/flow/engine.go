package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/thin-edge/tedge-mapper-core/internal/connector"
	"github.com/thin-edge/tedge-mapper-core/internal/contextstore"
	"github.com/thin-edge/tedge-mapper-core/internal/logging"
	"github.com/thin-edge/tedge-mapper-core/internal/steps"
	"github.com/thin-edge/tedge-mapper-core/pkg/message"
)

const defaultTickInterval = time.Second

// stepInstance pairs a declared step with its resolved Builtin and its
// own stats counters.
type stepInstance struct {
	def     StepDef
	builtin steps.Builtin
	stats   *Stats
	scope   contextstore.KV
}

// Instance is one running flow: an Input source, an ordered Steps
// pipeline, and an Output sink, implementing worker.Runnable so a Pool
// can schedule it alongside every other flow.
type Instance struct {
	FlowKey string // the definition's file path, stable across reloads

	def      *Definition
	source   connector.Source
	output   connector.Sink
	errSink  connector.Sink
	steps    []*stepInstance
	mapper   contextstore.KV
	flowKV   contextstore.KV
	log      *logging.Scoped
	statsPub StatsPublisher
}

// StatsPublisher receives a flow's per-step stats snapshot every 60s when
// one is set on the Builder. No implementation ships in this module and
// the mapper sets none, so stats are collected but not published.
type StatsPublisher interface {
	PublishStats(flowName, stepName string, snap Snapshot)
}

// Name satisfies worker.Runnable.
func (in *Instance) Name() string { return "flow:" + in.def.Name }

// Definition exposes the parsed flow definition without having to start
// the flow.
func (in *Instance) Definition() *Definition { return in.def }

// SetOutput replaces the flow's output sink, used by the offline test
// harness to capture results instead of publishing them externally.
func (in *Instance) SetOutput(sink connector.Sink) { in.output = sink }

// SetErrorSink replaces the flow's errors sink, used by the offline test
// harness for the same reason as SetOutput.
func (in *Instance) SetErrorSink(sink connector.Sink) { in.errSink = sink }

// ProcessMessage runs msg through the step pipeline and dispatches the
// result to the output sink synchronously, without starting the input
// source or any interval tickers — used by the offline test harness,
// which supplies messages directly rather than through a connector.
func (in *Instance) ProcessMessage(ctx context.Context, msg message.Message) {
	in.handle(ctx, 0, []message.Message{msg})
}

// MatchesTopic reports whether topic falls under this flow's MQTT input
// filters; flows with a file or process input never match.
func (in *Instance) MatchesTopic(topic string) bool {
	if in.def.Input.MQTT == nil {
		return false
	}
	for _, filter := range in.def.Input.MQTT.Topics {
		if message.TopicMatches(filter, topic) {
			return true
		}
	}
	return false
}

// Stats returns a snapshot of every step's accumulated counters, keyed by
// step name, for the offline harness's --stats output.
func (in *Instance) Stats() map[string]Snapshot {
	out := make(map[string]Snapshot, len(in.steps))
	for _, step := range in.steps {
		out[step.def.name()] = step.stats.Snapshot()
	}
	return out
}

// Run drives the flow until ctx is cancelled: it starts the input
// source, the per-step interval tickers and (if configured) the stats
// publisher, and processes every message that arrives from any of them.
func (in *Instance) Run(ctx context.Context) error {
	incoming := make(chan message.Message, 64)

	go func() {
		if err := in.source.Run(ctx, incoming); err != nil {
			in.log.WithError(err).Warn("input source exited")
		}
	}()

	tickers := in.startTickers(ctx)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	statsTicker := time.NewTicker(60 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-incoming:
			if !ok {
				return nil
			}
			in.handle(ctx, 0, []message.Message{msg})
		case <-statsTicker.C:
			in.publishStats()
		}
	}
}

type tickerHandle struct {
	index int
	timer *time.Ticker
}

func (t tickerHandle) Stop() { t.timer.Stop() }

// startTickers launches one time.Ticker per step that declares an
// interval; each firing invokes that step's OnInterval and feeds any
// returned messages into the pipeline starting at the step immediately
// after it, never re-running earlier steps.
func (in *Instance) startTickers(ctx context.Context) []tickerHandle {
	var handles []tickerHandle
	for i, step := range in.steps {
		if step.def.Interval <= 0 {
			continue
		}
		index := i
		ticker := time.NewTicker(step.def.Interval)
		handles = append(handles, tickerHandle{index: index, timer: ticker})
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case at, ok := <-ticker.C:
					if !ok {
						return
					}
					in.fireInterval(ctx, index, at)
				}
			}
		}()
	}
	return handles
}

func (in *Instance) fireInterval(ctx context.Context, index int, at time.Time) {
	step := in.steps[index]
	stepCtx := in.stepContext(step)
	out, err := step.builtin.OnInterval(at, stepCtx)
	if err != nil {
		in.routeError(ctx, step.def.name(), message.Message{}, err)
		return
	}
	if len(out) > 0 {
		in.handle(ctx, index+1, out)
	}
}

// handle runs messages through steps[from:] in order, dispatching
// whatever survives to the output sink.
func (in *Instance) handle(ctx context.Context, from int, msgs []message.Message) {
	current := msgs
	for i := from; i < len(in.steps); i++ {
		step := in.steps[i]
		stepCtx := in.stepContext(step)

		var next []message.Message
		start := time.Now()
		for _, m := range current {
			step.stats.RecordIn()
			out, err := step.builtin.OnMessage(m, stepCtx)
			if err != nil {
				in.routeError(ctx, step.def.name(), m, err)
				continue
			}
			next = append(next, out...)
		}
		step.stats.RecordOut(len(next), time.Since(start))
		current = next
		if len(current) == 0 {
			return
		}
	}

	for _, m := range current {
		in.dispatchOutput(ctx, m)
	}
}

func (in *Instance) stepContext(step *stepInstance) steps.Context {
	return steps.Context{
		Mapper: in.mapper,
		Flow:   in.flowKV,
		Script: step.scope,
		Config: step.def.Config,
	}
}

func (in *Instance) dispatchOutput(ctx context.Context, msg message.Message) {
	if in.def.Output.MQTT != nil && in.def.Output.MQTT.AcceptTopics != "" {
		if !message.TopicMatches(in.def.Output.MQTT.AcceptTopics, msg.Topic) {
			return
		}
	}
	if in.def.Output.MQTT != nil && in.def.Output.MQTT.Topic != "" {
		msg = msg.Clone()
		msg.Topic = in.def.Output.MQTT.Topic
	}
	if in.output == nil {
		return
	}
	if err := in.output.Publish(ctx, msg); err != nil {
		in.log.WithError(err).Warn("output publish failed")
	}
}

// defaultErrorsTopic is published to when a flow declares no [errors.mqtt]
// topic of its own.
const defaultErrorsTopic = "te/error"

func (in *Instance) errorsTopic() string {
	if in.def.Errors.MQTT != nil && in.def.Errors.MQTT.Topic != "" {
		return in.def.Errors.MQTT.Topic
	}
	return defaultErrorsTopic
}

func (in *Instance) routeError(ctx context.Context, stepName string, msg message.Message, cause error) {
	in.log.With("step", stepName).With("topic", msg.Topic).WithError(cause).Error("step error")
	if in.errSink == nil {
		return
	}
	payload := fmt.Sprintf(`{"flow":%q,"step":%q,"topic":%q,"error":%q}`, in.def.Name, stepName, msg.Topic, cause.Error())
	errMsg := message.New(in.errorsTopic(), []byte(payload))
	if err := in.errSink.Publish(ctx, errMsg); err != nil {
		in.log.WithError(err).Error("failed to publish to errors sink")
	}
}

func (in *Instance) publishStats() {
	if in.statsPub == nil {
		return
	}
	for _, step := range in.steps {
		in.statsPub.PublishStats(in.def.Name, step.def.name(), step.stats.Snapshot())
	}
}
