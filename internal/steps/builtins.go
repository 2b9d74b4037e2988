package steps

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/thin-edge/tedge-mapper-core/pkg/message"
)

func configString(cfg map[string]interface{}, key, def string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return def
}

func configBool(cfg map[string]interface{}, key string, def bool) bool {
	if v, ok := cfg[key].(bool); ok {
		return v
	}
	return def
}

func configStringSlice(cfg map[string]interface{}, key string) []string {
	raw, ok := cfg[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func configInt(cfg map[string]interface{}, key string, def int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// AddTimestamp adds `property` to a JSON payload holding the current
// processing time; `format` is "unix" or "rfc3339"; `reformat=true`
// rewrites an existing value under that property.
func AddTimestamp(msg message.Message, ctx Context) ([]message.Message, error) {
	property := configString(ctx.Config, "property", "time")
	format := configString(ctx.Config, "format", "unix")
	reformat := configBool(ctx.Config, "reformat", true)

	var doc map[string]interface{}
	if err := json.Unmarshal(msg.Payload, &doc); err != nil {
		return nil, fmt.Errorf("add-timestamp: payload is not a JSON object: %w", err)
	}

	if _, exists := doc[property]; exists && !reformat {
		return []message.Message{msg}, nil
	}

	now := time.Now()
	switch format {
	case "rfc3339":
		doc[property] = now.Format(time.RFC3339)
	default:
		doc[property] = now.Unix()
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("add-timestamp: marshal result: %w", err)
	}
	result := msg
	result.Payload = out
	return []message.Message{result}, nil
}

// IgnoreTopics drops messages whose topic matches any filter in `topics`.
func IgnoreTopics(msg message.Message, ctx Context) ([]message.Message, error) {
	for _, filter := range configStringSlice(ctx.Config, "topics") {
		if message.TopicMatches(filter, msg.Topic) {
			return nil, nil
		}
	}
	return []message.Message{msg}, nil
}

// LimitPayloadSize drops (or errors on) messages whose payload exceeds
// `max_size` bytes, depending on the `on_exceed` config ("drop" or "error").
func LimitPayloadSize(msg message.Message, ctx Context) ([]message.Message, error) {
	maxSize := configInt(ctx.Config, "max_size", 16*1024)
	if len(msg.Payload) <= maxSize {
		return []message.Message{msg}, nil
	}
	if configString(ctx.Config, "on_exceed", "drop") == "error" {
		return nil, fmt.Errorf("limit-payload-size: payload of %d bytes exceeds max_size %d on topic %s", len(msg.Payload), maxSize, msg.Topic)
	}
	return nil, nil
}

// SetTopic replaces the outgoing topic with a fixed string.
func SetTopic(msg message.Message, ctx Context) ([]message.Message, error) {
	topic := configString(ctx.Config, "topic", "")
	if topic == "" {
		return nil, fmt.Errorf("set-topic: missing required config key 'topic'")
	}
	out := msg
	out.Topic = topic
	return []message.Message{out}, nil
}

// UpdateContext stores the message into the mapper scope keyed by topic,
// parsing the payload as JSON when possible, and passes the message
// through unchanged. An empty payload deletes the key.
func UpdateContext(msg message.Message, ctx Context) ([]message.Message, error) {
	if len(msg.Payload) == 0 {
		ctx.Mapper.Set(msg.Topic, nil)
		return []message.Message{msg}, nil
	}

	var parsed interface{}
	if err := json.Unmarshal(msg.Payload, &parsed); err != nil {
		parsed = string(msg.Payload)
	}
	ctx.Mapper.Set(msg.Topic, parsed)
	return []message.Message{msg}, nil
}

// CacheEarlyMessages buffers messages whose source entity (derived from
// `entity_segment`, a topic segment index) is not yet registered in the
// mapper context under `registered_key`, and passes messages of registered
// entities straight through. Buffered messages stay in the flow context
// under `cache-early-messages/<entity>`; they are not re-emitted when the
// entity registers later.
func CacheEarlyMessages(msg message.Message, ctx Context) ([]message.Message, error) {
	entityIndex := configInt(ctx.Config, "entity_segment", 2)
	registeredKey := configString(ctx.Config, "registered_key", "tedge/registered-entities")

	entity := topicSegment(msg.Topic, entityIndex)
	registered, _ := ctx.Mapper.Get(registeredKey)
	if isEntityRegistered(registered, entity) {
		return []message.Message{msg}, nil
	}

	bufferKey := "cache-early-messages/" + entity
	buffered, _ := ctx.Flow.Get(bufferKey)
	list, _ := buffered.([]interface{})
	list = append(list, map[string]interface{}{
		"topic":     msg.Topic,
		"payload":   string(msg.Payload),
		"timestamp": msg.Timestamp.UnixMilli(),
	})
	ctx.Flow.Set(bufferKey, list)
	return nil, nil
}

func topicSegment(topic string, index int) string {
	start, count := 0, 0
	for i := 0; i <= len(topic); i++ {
		if i == len(topic) || topic[i] == '/' {
			if count == index {
				return topic[start:i]
			}
			start = i + 1
			count++
		}
	}
	return ""
}

func isEntityRegistered(registered interface{}, entity string) bool {
	list, ok := registered.([]interface{})
	if !ok {
		return false
	}
	for _, v := range list {
		if s, ok := v.(string); ok && s == entity {
			return true
		}
	}
	return false
}

// SkipMosquittoHealthStatus drops the broker's own health self-updates,
// published under $SYS or tedge/health/mosquitto and its subtopics.
func SkipMosquittoHealthStatus(msg message.Message, ctx Context) ([]message.Message, error) {
	if message.TopicMatches("$SYS/#", msg.Topic) || message.TopicMatches("tedge/health/mosquitto/#", msg.Topic) {
		return nil, nil
	}
	return []message.Message{msg}, nil
}

// IntoC8yMeasurements converts a flat measurement JSON document into
// Cumulocity's per-series wire format: each numeric field `f` becomes
// `f: {f: {value: ...}}`, and `type` is set from the topic's trailing
// `m/<type>` segment (relative to `topic_root`, default "te"). The `time`
// field (numeric or not, e.g. a stamp added by an earlier add-timestamp
// step) and any non-numeric field pass through unchanged. A field's series carries a `unit` alongside `value` when the
// mapper context holds a retained `<topic>/meta` document naming one,
// absorbed there by an earlier update-context step.
func IntoC8yMeasurements(msg message.Message, ctx Context) ([]message.Message, error) {
	topicRoot := configString(ctx.Config, "topic_root", "te")

	var flat map[string]interface{}
	if err := json.Unmarshal(msg.Payload, &flat); err != nil {
		return nil, fmt.Errorf("into_c8y_measurements: payload is not a JSON object: %w", err)
	}

	units := measurementUnits(ctx, msg.Topic)

	doc := make(map[string]interface{}, len(flat)+1)
	for k, v := range flat {
		if k == "time" {
			doc[k] = v
			continue
		}
		num, ok := toFloat(v)
		if !ok {
			doc[k] = v
			continue
		}
		series := map[string]interface{}{"value": num}
		if unit, ok := units[k]; ok {
			series["unit"] = unit
		}
		doc[k] = map[string]interface{}{k: series}
	}
	doc["type"] = measurementType(msg.Topic, topicRoot)

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("into_c8y_measurements: marshal result: %w", err)
	}
	result := msg
	result.Payload = out
	return []message.Message{result}, nil
}

// measurementType extracts <type> from a thin-edge measurement topic
// shaped te/<device>/<service>/<sub>/m/<type>, by locating the "m"
// segment following topicRoot and returning whatever follows it (possibly
// empty).
func measurementType(topic, topicRoot string) string {
	segments := strings.Split(topic, "/")
	for i, s := range segments {
		if i == 0 && topicRoot != "" && s != topicRoot {
			continue
		}
		if s == "m" && i+1 < len(segments) {
			return segments[i+1]
		}
	}
	return ""
}

// measurementUnits looks up the retained "<topic>/meta" document in the
// mapper context and returns the unit named for each field that has one.
func measurementUnits(ctx Context, topic string) map[string]string {
	units := make(map[string]string)
	if ctx.Mapper == nil {
		return units
	}
	meta, ok := ctx.Mapper.Get(topic + "/meta")
	if !ok {
		return units
	}
	fields, ok := meta.(map[string]interface{})
	if !ok {
		return units
	}
	for field, v := range fields {
		entry, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		if unit, ok := entry["unit"].(string); ok {
			units[field] = unit
		}
	}
	return units
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// SetAWSTopic derives an AWS IoT shadow-update destination topic from the
// source topic's device identifier segment, per `device_segment` and the
// `shadow` name config.
func SetAWSTopic(msg message.Message, ctx Context) ([]message.Message, error) {
	deviceIndex := configInt(ctx.Config, "device_segment", 2)
	shadow := configString(ctx.Config, "shadow", "default")

	device := topicSegment(msg.Topic, deviceIndex)
	if device == "" {
		return nil, fmt.Errorf("set-aws-topic: could not extract device segment %d from topic %s", deviceIndex, msg.Topic)
	}

	out := msg
	out.Topic = fmt.Sprintf("$aws/things/%s/shadow/name/%s/update", device, shadow)
	return []message.Message{out}, nil
}
