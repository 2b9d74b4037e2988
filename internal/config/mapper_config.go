package config

import "time"

// MapperConfig is the resolved runtime configuration for a mapper instance,
// assembled from defaults, an optional TOML file and environment overrides
// (in that order of increasing precedence).
type MapperConfig struct {
	// Profile selects the instance's config/data/log directory set, e.g.
	// "" (main instance) or "c8y" (a named secondary instance).
	Profile string

	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	FlowsDir  string
	RulesFile string

	HealthTopic     string
	HealthInterval  time.Duration
	StatsTopic      string
	StatsInterval   time.Duration
	SandboxTimeout  time.Duration
	SandboxHeapCap  int
	ProgramCacheCap int

	LogLevel  string
	LogFormat string
}

// DefaultMapperConfig returns the configuration a fresh mapper instance
// starts from before TOML, environment, and flag overrides are layered on.
func DefaultMapperConfig() MapperConfig {
	return MapperConfig{
		MQTTBroker:      "tcp://localhost:1883",
		MQTTClientID:    "tedge-mapper-core",
		FlowsDir:        "/etc/tedge/flows",
		RulesFile:       "/etc/tedge/bridge/rules.toml",
		HealthTopic:     "tedge/health/tedge-mapper-core",
		HealthInterval:  60 * time.Second,
		StatsTopic:      "tedge/stats/tedge-mapper-core",
		StatsInterval:   60 * time.Second,
		SandboxTimeout:  50 * time.Millisecond,
		SandboxHeapCap:  16 * 1024 * 1024,
		ProgramCacheCap: 128,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Validate checks that the config is usable, returning every problem found.
func (c MapperConfig) Validate() error {
	v := &Validator{}
	v.RequireString("mqtt.broker", c.MQTTBroker)
	v.RequireString("mqtt.client_id", c.MQTTClientID)
	v.RequireString("flows.dir", c.FlowsDir)
	v.RequirePositiveInt("sandbox.heap_cap", c.SandboxHeapCap)
	v.RequireOneOf("log.level", c.LogLevel, "debug", "info", "warn", "error")
	v.RequireOneOf("log.format", c.LogFormat, "text", "json")
	return v.Err()
}

// FromEnv layers environment-variable overrides (prefix TEDGE_MAPPER) on
// top of c and returns the result.
func FromEnv(c MapperConfig) MapperConfig {
	env := NewEnvConfig("TEDGE_MAPPER")
	c.MQTTBroker = env.GetString("mqtt_broker", c.MQTTBroker)
	c.MQTTClientID = env.GetString("mqtt_client_id", c.MQTTClientID)
	c.MQTTUsername = env.GetString("mqtt_username", c.MQTTUsername)
	c.MQTTPassword = env.GetString("mqtt_password", c.MQTTPassword)
	c.FlowsDir = env.GetString("flows_dir", c.FlowsDir)
	c.RulesFile = env.GetString("rules_file", c.RulesFile)
	c.HealthInterval = env.GetDuration("health_interval", c.HealthInterval)
	c.StatsInterval = env.GetDuration("stats_interval", c.StatsInterval)
	c.SandboxTimeout = env.GetDuration("sandbox_timeout", c.SandboxTimeout)
	c.SandboxHeapCap = env.GetInt("sandbox_heap_cap", c.SandboxHeapCap)
	c.LogLevel = env.GetString("log_level", c.LogLevel)
	c.LogFormat = env.GetString("log_format", c.LogFormat)
	return c
}
