package hooks

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SinkSpec is one entry in the hooks config file. Exactly one of
// webhook or script must be set.
type SinkSpec struct {
	Name    string   `yaml:"name"`
	Events  []string `yaml:"events,omitempty"` // empty or "*" means all
	Webhook *struct {
		URL     string            `yaml:"url"`
		Headers map[string]string `yaml:"headers,omitempty"`
	} `yaml:"webhook,omitempty"`
	Script *struct {
		Command string        `yaml:"command"`
		Timeout time.Duration `yaml:"timeout,omitempty"`
	} `yaml:"script,omitempty"`
}

// File is the top-level hooks config structure (.steroids/hooks.yaml).
type File struct {
	Hooks []SinkSpec `yaml:"hooks"`
}

// LoadConfig reads sink definitions from path. A missing file yields an
// empty config, not an error.
func LoadConfig(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("read hooks config: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse hooks config %s: %w", path, err)
	}

	for i, spec := range f.Hooks {
		if spec.Name == "" {
			return nil, fmt.Errorf("hooks[%d]: name is required", i)
		}
		if (spec.Webhook == nil) == (spec.Script == nil) {
			return nil, fmt.Errorf("hook %s: exactly one of webhook or script is required", spec.Name)
		}
	}
	return &f, nil
}

// BuildSinks materializes the configured sinks with their event filters.
func (f *File) BuildSinks() []FilteredSink {
	sinks := make([]FilteredSink, 0, len(f.Hooks))
	for _, spec := range f.Hooks {
		var s Sink
		switch {
		case spec.Webhook != nil:
			s = NewWebhookSink(spec.Name, spec.Webhook.URL, spec.Webhook.Headers)
		case spec.Script != nil:
			s = NewScriptSink(spec.Name, spec.Script.Command, spec.Script.Timeout)
		}
		sinks = append(sinks, FilteredSink{Sink: s, Events: spec.Events})
	}
	return sinks
}

// FilteredSink pairs a sink with the events it wants.
type FilteredSink struct {
	Sink   Sink
	Events []string
}

// Wants reports whether the sink subscribes to the event. An empty
// filter or a "*" entry matches everything.
func (fs *FilteredSink) Wants(event string) bool {
	if len(fs.Events) == 0 {
		return true
	}
	for _, e := range fs.Events {
		if e == "*" || e == event {
			return true
		}
	}
	return false
}
