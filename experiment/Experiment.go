// Package experiment implements functionality for running offline
// training experiments
package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/datamodule"
	"github.com/samuelfneumann/offlineq/experiment/tracker"
	"github.com/samuelfneumann/offlineq/expreplay"
	"github.com/samuelfneumann/offlineq/modelmanager"
	"gopkg.in/yaml.v3"
)

// Interface Experiment outlines structs that can run experiments. The
// Run() method trains a model until the experiment's ending condition
// is reached. Data generated during the experiment is sent to
// Trackers, and the Save() function saves all data cached by the
// Trackers to disk.
type Experiment interface {
	Run(ctx context.Context) error

	// Adds a new tracker.Tracker to the experiment
	Register(t tracker.Tracker)

	// Save all tracked data to disk
	Save() error
}

// Config represents a configuration of an experiment.
type Config struct {
	Model modelmanager.Union `json:"model"`
	Data  datamodule.Config  `json:"data"`

	// Replay, if set, samples minibatches from a replay buffer filled
	// with the training data. Otherwise each epoch iterates over a
	// shuffle of the training data. The sample size is always the
	// trainer's minibatch size.
	Replay *expreplay.Config `json:"replay,omitempty"`

	Epochs        int                         `json:"epochs"`
	UseGPU        bool                        `json:"use_gpu"`
	Seed          int64                       `json:"seed"`
	RewardOptions *modelmanager.RewardOptions `json:"reward_options,omitempty"`

	// OutputPath, if set, is where the serving module is saved
	OutputPath string `json:"output_path,omitempty"`

	// CheckpointEvery, if positive, saves the serving module every
	// CheckpointEvery training steps to files starting with
	// CheckpointPrefix
	CheckpointEvery       int    `json:"checkpoint_every,omitempty"`
	CheckpointPrefix      string `json:"checkpoint_prefix,omitempty"`
	CheckpointTimestamped bool   `json:"checkpoint_timestamped,omitempty"`

	// LossPath, if set, is where the TD loss of each step is saved
	LossPath string `json:"loss_path,omitempty"`
}

// DefaultConfig returns a Config with the default settings. The model
// and data must still be set.
func DefaultConfig() Config {
	return Config{Epochs: 1}
}

// Validate checks the Config for errors
func (c Config) Validate() error {
	manager, err := c.Model.Value()
	if err != nil {
		return errors.Wrap(err, "validate: model")
	}
	if err := manager.Validate(); err != nil {
		return errors.Wrap(err, "validate: model")
	}

	if c.Epochs <= 0 {
		return errors.Errorf("validate: invalid number of epochs"+
			"\n\twant(> 0)\n\thave(%v)", c.Epochs)
	}
	if c.CheckpointEvery < 0 {
		return errors.Errorf("validate: invalid checkpoint interval"+
			"\n\twant(>= 0)\n\thave(%v)", c.CheckpointEvery)
	}
	if c.CheckpointEvery > 0 && c.CheckpointPrefix == "" {
		return errors.New("validate: checkpointing requires a checkpoint " +
			"prefix")
	}
	if c.Replay != nil {
		return errors.Wrap(c.Replay.Validate(), "validate: replay")
	}
	return nil
}

// LoadConfig reads a Config from a YAML or JSON file. Files ending in
// .yaml or .yml are read as YAML.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "loadConfig")
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		data, err = yamlToJSON(data)
		if err != nil {
			return Config{}, errors.Wrapf(err, "loadConfig: %v", path)
		}
	}

	c, err := ParseConfig(data)
	return c, errors.Wrapf(err, "loadConfig: %v", path)
}

// ParseConfig decodes a JSON Config onto the default Config and
// validates it. A replay configuration is decoded onto the default
// replay configuration.
func ParseConfig(data []byte) (Config, error) {
	var replay struct {
		Replay json.RawMessage `json:"replay"`
	}
	if err := json.Unmarshal(data, &replay); err != nil {
		return Config{}, errors.Wrap(err, "parseConfig")
	}

	c := DefaultConfig()
	if len(replay.Replay) > 0 && string(replay.Replay) != "null" {
		r := expreplay.DefaultConfig()
		c.Replay = &r
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Wrap(err, "parseConfig")
	}
	return c, errors.Wrap(c.Validate(), "parseConfig")
}

// yamlToJSON converts a YAML document to JSON so that it can be decoded
// with the JSON decoders of the configuration types
func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	v, err := jsonValue(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func jsonValue(v any) (any, error) {
	switch v := v.(type) {
	case map[string]any:
		for key, value := range v {
			converted, err := jsonValue(value)
			if err != nil {
				return nil, err
			}
			v[key] = converted
		}
		return v, nil

	// Non-string keys, such as feature ids, become JSON object keys
	case map[any]any:
		m := make(map[string]any, len(v))
		for key, value := range v {
			converted, err := jsonValue(value)
			if err != nil {
				return nil, err
			}
			m[fmt.Sprint(key)] = converted
		}
		return m, nil

	case []any:
		for i := range v {
			converted, err := jsonValue(v[i])
			if err != nil {
				return nil, err
			}
			v[i] = converted
		}
		return v, nil

	default:
		return v, nil
	}
}
