package datamodule

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/dataset"
	"github.com/samuelfneumann/offlineq/normalization"
	"k8s.io/klog/v2"
)

// Config describes a File DataModule
type Config struct {
	// Path of the JSON lines transition file
	Path string `json:"path"`

	// NormalizationPath, if set, is a JSON file holding the
	// normalization data map. Otherwise normalization is identified
	// from the training transitions.
	NormalizationPath string `json:"normalization_path,omitempty"`

	EvalFraction float64 `json:"eval_fraction,omitempty"`

	// ContinuousActions identifies action features as continuous
	// actions rather than inferring their type
	ContinuousActions bool `json:"continuous_actions,omitempty"`

	// Quantiles, if positive, identifies continuous state features
	// as quantile features with this many boundaries
	Quantiles int `json:"quantiles,omitempty"`
}

// Validate checks the Config for errors
func (c Config) Validate() error {
	if c.Path == "" {
		return errors.New("validate: no dataset path")
	}
	if c.EvalFraction < 0 || c.EvalFraction >= 1 {
		return errors.Errorf("validate: eval fraction must be in [0, 1)"+
			"\n\twant([0, 1))\n\thave(%v)", c.EvalFraction)
	}
	return nil
}

// File is a DataModule backed by a JSON lines transition file
type File struct {
	config Config
	seed   int64

	ready         bool
	normalization map[string]normalization.Data
	train, eval   []dataset.Transition
}

// NewFile returns a new File DataModule. The seed determines the
// train/eval split.
func NewFile(config Config, seed int64) (*File, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "newFile")
	}
	return &File{config: config, seed: seed}, nil
}

// Setup implements the DataModule interface
func (f *File) Setup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	transitions, err := dataset.LoadFile(f.config.Path)
	if err != nil {
		return errors.Wrap(err, "setup")
	}
	if len(transitions) == 0 {
		return errors.Errorf("setup: no transitions in %v", f.config.Path)
	}

	f.train, f.eval, err = dataset.Split(transitions, f.config.EvalFraction,
		f.seed)
	if err != nil {
		return errors.Wrap(err, "setup")
	}
	klog.Infof("Loaded %d transitions from %v (%d train, %d eval)",
		len(transitions), f.config.Path, len(f.train), len(f.eval))

	if f.config.NormalizationPath != "" {
		file, err := os.Open(f.config.NormalizationPath)
		if err != nil {
			return errors.Wrap(err, "setup")
		}
		defer file.Close()

		f.normalization, err = LoadNormalization(file)
		if err != nil {
			return errors.Wrapf(err, "setup: %v", f.config.NormalizationPath)
		}
	} else {
		f.normalization, err = Identify(f.train, f.config.ContinuousActions,
			f.config.Quantiles)
		if err != nil {
			return errors.Wrap(err, "setup")
		}
	}

	f.ready = true
	return nil
}

// GetNormalizationDataMap implements the DataModule interface
func (f *File) GetNormalizationDataMap(
	keys []string) (map[string]normalization.Data, error) {
	if !f.ready {
		return nil, errors.New("getNormalizationDataMap: data module is " +
			"not set up")
	}
	return selectNormalization(f.normalization, keys)
}

// TrainData implements the DataModule interface
func (f *File) TrainData() []dataset.Transition { return f.train }

// EvalData implements the DataModule interface
func (f *File) EvalData() []dataset.Transition { return f.eval }

// Identify identifies the normalization data of the STATE slot from
// dense state features, and of the ACTION slot from dense action
// features if any transition has them.
func Identify(transitions []dataset.Transition, continuousActions bool,
	quantiles int) (map[string]normalization.Data, error) {
	m := make(map[string]normalization.Data)

	stateSamples := dataset.FeatureSamples(transitions, dataset.StateFeatures)
	if len(stateSamples) == 0 {
		// States made only of id-list features
		m[normalization.State] = normalization.NewData(
			map[int]normalization.Parameters{})
		klog.V(1).Info("No dense state features to identify")
	} else {
		state, err := normalization.IdentifyAll(stateSamples,
			normalization.IdentifyOptions{Quantiles: quantiles})
		if err != nil {
			return nil, errors.Wrap(err, "identify: state")
		}
		m[normalization.State] = state
		klog.V(1).Infof("Identified normalization of %d state features",
			len(stateSamples))
	}

	actionSamples := dataset.FeatureSamples(transitions, dataset.ActionFeatures)
	if len(actionSamples) == 0 {
		return m, nil
	}

	var opts normalization.IdentifyOptions
	if continuousActions {
		opts.Type = normalization.ContinuousAction
	}
	action, err := normalization.IdentifyAll(actionSamples, opts)
	if err != nil {
		return nil, errors.Wrap(err, "identify: action")
	}
	m[normalization.Action] = action
	klog.V(1).Infof("Identified normalization of %d action features",
		len(actionSamples))

	return m, nil
}
