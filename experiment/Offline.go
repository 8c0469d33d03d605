package experiment

import (
	"context"
	"io"
	"math/rand"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/datamodule"
	"github.com/samuelfneumann/offlineq/dataset"
	"github.com/samuelfneumann/offlineq/experiment/checkpointer"
	"github.com/samuelfneumann/offlineq/experiment/tracker"
	"github.com/samuelfneumann/offlineq/experiment/trackers"
	"github.com/samuelfneumann/offlineq/modelmanager"
	"github.com/samuelfneumann/offlineq/normalization"
	"github.com/samuelfneumann/offlineq/trainer"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// Offline is an Experiment that trains a model from logged transitions
// only. After training, the model is evaluated on the evaluation data
// and its serving module is saved.
type Offline struct {
	config   Config
	manager  modelmanager.ModelManager
	data     datamodule.DataModule
	trackers []tracker.Tracker
	progress io.Writer
	runID    string
	rng      *rand.Rand

	steps int
	eval  *trainer.Report
}

// NewOffline creates and returns a new offline experiment. If data is
// nil, the transitions are read from the file data module described by
// the config.
func NewOffline(config Config, data datamodule.DataModule) (*Offline,
	error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "newOffline")
	}
	manager, _ := config.Model.Value()

	if data == nil {
		var err error
		data, err = datamodule.NewFile(config.Data, config.Seed)
		if err != nil {
			return nil, errors.Wrap(err, "newOffline")
		}
	}

	o := &Offline{
		config:   config,
		manager:  manager,
		data:     data,
		progress: os.Stderr,
		runID:    uuid.NewString(),
		rng:      rand.New(rand.NewSource(config.Seed)),
	}
	if config.LossPath != "" {
		o.Register(trackers.NewTDLoss(config.LossPath))
	}
	return o, nil
}

// Register registers a tracker.Tracker with an Experiment so that data
// generated during the experiment can be tracked and saved
func (o *Offline) Register(t tracker.Tracker) {
	o.trackers = append(o.trackers, t)
}

// SetProgressWriter sets where the progress bar is written
func (o *Offline) SetProgressWriter(w io.Writer) {
	o.progress = w
}

// RunID returns the unique id of the experiment
func (o *Offline) RunID() string {
	return o.runID
}

// Steps returns the number of training steps taken
func (o *Offline) Steps() int {
	return o.steps
}

// EvalReport returns the report of the evaluation after training, or
// nil if there was no evaluation data
func (o *Offline) EvalReport() *trainer.Report {
	return o.eval
}

// Run runs the entire experiment. Cancelling ctx stops training between
// steps and returns ctx.Err().
func (o *Offline) Run(ctx context.Context) error {
	klog.Infof("Starting offline experiment %v", o.runID)

	if err := o.data.Setup(ctx); err != nil {
		return errors.Wrap(err, "run")
	}
	normMap, err := o.data.GetNormalizationDataMap(
		o.manager.NormalizationKeys())
	if err != nil {
		return errors.Wrap(err, "run")
	}

	t, err := o.manager.BuildTrainer(normMap, o.config.UseGPU,
		o.config.RewardOptions)
	if err != nil {
		return errors.Wrap(err, "run")
	}
	defer t.Close()

	batches, stepsPerEpoch, err := o.batches(
		t.MinibatchSize() * t.MinibatchesPerStep())
	if err != nil {
		return errors.Wrap(err, "run")
	}
	checkpointers := o.checkpointers(normMap)

	total := o.config.Epochs * stepsPerEpoch
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("training"),
		progressbar.OptionSetWriter(o.progress),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
	)

	for epoch := 0; epoch < o.config.Epochs; epoch++ {
		var epochReport trainer.Report
		for i := 0; i < stepsPerEpoch; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}

			batch, err := batches()
			if err != nil {
				return errors.Wrap(err, "run")
			}
			report, err := t.Step(batch)
			if err != nil {
				return errors.Wrapf(err, "run: step %d", o.steps)
			}
			o.steps++
			epochReport.TDLoss += report.TDLoss

			o.track(report)
			for _, c := range checkpointers {
				if err := c.Checkpoint(o.steps); err != nil {
					return errors.Wrap(err, "run: checkpoint")
				}
			}
			_ = bar.Add(1)
		}
		klog.V(1).Infof("Epoch %d: mean TD loss %.6f", epoch,
			epochReport.TDLoss/float64(stepsPerEpoch))
	}
	_ = bar.Finish()

	if err := o.evaluate(t); err != nil {
		return errors.Wrap(err, "run")
	}

	if o.config.OutputPath != "" {
		if err := o.saveServingModule(o.config.OutputPath, normMap); err != nil {
			return errors.Wrap(err, "run")
		}
		klog.Infof("Saved serving module to %v", o.config.OutputPath)
	}
	return nil
}

// batches returns a function returning the transitions of each step
// and the number of steps in an epoch
func (o *Offline) batches(stepSize int) (func() ([]dataset.Transition,
	error), int, error) {
	train := o.data.TrainData()
	stepsPerEpoch := len(train) / stepSize
	if stepsPerEpoch == 0 {
		return nil, 0, errors.Errorf("batches: fewer training transitions "+
			"than a step needs\n\twant(>= %d)\n\thave(%d)", stepSize,
			len(train))
	}

	if o.config.Replay != nil {
		replayConfig := *o.config.Replay
		replayConfig.SampleSize = stepSize
		buffer, err := replayConfig.Create(o.config.Seed)
		if err != nil {
			return nil, 0, errors.Wrap(err, "batches")
		}
		for _, transition := range train {
			if err := buffer.Add(transition); err != nil {
				return nil, 0, errors.Wrap(err, "batches")
			}
		}
		klog.V(1).Infof("Filled replay buffer with %d transitions",
			buffer.Capacity())
		return buffer.Sample, stepsPerEpoch, nil
	}

	var perm []int
	next := 0
	return func() ([]dataset.Transition, error) {
		if next%stepsPerEpoch == 0 {
			perm = o.rng.Perm(len(train))
		}
		start := (next % stepsPerEpoch) * stepSize
		next++

		batch := make([]dataset.Transition, stepSize)
		for i := range batch {
			batch[i] = train[perm[start+i]]
		}
		return batch, nil
	}, stepsPerEpoch, nil
}

// checkpointers returns the checkpointers of the serving module
func (o *Offline) checkpointers(
	normMap map[string]normalization.Data) []checkpointer.Checkpointer {
	if o.config.CheckpointEvery <= 0 {
		return nil
	}

	filename := checkpointer.FilenameEnumerator(0, o.config.CheckpointPrefix,
		".gob")
	if o.config.CheckpointTimestamped {
		filename = checkpointer.FileTimer(o.config.CheckpointPrefix, ".gob")
	}
	save := checkpointer.SaverFunc(func(path string) error {
		return o.saveServingModule(path, normMap)
	})
	return []checkpointer.Checkpointer{
		checkpointer.NewNStep(o.config.CheckpointEvery, save, filename),
	}
}

// evaluate evaluates the trainer on the evaluation data
func (o *Offline) evaluate(t trainer.Trainer) error {
	eval := o.data.EvalData()
	if len(eval) == 0 {
		klog.V(1).Info("Skipping evaluation: no evaluation data")
		return nil
	}

	report, err := t.Evaluate(eval)
	if err != nil {
		return errors.Wrap(err, "evaluate")
	}
	o.eval = &report
	klog.Infof("Evaluation: TD loss %.6f, reward loss %.6f, mean Q %.6f",
		report.TDLoss, report.RewardLoss, report.MeanQ)
	return nil
}

func (o *Offline) saveServingModule(path string,
	normMap map[string]normalization.Data) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "saveServingModule")
	}
	if err := o.manager.SaveServingModule(file, normMap); err != nil {
		file.Close()
		return errors.Wrap(err, "saveServingModule")
	}
	return errors.Wrap(file.Close(), "saveServingModule")
}

// Save saves all the data cached by the Trackers to disk
func (o *Offline) Save() error {
	for _, t := range o.trackers {
		if err := t.Save(); err != nil {
			return errors.Wrap(err, "save")
		}
	}
	return nil
}

// track tracks the report of the latest step in each tracker
func (o *Offline) track(report trainer.Report) {
	for _, t := range o.trackers {
		t.Track(o.steps, report)
	}
}

