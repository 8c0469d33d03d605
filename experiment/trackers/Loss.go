// Package trackers implements the Trackers used by offline experiments
package trackers

import (
	"encoding/gob"
	"os"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/experiment/tracker"
	"github.com/samuelfneumann/offlineq/trainer"
)

// Loss tracks and saves one loss of each training step in an
// experiment
type Loss struct {
	losses   []float64
	filename string
	value    func(trainer.Report) float64
}

// NewTDLoss returns a new Loss Tracker which tracks the temporal
// difference loss and saves its data at the specified location
// filename
func NewTDLoss(filename string) tracker.Tracker {
	return &Loss{
		filename: filename,
		value:    func(r trainer.Report) float64 { return r.TDLoss },
	}
}

// NewRewardLoss returns a new Loss Tracker which tracks the loss of the
// reward network and saves its data at the specified location filename
func NewRewardLoss(filename string) tracker.Tracker {
	return &Loss{
		filename: filename,
		value:    func(r trainer.Report) float64 { return r.RewardLoss },
	}
}

// Track caches the loss of a training step
func (l *Loss) Track(_ int, report trainer.Report) {
	l.losses = append(l.losses, l.value(report))
}

// Losses returns the losses tracked so far
func (l *Loss) Losses() []float64 {
	return l.losses
}

// Save saves the data tracked by the Loss Tracker to disk.
func (l *Loss) Save() error {
	// Open the file to save to
	file, err := os.Create(l.filename)
	if err != nil {
		return errors.Wrap(err, "save: could not open save file")
	}
	defer file.Close()

	// Encode and save the file
	en := gob.NewEncoder(file)
	if err = en.Encode(l.losses); err != nil {
		return errors.Wrap(err, "save: could not encode loss data")
	}
	return nil
}
