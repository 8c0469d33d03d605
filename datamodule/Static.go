package datamodule

import (
	"context"

	"github.com/samuelfneumann/offlineq/dataset"
	"github.com/samuelfneumann/offlineq/normalization"
)

// Static is a DataModule over data that is already in memory
type Static struct {
	Normalization map[string]normalization.Data
	Train         []dataset.Transition
	Eval          []dataset.Transition
}

// NewStatic returns a new Static DataModule
func NewStatic(norm map[string]normalization.Data, train,
	eval []dataset.Transition) *Static {
	return &Static{Normalization: norm, Train: train, Eval: eval}
}

// Setup implements the DataModule interface
func (s *Static) Setup(ctx context.Context) error {
	return ctx.Err()
}

// GetNormalizationDataMap implements the DataModule interface
func (s *Static) GetNormalizationDataMap(
	keys []string) (map[string]normalization.Data, error) {
	return selectNormalization(s.Normalization, keys)
}

// TrainData implements the DataModule interface
func (s *Static) TrainData() []dataset.Transition { return s.Train }

// EvalData implements the DataModule interface
func (s *Static) EvalData() []dataset.Transition { return s.Eval }
