// Package datamodule implements data modules, which provide the
// training and evaluation transitions of an offline experiment together
// with the normalization data of each named feature slot.
package datamodule

import (
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/dataset"
	"github.com/samuelfneumann/offlineq/normalization"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// DataModule provides the data of an offline experiment
type DataModule interface {
	// Setup loads or computes the data. It must be called before any
	// other method.
	Setup(ctx context.Context) error

	// GetNormalizationDataMap returns the normalization data of each
	// requested slot. If keys is nil, every slot is returned. A
	// requested slot without data results in an error wrapping
	// normalization.ErrMissingNormalization.
	GetNormalizationDataMap(keys []string) (map[string]normalization.Data,
		error)

	// TrainData returns the training transitions
	TrainData() []dataset.Transition

	// EvalData returns the evaluation transitions
	EvalData() []dataset.Transition
}

// selectNormalization returns the entries of all requested by keys
func selectNormalization(all map[string]normalization.Data,
	keys []string) (map[string]normalization.Data, error) {
	if keys == nil {
		keys = maps.Keys(all)
		slices.Sort(keys)
	}

	selected := make(map[string]normalization.Data, len(keys))
	for _, key := range keys {
		data, err := normalization.Lookup(all, key)
		if err != nil {
			return nil, errors.Wrap(err, "getNormalizationDataMap")
		}
		selected[key] = data
	}
	return selected, nil
}

// SaveNormalization writes a normalization data map as JSON
func SaveNormalization(w io.Writer, m map[string]normalization.Data) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(m), "saveNormalization")
}

// LoadNormalization reads a normalization data map written by
// SaveNormalization and validates it.
func LoadNormalization(r io.Reader) (map[string]normalization.Data, error) {
	var m map[string]normalization.Data
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, errors.Wrap(err, "loadNormalization")
	}

	for _, key := range maps.Keys(m) {
		if err := m[key].Validate(); err != nil {
			return nil, errors.Wrapf(err, "loadNormalization: slot %q", key)
		}
	}
	return m, nil
}
