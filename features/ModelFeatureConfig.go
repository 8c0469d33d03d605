// Package features describes the raw features a model consumes: dense
// float features and id-list (categorical) features together with the
// id mappings that turn raw ids into embedding rows.
package features

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// FloatFeatureInfo names a dense float feature
type FloatFeatureInfo struct {
	Name      string `json:"name"`
	FeatureID int    `json:"feature_id"`
}

// IDListFeatureConfig describes an id-list feature. The ids in the
// list are mapped to embedding rows using the IDMapping named
// IDMappingName.
type IDListFeatureConfig struct {
	Name          string `json:"name"`
	FeatureID     int    `json:"feature_id"`
	IDMappingName string `json:"id_mapping_name"`
}

// IDMapping lists the raw ids that have an embedding. The i-th id is
// embedded by row i of the embedding table.
type IDMapping struct {
	IDs []int64 `json:"ids"`
}

// ModelFeatureConfig is the feature configuration of a model's state
type ModelFeatureConfig struct {
	FloatFeatureInfos    []FloatFeatureInfo    `json:"float_feature_infos,omitempty"`
	IDListFeatureConfigs []IDListFeatureConfig `json:"id_list_feature_configs,omitempty"`
	IDMappingConfig      map[string]IDMapping  `json:"id_mapping_config,omitempty"`

	// Per id-list feature: raw id -> row, and the ids it was built from
	index   []map[int64]int
	indexed [][]int64
}

// Validate checks that feature names and ids are unique and that every
// id-list feature refers to a non-empty id mapping with unique ids.
func (c *ModelFeatureConfig) Validate() error {
	names := make(map[string]bool)
	ids := make(map[int]bool)

	check := func(name string, id int) error {
		if names[name] {
			return errors.Errorf("validate: duplicate feature name %q", name)
		}
		if ids[id] {
			return errors.Errorf("validate: duplicate feature id %d", id)
		}
		names[name] = true
		ids[id] = true
		return nil
	}

	for _, f := range c.FloatFeatureInfos {
		if err := check(f.Name, f.FeatureID); err != nil {
			return err
		}
	}

	for _, f := range c.IDListFeatureConfigs {
		if err := check(f.Name, f.FeatureID); err != nil {
			return err
		}

		mapping, ok := c.IDMappingConfig[f.IDMappingName]
		if !ok {
			return errors.Errorf("validate: id-list feature %q refers to "+
				"unknown id mapping %q", f.Name, f.IDMappingName)
		}
		if len(mapping.IDs) == 0 {
			return errors.Errorf("validate: id mapping %q is empty",
				f.IDMappingName)
		}

		seen := make(map[int64]bool, len(mapping.IDs))
		for _, id := range mapping.IDs {
			if seen[id] {
				return errors.Errorf("validate: id mapping %q has "+
					"duplicate id %d", f.IDMappingName, id)
			}
			seen[id] = true
		}
	}

	c.buildIndex()
	return nil
}

// NumIDListFeatures returns the number of id-list features
func (c *ModelFeatureConfig) NumIDListFeatures() int {
	return len(c.IDListFeatureConfigs)
}

// VocabSize returns the number of embedding rows of the i-th id-list
// feature.
func (c *ModelFeatureConfig) VocabSize(i int) int {
	return len(c.IDMappingConfig[c.IDListFeatureConfigs[i].IDMappingName].IDs)
}

// VocabSizes returns the number of embedding rows of every id-list
// feature, in config order.
func (c *ModelFeatureConfig) VocabSizes() []int {
	sizes := make([]int, c.NumIDListFeatures())
	for i := range sizes {
		sizes[i] = c.VocabSize(i)
	}
	return sizes
}

func (c *ModelFeatureConfig) buildIndex() {
	c.index = make([]map[int64]int, len(c.IDListFeatureConfigs))
	c.indexed = make([][]int64, len(c.IDListFeatureConfigs))
	for i, f := range c.IDListFeatureConfigs {
		ids := c.IDMappingConfig[f.IDMappingName].IDs
		c.index[i] = make(map[int64]int, len(ids))
		for row, id := range ids {
			c.index[i][id] = row
		}
		c.indexed[i] = slices.Clone(ids)
	}
}

// staleIndex returns whether the features or id mappings changed since
// the index was built
func (c *ModelFeatureConfig) staleIndex() bool {
	if len(c.indexed) != len(c.IDListFeatureConfigs) {
		return true
	}
	for i, f := range c.IDListFeatureConfigs {
		if !slices.Equal(c.indexed[i], c.IDMappingConfig[f.IDMappingName].IDs) {
			return true
		}
	}
	return false
}

// Bags converts raw id lists, keyed by feature id, into mean-pooled
// bags: for the i-th id-list feature, a VocabSize(i) long vector in
// which every known id of the list contributes 1/n, where n is the
// number of known ids in the list. Unknown ids are skipped. Absent or
// empty lists produce zero vectors.
func (c *ModelFeatureConfig) Bags(idLists map[int][]int64) ([][]float64,
	error) {
	if c.staleIndex() {
		if err := c.Validate(); err != nil {
			return nil, errors.Wrap(err, "bags")
		}
	}

	bags := make([][]float64, len(c.IDListFeatureConfigs))
	for i, f := range c.IDListFeatureConfigs {
		bag := make([]float64, len(c.index[i]))
		bags[i] = bag

		rows := make([]int, 0, len(idLists[f.FeatureID]))
		for _, id := range idLists[f.FeatureID] {
			if row, ok := c.index[i][id]; ok {
				rows = append(rows, row)
			}
		}
		if len(rows) == 0 {
			continue
		}

		weight := 1.0 / float64(len(rows))
		for _, row := range rows {
			bag[row] += weight
		}
	}
	return bags, nil
}
