package modelmanager

import (
	"io"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/features"
	"github.com/samuelfneumann/offlineq/netbuilder"
	"github.com/samuelfneumann/offlineq/network"
	"github.com/samuelfneumann/offlineq/normalization"
	"github.com/samuelfneumann/offlineq/rl"
	"github.com/samuelfneumann/offlineq/serving"
	"github.com/samuelfneumann/offlineq/trainer"
	"k8s.io/klog/v2"
)

// DiscreteDQN manages a DQN model over a discrete set of named actions.
// The state may include id-list features described by
// StateFeatureConfig.
type DiscreteDQN struct {
	TrainerParam       trainer.DQNTrainerParameters          `json:"trainer_param"`
	NetBuilder         netbuilder.DiscreteDQNNetBuilderUnion `json:"net_builder"`
	StateFeatureConfig *features.ModelFeatureConfig          `json:"state_feature_config,omitempty"`

	q *network.DiscreteQNetwork
}

// NewDiscreteDQN returns a DiscreteDQN with the default trainer
// parameters and a FullyConnectedWithEmbedding net builder. Actions
// must still be set.
func NewDiscreteDQN() *DiscreteDQN {
	return &DiscreteDQN{
		TrainerParam: trainer.DefaultDQNTrainerParameters(),
		NetBuilder: netbuilder.DiscreteDQNNetBuilderUnion{
			DiscreteDQNWithIdListNetBuilder: netbuilder.NewFullyConnectedWithEmbedding(),
		},
	}
}

// RLParameters returns the reinforcement learning parameters of the
// model
func (m *DiscreteDQN) RLParameters() rl.Parameters {
	return m.TrainerParam.RL
}

// NormalizationKeys implements the ModelManager interface
func (m *DiscreteDQN) NormalizationKeys() []string {
	return []string{normalization.State}
}

// Validate implements the ModelManager interface
func (m *DiscreteDQN) Validate() error {
	if err := m.TrainerParam.Validate(); err != nil {
		return errors.Wrap(err, "validate: trainer parameters")
	}
	builder, err := m.NetBuilder.Value()
	if err != nil {
		return errors.Wrap(err, "validate")
	}
	if err := builder.Validate(); err != nil {
		return errors.Wrap(err, "validate: net builder")
	}
	if m.StateFeatureConfig != nil {
		if err := m.StateFeatureConfig.Validate(); err != nil {
			return errors.Wrap(err, "validate: state feature config")
		}
	}
	return nil
}

// QNetwork returns the Q network built by BuildTrainer, or nil
func (m *DiscreteDQN) QNetwork() *network.DiscreteQNetwork {
	return m.q
}

// featureConfig returns the feature config of the id-list features
// used by the built network
func (m *DiscreteDQN) featureConfig() *features.ModelFeatureConfig {
	if m.q == nil || len(m.q.Config().VocabSizes) == 0 {
		return nil
	}
	return m.StateFeatureConfig
}

// BuildTrainer implements the ModelManager interface. The Q network has
// one output per action. Discrete models have no reward network, so
// metrics of the reward options are not predicted.
func (m *DiscreteDQN) BuildTrainer(normMap map[string]normalization.Data,
	useGPU bool, rewardOptions *RewardOptions) (trainer.Trainer, error) {
	t, err := m.buildTrainer(normMap, useGPU, rewardOptions)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (m *DiscreteDQN) buildTrainer(normMap map[string]normalization.Data,
	useGPU bool, rewardOptions *RewardOptions) (*trainer.DQNTrainer, error) {
	if err := m.Validate(); err != nil {
		return nil, errors.Wrap(err, "buildTrainer")
	}
	if useGPU {
		klog.Warning("GPU training requested, but only the CPU backend " +
			"is available")
	}
	if rewardOptions != nil && len(rewardOptions.MetricRewardValues) > 0 {
		klog.V(1).Infof("Discrete DQN does not predict metrics, ignoring "+
			"%d metrics", len(rewardOptions.MetricRewardValues))
	}

	stateNorm, err := normalization.Lookup(normMap, normalization.State)
	if err != nil {
		return nil, errors.Wrap(err, "buildTrainer")
	}

	builder, _ := m.NetBuilder.Value()
	actions := m.TrainerParam.Actions
	q, err := builder.BuildQNetwork(m.StateFeatureConfig, stateNorm,
		len(actions))
	if err != nil {
		return nil, errors.Wrap(err, "buildTrainer: q network")
	}
	target, err := q.TargetNetwork()
	if err != nil {
		return nil, errors.Wrap(err, "buildTrainer: target network")
	}

	m.q = q
	batcher, err := trainer.NewDiscreteBatcher(stateNorm, m.featureConfig(),
		actions, m.TrainerParam.RL)
	if err != nil {
		m.q = nil
		return nil, errors.Wrap(err, "buildTrainer")
	}
	t, err := trainer.NewDQNTrainer(q, target, m.TrainerParam, batcher)
	if err != nil {
		m.q = nil
		return nil, errors.Wrap(err, "buildTrainer")
	}

	klog.Infof("Built discrete DQN: %s q network parameters, %d actions",
		humanize.Comma(int64(q.NumParameters())), len(actions))
	return t, nil
}

// BuildServingModule implements the ModelManager interface. The module
// is a *serving.DiscretePredictor following the softmax or greedy
// policy of the RL parameters.
func (m *DiscreteDQN) BuildServingModule(
	normMap map[string]normalization.Data) (serving.Module, error) {
	p, err := m.buildServingModule(normMap)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (m *DiscreteDQN) buildServingModule(
	normMap map[string]normalization.Data) (*serving.DiscretePredictor,
	error) {
	if m.q == nil {
		return nil, errors.Wrap(ErrTrainerNotBuilt, "buildServingModule")
	}

	stateNorm, err := normalization.Lookup(normMap, normalization.State)
	if err != nil {
		return nil, errors.Wrap(err, "buildServingModule")
	}
	builder, err := m.NetBuilder.Value()
	if err != nil {
		return nil, errors.Wrap(err, "buildServingModule")
	}

	p, err := builder.BuildServingModule(m.q, m.featureConfig(), stateNorm,
		m.TrainerParam.Actions)
	if err != nil {
		return nil, errors.Wrap(err, "buildServingModule")
	}
	if err := p.SetPolicy(policy(m.TrainerParam.RL)); err != nil {
		return nil, errors.Wrap(err, "buildServingModule")
	}
	return p, nil
}

// SaveServingModule implements the ModelManager interface
func (m *DiscreteDQN) SaveServingModule(w io.Writer,
	normMap map[string]normalization.Data) error {
	if m.q == nil {
		return errors.Wrap(ErrTrainerNotBuilt, "saveServingModule")
	}

	builder, err := m.NetBuilder.MarshalJSON()
	if err != nil {
		return errors.Wrap(err, "saveServingModule")
	}
	norm, err := selectSlots(normMap, m.NormalizationKeys())
	if err != nil {
		return errors.Wrap(err, "saveServingModule")
	}

	return errors.Wrap(writeSnapshot(w, snapshot{
		Type:          DiscreteDQNType,
		NetBuilder:    builder,
		Normalization: norm,
		FeatureConfig: m.StateFeatureConfig,
		Actions:       m.TrainerParam.Actions,
		Policy:        policy(m.TrainerParam.RL),
		Weights:       m.q.Weights(),
	}), "saveServingModule")
}

func policy(params rl.Parameters) serving.Policy {
	return serving.Policy{
		Softmax:     params.SoftmaxPolicy,
		Temperature: params.Temperature,
	}
}
