package modelmanager

import (
	"io"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/netbuilder"
	"github.com/samuelfneumann/offlineq/network"
	"github.com/samuelfneumann/offlineq/normalization"
	"github.com/samuelfneumann/offlineq/rl"
	"github.com/samuelfneumann/offlineq/serving"
	"github.com/samuelfneumann/offlineq/trainer"
	"k8s.io/klog/v2"
)

// ParametricDQN manages a DQN model whose actions are described by
// features, so that the Q network scores state-action pairs
type ParametricDQN struct {
	TrainerParam trainer.ParametricDQNTrainerParameters `json:"trainer_param"`
	NetBuilder   netbuilder.ParametricDQNNetBuilderUnion `json:"net_builder"`

	q      *network.ParametricQNetwork
	reward *network.ParametricQNetwork
}

// NewParametricDQN returns a ParametricDQN with the default trainer
// parameters and a FullyConnected net builder
func NewParametricDQN() *ParametricDQN {
	return &ParametricDQN{
		TrainerParam: trainer.DefaultParametricDQNTrainerParameters(),
		NetBuilder: netbuilder.ParametricDQNNetBuilderUnion{
			ParametricDQNNetBuilder: netbuilder.NewFullyConnected(),
		},
	}
}

// RLParameters returns the reinforcement learning parameters of the
// model
func (m *ParametricDQN) RLParameters() rl.Parameters {
	return m.TrainerParam.RL
}

// NormalizationKeys implements the ModelManager interface
func (m *ParametricDQN) NormalizationKeys() []string {
	return []string{normalization.State, normalization.Action}
}

// Validate implements the ModelManager interface
func (m *ParametricDQN) Validate() error {
	if err := m.TrainerParam.Validate(); err != nil {
		return errors.Wrap(err, "validate: trainer parameters")
	}
	builder, err := m.NetBuilder.Value()
	if err != nil {
		return errors.Wrap(err, "validate")
	}
	return errors.Wrap(builder.Validate(), "validate: net builder")
}

// QNetwork returns the Q network built by BuildTrainer, or nil
func (m *ParametricDQN) QNetwork() *network.ParametricQNetwork {
	return m.q
}

// RewardNetwork returns the reward network built by BuildTrainer, or
// nil
func (m *ParametricDQN) RewardNetwork() *network.ParametricQNetwork {
	return m.reward
}

// BuildTrainer implements the ModelManager interface. The Q network
// has a single output, and the reward network predicts the reward
// followed by each metric of MetricsToScore.
func (m *ParametricDQN) BuildTrainer(normMap map[string]normalization.Data,
	useGPU bool, rewardOptions *RewardOptions) (trainer.Trainer, error) {
	t, err := m.buildTrainer(normMap, useGPU, rewardOptions)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (m *ParametricDQN) buildTrainer(normMap map[string]normalization.Data,
	useGPU bool,
	rewardOptions *RewardOptions) (*trainer.ParametricDQNTrainer, error) {
	if err := m.Validate(); err != nil {
		return nil, errors.Wrap(err, "buildTrainer")
	}
	if useGPU {
		klog.Warning("GPU training requested, but only the CPU backend " +
			"is available")
	}

	stateNorm, err := normalization.Lookup(normMap, normalization.State)
	if err != nil {
		return nil, errors.Wrap(err, "buildTrainer")
	}
	actionNorm, err := normalization.Lookup(normMap, normalization.Action)
	if err != nil {
		return nil, errors.Wrap(err, "buildTrainer")
	}

	builder, _ := m.NetBuilder.Value()
	q, err := builder.BuildQNetwork(stateNorm, actionNorm, 1)
	if err != nil {
		return nil, errors.Wrap(err, "buildTrainer: q network")
	}

	// Metrics + reward
	if rewardOptions == nil {
		rewardOptions = &RewardOptions{}
	}
	metrics := MetricsToScore(rewardOptions.MetricRewardValues)
	reward, err := builder.BuildQNetwork(stateNorm, actionNorm,
		len(metrics)+1)
	if err != nil {
		return nil, errors.Wrap(err, "buildTrainer: reward network")
	}

	target, err := q.TargetNetwork()
	if err != nil {
		return nil, errors.Wrap(err, "buildTrainer: target network")
	}

	batcher, err := trainer.NewParametricBatcher(stateNorm, actionNorm,
		metrics, m.TrainerParam.RL)
	if err != nil {
		return nil, errors.Wrap(err, "buildTrainer")
	}
	t, err := trainer.NewParametricDQNTrainer(q, target, reward,
		m.TrainerParam, batcher)
	if err != nil {
		return nil, errors.Wrap(err, "buildTrainer")
	}

	m.q, m.reward = q, reward
	klog.Infof("Built parametric DQN: %s q network parameters, %s reward "+
		"network parameters, %d metrics", humanize.Comma(int64(q.NumParameters())),
		humanize.Comma(int64(reward.NumParameters())), len(metrics))
	return t, nil
}

// BuildServingModule implements the ModelManager interface. The module
// is a *serving.ParametricPredictor.
func (m *ParametricDQN) BuildServingModule(
	normMap map[string]normalization.Data) (serving.Module, error) {
	p, err := m.buildServingModule(normMap)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (m *ParametricDQN) buildServingModule(
	normMap map[string]normalization.Data) (*serving.ParametricPredictor,
	error) {
	if m.q == nil {
		return nil, errors.Wrap(ErrTrainerNotBuilt, "buildServingModule")
	}

	stateNorm, err := normalization.Lookup(normMap, normalization.State)
	if err != nil {
		return nil, errors.Wrap(err, "buildServingModule")
	}
	actionNorm, err := normalization.Lookup(normMap, normalization.Action)
	if err != nil {
		return nil, errors.Wrap(err, "buildServingModule")
	}

	builder, err := m.NetBuilder.Value()
	if err != nil {
		return nil, errors.Wrap(err, "buildServingModule")
	}
	return builder.BuildServingModule(m.q, stateNorm, actionNorm)
}

// SaveServingModule implements the ModelManager interface
func (m *ParametricDQN) SaveServingModule(w io.Writer,
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
		Type:          ParametricDQNType,
		NetBuilder:    builder,
		Normalization: norm,
		Weights:       m.q.Weights(),
	}), "saveServingModule")
}
