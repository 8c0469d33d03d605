// Package dataset implements logged transitions, the records that
// offline deep Q-learning trains from, and reading them from JSON lines
// files.
package dataset

import (
	"bufio"
	"encoding/json"
	"io"
	"math/rand"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Transition is a single logged (s, a, r, s', a') transition.
//
// Dense features are keyed by feature id, id-list features by the
// feature id of the id-list feature. Parametric actions are dense
// features in Action and NextAction, discrete actions are named by
// ActionName and NextActionName.
type Transition struct {
	MDPID          string `json:"mdp_id,omitempty"`
	SequenceNumber int    `json:"sequence_number,omitempty"`

	State       map[int]float64 `json:"state"`
	StateIDList map[int][]int64 `json:"state_id_list,omitempty"`

	Action     map[int]float64 `json:"action,omitempty"`
	ActionName string          `json:"action_name,omitempty"`

	Reward float64 `json:"reward"`

	NextState       map[int]float64 `json:"next_state"`
	NextStateIDList map[int][]int64 `json:"next_state_id_list,omitempty"`

	NextAction     map[int]float64 `json:"next_action,omitempty"`
	NextActionName string          `json:"next_action_name,omitempty"`

	PossibleNextActions     []map[int]float64 `json:"possible_next_actions,omitempty"`
	PossibleNextActionNames []string          `json:"possible_next_action_names,omitempty"`

	NotTerminal bool `json:"not_terminal"`

	// TimeDiff is the number of time steps to the next state. Zero
	// means it was not logged and counts as one step.
	TimeDiff int `json:"time_diff,omitempty"`

	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// ReadJSONL reads one Transition per non-empty line of r
func ReadJSONL(r io.Reader) ([]Transition, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var transitions []Transition
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var t Transition
		if err := json.Unmarshal([]byte(text), &t); err != nil {
			return nil, errors.Wrapf(err, "readJSONL: line %d", line)
		}
		transitions = append(transitions, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "readJSONL")
	}

	return transitions, nil
}

// WriteJSONL writes one Transition per line to w
func WriteJSONL(w io.Writer, transitions []Transition) error {
	enc := json.NewEncoder(w)
	for i, t := range transitions {
		if err := enc.Encode(t); err != nil {
			return errors.Wrapf(err, "writeJSONL: transition %d", i)
		}
	}
	return nil
}

// LoadFile reads the transitions stored in the JSON lines file at path
func LoadFile(path string) ([]Transition, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "loadFile")
	}
	defer file.Close()

	transitions, err := ReadJSONL(file)
	if err != nil {
		return nil, errors.Wrapf(err, "loadFile: %v", path)
	}
	return transitions, nil
}

// Split deterministically shuffles transitions and splits them into a
// training and evaluation set. The evaluation set holds
// floor(evalFraction * len(transitions)) transitions. The argument
// slice is not modified.
func Split(transitions []Transition, evalFraction float64,
	seed int64) (train, eval []Transition, err error) {
	if evalFraction < 0 || evalFraction >= 1 {
		return nil, nil, errors.Errorf("split: eval fraction must be in "+
			"[0, 1)\n\twant([0, 1))\n\thave(%v)", evalFraction)
	}

	shuffled := make([]Transition, len(transitions))
	copy(shuffled, transitions)

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	numEval := int(evalFraction * float64(len(shuffled)))
	return shuffled[numEval:], shuffled[:numEval], nil
}
