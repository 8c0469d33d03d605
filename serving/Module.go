package serving

// Module is a serving module built from a trained network
type Module interface {
	Close() error
}

var (
	_ Module = (*ParametricPredictor)(nil)
	_ Module = (*DiscretePredictor)(nil)
)
