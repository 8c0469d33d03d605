// Package checkpointer implements checkpointing of objects during an
// experiment
package checkpointer

// Saver is an object that can be saved to a file
type Saver interface {
	Save(filename string) error
}

// SaverFunc adapts a function to the Saver interface
type SaverFunc func(filename string) error

// Save calls f(filename)
func (f SaverFunc) Save(filename string) error {
	return f(filename)
}

// Checkpointer checkpoints/saves objects based on the number of
// training steps taken
type Checkpointer interface {
	Checkpoint(step int) error
}
