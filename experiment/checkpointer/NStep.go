package checkpointer

// nStep implements checkpointing every N steps
type nStep struct {
	interval int
	object   Saver

	// filename names the file of each checkpoint. FilenameEnumerator
	// numbers checkpoints consecutively and FileTimer stamps them with
	// the time they were taken.
	filename func() string
}

// NewNStep returns a checkpointer that saves object every n training
// steps, e.g.:
//
//	c := NewNStep(10, object, FilenameEnumerator(0, "model", ".gob"))
func NewNStep(n int, object Saver, filename func() string) Checkpointer {
	return &nStep{
		interval: n,
		object:   object,
		filename: filename,
	}
}

// Checkpoint saves the tracked object if step is a positive multiple
// of the interval
func (n *nStep) Checkpoint(step int) error {
	if step > 0 && step%n.interval == 0 {
		return n.object.Save(n.filename())
	}
	return nil
}
