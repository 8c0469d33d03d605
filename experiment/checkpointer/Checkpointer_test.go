package checkpointer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilenameEnumerator(t *testing.T) {
	next := FilenameEnumerator(0, "out/model", ".bin")
	assert.Equal(t, "out/model1.bin", next())
	assert.Equal(t, "out/model2.bin", next())
}

func TestFileTimer(t *testing.T) {
	name := FileTimer("model", ".bin")()
	assert.True(t, strings.HasPrefix(name, "model-"))
	assert.True(t, strings.HasSuffix(name, ".bin"))
}

func TestNStep(t *testing.T) {
	var saved []string
	c := NewNStep(3, SaverFunc(func(filename string) error {
		saved = append(saved, filename)
		return nil
	}), FilenameEnumerator(0, "ckpt", ""))

	for step := 0; step <= 7; step++ {
		require.NoError(t, c.Checkpoint(step))
	}
	assert.Equal(t, []string{"ckpt1", "ckpt2"}, saved)
}
