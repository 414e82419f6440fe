package tesseract

import (
	"context"
	"testing"

	"github.com/otiai10/gosseract/v2"
	"github.com/stretchr/testify/assert"
)

func TestRecognizeAfterClose(t *testing.T) {
	r := &Recognizer{clients: make(chan *gosseract.Client)}
	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close(), "closing twice is fine")

	_, err := r.Recognize(context.Background(), []byte("png"))
	assert.ErrorIs(t, err, ErrClosed)
}
