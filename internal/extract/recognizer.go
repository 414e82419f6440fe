package extract

import "context"

// Token is one recognized word with the recognizer's confidence on a 0-100 scale.
type Token struct {
	Text       string
	Confidence float64
}

// Recognizer runs character recognition over a preprocessed PNG image.
type Recognizer interface {
	Recognize(ctx context.Context, png []byte) ([]Token, error)
	Close() error
}
