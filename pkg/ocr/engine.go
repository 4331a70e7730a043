package ocr

import "context"

// Whitelist restricts recognition to the characters a transaction reference can contain.
const Whitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789:- "

// PageSegMode selects how the engine splits the page before recognition.
type PageSegMode int

const (
	PageSegAuto PageSegMode = iota
	// PageSegSingleBlock treats the image as one uniform block of text, which fits
	// screenshots of short confirmation messages.
	PageSegSingleBlock
	PageSegSingleLine
	PageSegSparseText
)

// RecognizeOptions configures a single recognition call.
type RecognizeOptions struct {
	Languages      []string
	Whitelist      string
	PageSeg        PageSegMode
	TessdataPrefix string
}

// DefaultRecognizeOptions returns the options used for payment screenshots.
func DefaultRecognizeOptions() RecognizeOptions {
	return RecognizeOptions{
		Languages: []string{"eng"},
		Whitelist: Whitelist,
		PageSeg:   PageSegSingleBlock,
	}
}

// Engine turns image bytes into raw recognized text. Implementations must honour
// ctx cancellation; recognition is slow and callers wait for it asynchronously.
type Engine interface {
	Recognize(ctx context.Context, image []byte, opts RecognizeOptions) (string, error)
}

// EngineFunc adapts a plain function to Engine.
type EngineFunc func(ctx context.Context, image []byte, opts RecognizeOptions) (string, error)

func (f EngineFunc) Recognize(ctx context.Context, image []byte, opts RecognizeOptions) (string, error) {
	return f(ctx, image, opts)
}
