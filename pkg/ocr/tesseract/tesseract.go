// Package tesseract implements ocr.Engine on top of the Tesseract library via gosseract.
// It is kept apart from package ocr so the heuristics and preprocessing build without cgo.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"payproof/pkg/ocr"
)

// Engine creates one gosseract client per call; clients are not safe for concurrent use.
type Engine struct {
	clientFactory func() *gosseract.Client
}

// New constructs a Tesseract-backed engine.
func New() *Engine {
	return &Engine{clientFactory: gosseract.NewClient}
}

// Recognize runs Tesseract in a goroutine so the caller can stop waiting when ctx ends.
// The underlying cgo call cannot be interrupted; its result is discarded in that case.
func (e *Engine) Recognize(ctx context.Context, image []byte, opts ocr.RecognizeOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		text, err := e.recognize(image, opts)
		ch <- result{text: text, err: err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.text, r.err
	}
}

func (e *Engine) recognize(image []byte, opts ocr.RecognizeOptions) (string, error) {
	c := e.clientFactory()
	defer c.Close()
	if opts.TessdataPrefix != "" {
		c.TessdataPrefix = opts.TessdataPrefix
	}
	if len(opts.Languages) > 0 {
		if err := c.SetLanguage(opts.Languages...); err != nil {
			return "", fmt.Errorf("set languages: %w", err)
		}
	}
	if opts.Whitelist != "" {
		if err := c.SetWhitelist(opts.Whitelist); err != nil {
			return "", fmt.Errorf("set whitelist: %w", err)
		}
	}
	if err := c.SetPageSegMode(pageSegMode(opts.PageSeg)); err != nil {
		return "", fmt.Errorf("set page segmentation: %w", err)
	}
	if err := c.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func pageSegMode(m ocr.PageSegMode) gosseract.PageSegMode {
	switch m {
	case ocr.PageSegSingleBlock:
		return gosseract.PSM_SINGLE_BLOCK
	case ocr.PageSegSingleLine:
		return gosseract.PSM_SINGLE_LINE
	case ocr.PageSegSparseText:
		return gosseract.PSM_SPARSE_TEXT
	default:
		return gosseract.PSM_AUTO
	}
}
