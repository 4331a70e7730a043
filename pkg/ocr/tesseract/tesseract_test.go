package tesseract

import (
	"bytes"
	"context"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"payproof/pkg/ocr"
)

func TestRecognizeCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Recognize(ctx, []byte("x"), ocr.DefaultRecognizeOptions()); err != context.Canceled {
		t.Fatalf("expected context.Canceled got %v", err)
	}
}

func TestRecognizeBlankImage(t *testing.T) {
	img := imaging.New(400, 200, color.NRGBA{255, 255, 255, 255})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("encode: %v", err)
	}
	text, err := New().Recognize(context.Background(), buf.Bytes(), ocr.DefaultRecognizeOptions())
	if err != nil {
		t.Skipf("tesseract unavailable: %v", err)
	}
	if _, err := ocr.ExtractTransactionID(text); err != ocr.ErrNoTransactionID {
		t.Fatalf("expected ErrNoTransactionID for blank image, text=%q err=%v", text, err)
	}
}

func TestPageSegMode(t *testing.T) {
	cases := []struct {
		in   ocr.PageSegMode
		want gosseract.PageSegMode
	}{
		{ocr.PageSegAuto, gosseract.PSM_AUTO},
		{ocr.PageSegSingleBlock, gosseract.PSM_SINGLE_BLOCK},
		{ocr.PageSegSingleLine, gosseract.PSM_SINGLE_LINE},
		{ocr.PageSegSparseText, gosseract.PSM_SPARSE_TEXT},
		{ocr.PageSegMode(99), gosseract.PSM_AUTO},
	}
	for _, c := range cases {
		if got := pageSegMode(c.in); got != c.want {
			t.Errorf("pageSegMode(%d) = %v want %v", c.in, got, c.want)
		}
	}
	if got := pageSegMode(ocr.DefaultRecognizeOptions().PageSeg); got != gosseract.PSM_SINGLE_BLOCK {
		t.Fatalf("default options map to %v, want PSM_SINGLE_BLOCK", got)
	}
}
