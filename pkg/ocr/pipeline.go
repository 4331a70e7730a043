package ocr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Status is the state of the screenshot field while a pipeline run is in flight or done.
type Status string

const (
	StatusEmpty             Status = "empty"
	StatusProcessing        Status = "processing"
	StatusRecognized        Status = "recognized"
	StatusRecognitionFailed Status = "recognition_failed"
)

// Result is the outcome of one Scan. Err is set whenever Status is
// StatusRecognitionFailed; ErrNoTransactionID marks an extraction miss.
type Result struct {
	Status        Status
	TransactionID string
	Rule          string
	Text          string
	Preprocessed  bool
	Duration      time.Duration
	Err           error
}

// Pipeline runs preprocessing, recognition and extraction for one image.
type Pipeline struct {
	Engine    Engine
	Extractor *Extractor
	Options   RecognizeOptions
	Logger    *zap.Logger
}

// NewPipeline builds a pipeline with the default extractor and recognition options.
func NewPipeline(engine Engine, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		Engine:    engine,
		Extractor: NewExtractor(),
		Options:   DefaultRecognizeOptions(),
		Logger:    logger,
	}
}

// Scan never fails hard: every problem degrades to StatusRecognitionFailed so the
// caller can fall back to manual entry.
func (p *Pipeline) Scan(ctx context.Context, data []byte) (res Result) {
	start := time.Now()
	res.Status = StatusRecognitionFailed
	defer func() { res.Duration = time.Since(start) }()

	img, err := Preprocess(data)
	if err != nil {
		p.Logger.Warn("preprocess failed, recognizing original image", zap.Error(err))
	} else {
		res.Preprocessed = true
	}

	if p.Engine == nil {
		res.Err = errors.New("no recognition engine configured")
		return res
	}
	text, err := p.Engine.Recognize(ctx, img, p.Options)
	if err != nil {
		res.Err = fmt.Errorf("recognize: %w", err)
		p.Logger.Warn("recognition failed", zap.Error(err))
		return res
	}
	res.Text = text

	m, err := p.Extractor.Extract(text)
	if err != nil {
		res.Err = err
		p.Logger.Info("no transaction id in recognized text", zap.String("text", snippet(NormalizeText(text), 160)))
		return res
	}
	res.Status = StatusRecognized
	res.TransactionID = m.ID
	res.Rule = m.Rule
	p.Logger.Info("transaction id recognized",
		zap.String("transaction_id", m.ID),
		zap.String("rule", m.Rule),
		zap.Bool("preprocessed", res.Preprocessed))
	return res
}
