package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"payproof/pkg/ocr"
)

// Scanner turns a screenshot into a recognition result. *ocr.Pipeline satisfies it.
type Scanner interface {
	Scan(ctx context.Context, image []byte) ocr.Result
}

// Form is the payment form behind the screenshot upload. Selecting a screenshot
// starts a recognition run; only the most recent run may change the form.
type Form struct {
	scanner Scanner
	now     func() time.Time

	mu         sync.Mutex
	gen        uint64
	cancel     context.CancelFunc
	state      ocr.Status
	last       ocr.Result
	screenshot []byte
	method     string
	amount     int64
	txID       string
	autoFilled bool // txID came from recognition, not from SetTransactionID
	submitting bool
}

func NewForm(scanner Scanner) *Form {
	return &Form{scanner: scanner, now: time.Now, state: ocr.StatusEmpty}
}

// SelectScreenshot replaces the chosen image and starts recognition on it. Any
// run still in flight is canceled and its result discarded. The returned channel
// is closed once this run has settled.
func (f *Form) SelectScreenshot(ctx context.Context, image []byte) <-chan struct{} {
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
	}
	f.gen++
	gen := f.gen
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.screenshot = image
	f.state = ocr.StatusProcessing
	f.last = ocr.Result{Status: ocr.StatusProcessing}
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		f.apply(gen, f.scanner.Scan(runCtx, image))
	}()
	return done
}

func (f *Form) apply(gen uint64, res ocr.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		return
	}
	f.cancel = nil
	f.last = res
	if res.Status == ocr.StatusRecognized {
		f.state = ocr.StatusRecognized
		f.txID = res.TransactionID
		f.autoFilled = true
		return
	}
	f.state = ocr.StatusRecognitionFailed
	if f.autoFilled {
		f.txID = ""
		f.autoFilled = false
	}
}

// ClearScreenshot drops the chosen image and abandons any run in flight.
func (f *Form) ClearScreenshot() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.gen++
	f.screenshot = nil
	f.state = ocr.StatusEmpty
	f.last = ocr.Result{Status: ocr.StatusEmpty}
}

func (f *Form) SetMethod(m string) {
	f.mu.Lock()
	f.method = m
	f.mu.Unlock()
}

func (f *Form) SetAmount(amount int64) {
	f.mu.Lock()
	f.amount = amount
	f.mu.Unlock()
}

// SetTransactionID records a manual entry or an edit of the recognized value.
func (f *Form) SetTransactionID(id string) {
	f.mu.Lock()
	f.txID = id
	f.autoFilled = false
	f.mu.Unlock()
}

func (f *Form) State() ocr.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Form) TransactionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txID
}

// LastResult returns the outcome of the current run.
func (f *Form) LastResult() ocr.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Validate reports every missing required field at once. A failed or pending
// recognition does not block submission when an ID was typed in.
func (f *Form) Validate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validateLocked()
}

func (f *Form) validateLocked() error {
	var errs []error
	if _, err := ParseMethod(f.method); err != nil {
		errs = append(errs, err)
	}
	if len(f.screenshot) == 0 {
		errs = append(errs, ErrScreenshotRequired)
	}
	if strings.TrimSpace(f.txID) == "" {
		errs = append(errs, ErrTransactionIDRequired)
	}
	if f.amount < 0 {
		errs = append(errs, ErrInvalidAmount)
	}
	return errors.Join(errs...)
}

// Submit validates the form and writes one pending_verification record. A store
// failure is returned as is; nothing is retried.
func (f *Form) Submit(ctx context.Context, who Identity, store RecordStore) (Submission, error) {
	if strings.TrimSpace(who.UserID) == "" {
		return Submission{}, ErrUserRequired
	}
	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return Submission{}, ErrSubmitInProgress
	}
	if err := f.validateLocked(); err != nil {
		f.mu.Unlock()
		return Submission{}, err
	}
	method, _ := ParseMethod(f.method)
	sub := Submission{
		UserID:        strings.TrimSpace(who.UserID),
		Email:         strings.TrimSpace(who.Email),
		Method:        method,
		TransactionID: strings.TrimSpace(f.txID),
		Amount:        f.amount,
		Status:        StatusPendingVerification,
		SubmittedAt:   f.now().UTC(),
	}
	f.submitting = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.submitting = false
		f.mu.Unlock()
	}()
	if err := store.SavePayment(ctx, sub); err != nil {
		return Submission{}, fmt.Errorf("save payment: %w", err)
	}
	return sub, nil
}
