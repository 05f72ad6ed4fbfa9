// Package convert runs a single file through OCR and stores the result in the vault.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ocrnote/internal/logger"
	"ocrnote/internal/materialize"
	"ocrnote/internal/notify"
	"ocrnote/internal/ocr"
	"ocrnote/internal/settings"
	"ocrnote/internal/vault"
)

// User-facing notices.
const (
	msgMissingAPIKey = "Mistral API key not configured. Please set it with 'ocrnote settings set api-key <key>' or MISTRAL_API_KEY."
	msgReadFailed    = "Error reading file. Please try again."
	msgSaveFailed    = "Error processing OCR result. Check the log for details."
	msgFailed        = "Error processing file. Check the log for details."
)

// ProcessOptions are the per-conversion choices.
type ProcessOptions struct {
	// Title is the note title. Empty means derive it from the result.
	Title string

	// SaveBase64AsAttachment writes embedded images as attachment files instead of inlining them.
	SaveBase64AsAttachment bool
}

// Result describes a finished conversion.
type Result struct {
	RequestID string `json:"request_id"`
	Source    string `json:"source"`
	Provider  string `json:"provider"`
	Model     string `json:"model,omitempty"`
	PageCount int    `json:"page_count"`

	*materialize.Outcome

	// SkippedImages counts images left out because their data was invalid.
	SkippedImages int `json:"skipped_images"`

	Duration time.Duration `json:"duration"`
}

// Converter wires the OCR provider, the vault and the user's settings together.
type Converter struct {
	storage  vault.Storage
	notifier notify.Notifier
	settings settings.PluginSettings
	options  ocr.Options

	newService func(ctx context.Context, opts ocr.Options) (ocr.OCRService, error)
}

// New creates a Converter. Provider, API key and model come from s and
// override the matching fields of opts when set.
func New(storage vault.Storage, notifier notify.Notifier, s settings.PluginSettings, opts ocr.Options) *Converter {
	if s.Provider != "" {
		opts.Provider = s.Provider
	}
	if s.APIKey != "" {
		opts.Mistral.APIKey = s.APIKey
	}
	if s.Model != "" {
		opts.Mistral.Model = s.Model
	}

	return &Converter{
		storage:    storage,
		notifier:   notifier,
		settings:   s,
		options:    opts,
		newService: ocr.NewService,
	}
}

// Convert recognizes the file read from data and writes the note. path names
// the source file; it selects how the file is submitted and is the last
// resort for the note title. Every failure is also reported to the notifier.
func (c *Converter) Convert(ctx context.Context, path string, data io.Reader, opts ProcessOptions) (*Result, error) {
	requestID := uuid.NewString()
	log := logger.WithRequestID(requestID).With().
		Str("component", "converter").
		Str("source", path).
		Str("provider", c.provider()).
		Logger()

	startTime := time.Now()

	service, err := c.newService(ctx, c.options)
	if err != nil {
		return nil, c.fail(log, err)
	}

	c.notifier.Notify(fmt.Sprintf("Processing file with %s OCR...", c.providerLabel()))
	log.Info().Msg("Starting conversion")

	result, err := service.ProcessFile(ctx, path, data)
	if err != nil {
		return nil, c.fail(log, err)
	}

	m := materialize.New(c.storage, c.notifier, c.settings.DupPolicy())
	outcome, err := m.Materialize(ctx, result, materialize.Request{
		Title:                  opts.Title,
		SourcePath:             path,
		NoteFolder:             c.settings.NoteFolder,
		AttachmentFolder:       c.settings.AttachmentFolder,
		SaveBase64AsAttachment: opts.SaveBase64AsAttachment,
	})
	if err != nil {
		return nil, c.fail(log, err)
	}

	skipped := countSkipped(outcome.Skipped)
	if skipped > 0 {
		log.Warn().Err(outcome.Skipped).Int("skipped", skipped).Msg("Some images could not be saved")
		c.notifier.Notify(fmt.Sprintf("Skipped %d image(s) with invalid data.", skipped))
	}

	res := &Result{
		RequestID:     requestID,
		Source:        path,
		Provider:      c.provider(),
		Model:         result.Model,
		PageCount:     result.PageCount,
		Outcome:       outcome,
		SkippedImages: skipped,
		Duration:      time.Since(startTime),
	}

	log.Info().
		Str("note", outcome.NotePath).
		Int("page_count", res.PageCount).
		Int("images", len(outcome.Images)).
		Dur("duration", res.Duration).
		Msg("Conversion completed")

	return res, nil
}

// fail logs err, shows the matching notice and returns err unchanged.
func (c *Converter) fail(log zerolog.Logger, err error) error {
	log.Error().Err(err).Msg("Conversion failed")
	c.notifier.Notify(Notice(err))
	return err
}

func (c *Converter) provider() string {
	if c.options.Provider == "" {
		return ocr.ProviderMistral
	}
	return c.options.Provider
}

func (c *Converter) providerLabel() string {
	switch c.provider() {
	case ocr.ProviderVision:
		return "Google Vision"
	case ocr.ProviderDocumentAI:
		return "Google Document AI"
	default:
		return "Mistral AI"
	}
}

// Notice returns the one-line message shown to the user for a conversion error.
func Notice(err error) string {
	var (
		cfgErr *ocr.ConfigError
		ocrErr *ocr.OCRError
		ioErr  *vault.IOError
	)

	switch {
	case errors.Is(err, ocr.ErrMissingAPIKey):
		return msgMissingAPIKey
	case errors.As(err, &cfgErr):
		return cfgErr.Error()
	case errors.As(err, &ocrErr):
		if ocrErr.Status != 0 {
			return fmt.Sprintf("API Error: %d %s", ocrErr.Status, ocrErr.StatusText)
		}
		if ocrErr.Stage == ocr.StageUpload && errors.Is(err, ocr.ErrEmptyFile) {
			return msgReadFailed
		}
		return ocrErr.Err.Error()
	case errors.As(err, &ioErr):
		return msgSaveFailed
	default:
		return msgFailed
	}
}

// countSkipped counts the DecodeErrors joined in err.
func countSkipped(err error) int {
	if err == nil {
		return 0
	}
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return 1
	}
	return len(joined.Unwrap())
}
