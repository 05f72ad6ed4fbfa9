// Package ocr converts images and PDF documents into markdown using a cloud OCR provider.
//
// The default provider is Mistral OCR, which returns one markdown page per
// document page together with the images embedded in it. Google Cloud Vision
// and Google Document AI are available as text-only alternatives.
//
// Mistral OCR call protocol:
//   - Upload the file with purpose "ocr" and obtain a file id
//   - Request a signed, time-limited URL for the uploaded file
//   - Submit the URL for recognition as an image_url or document_url
//   - Join the returned pages' markdown with a blank line and collect their images
//
// Required Environment Variables (Mistral):
//   - MISTRAL_API_KEY: API key, unless stored in the settings file
//
// Required Environment Variables (Google back-ends):
//   - GOOGLE_APPLICATION_CREDENTIALS: Path to service account JSON file, OR
//   - GOOGLE_CREDENTIALS: Inline JSON credentials string
//   - GOOGLE_CLOUD_PROJECT, GOOGLE_CLOUD_LOCATION, DOCUMENT_AI_PROCESSOR_ID (Document AI only)
//
// Every call is sequential and all-or-nothing: there are no retries and no
// partial results. Failures are reported as *OCRError carrying the failed
// stage, or *ConfigError when the client is not configured.
package ocr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider names accepted by NewService.
const (
	ProviderMistral    = "mistral"
	ProviderVision     = "vision"
	ProviderDocumentAI = "documentai"
)

// OCRService defines the interface for OCR providers.
type OCRService interface {
	// ProcessFile recognizes the file read from data. pathHint is the original
	// file name or path; its extension decides how the file is submitted.
	ProcessFile(ctx context.Context, pathHint string, data io.Reader) (*OCRResult, error)
}

// OCRResult is the provider-independent outcome of one OCR call.
type OCRResult struct {
	// MarkdownContent is the whole document as markdown, pages separated by a blank line.
	MarkdownContent string `json:"markdown_content"`

	// Images are the images embedded in the document, in the order they were encountered.
	Images []Image `json:"images"`

	// PageCount is the number of pages the provider returned.
	PageCount int `json:"page_count"`

	// Model is the provider model that produced the result, if reported.
	Model string `json:"model,omitempty"`

	// ProcessedAt is the timestamp when the OCR processing completed.
	ProcessedAt time.Time `json:"processed_at"`

	// ProcessingDuration is how long the whole call protocol took.
	ProcessingDuration time.Duration `json:"processing_duration"`
}

// Image is an image the provider extracted from the document.
type Image struct {
	// ID is the provider's identifier, also used as the reference inside MarkdownContent.
	ID string `json:"id"`

	// Name is the file name to store the image under. Defaults to ID.
	Name string `json:"name"`

	// Base64Data is the image payload, optionally data URL prefixed. Empty means not embedded.
	Base64Data string `json:"base64_data"`
}

// Options selects and configures an OCR provider.
type Options struct {
	// Provider is one of ProviderMistral, ProviderVision, ProviderDocumentAI. Empty means Mistral.
	Provider string

	// Mistral configures the Mistral provider.
	Mistral MistralConfig

	// DocumentAI configures the Document AI provider.
	DocumentAI DocumentAIConfig

	// HTTPClient overrides the HTTP client used by the Mistral provider.
	HTTPClient *http.Client
}

// NewService creates the OCR provider named in opts.
func NewService(ctx context.Context, opts Options) (OCRService, error) {
	var (
		svc OCRService
		err error
	)

	switch opts.Provider {
	case "", ProviderMistral:
		cfg := opts.Mistral
		if opts.HTTPClient != nil {
			cfg.HTTPClient = opts.HTTPClient
		}
		svc, err = NewMistralOCRService(cfg)
	case ProviderVision:
		svc, err = NewGoogleVisionOCRService(ctx)
	case ProviderDocumentAI:
		svc, err = NewDocumentAIOCRService(ctx, opts.DocumentAI)
	default:
		return nil, NewConfigError("provider", fmt.Errorf("%w: %q", ErrUnsupportedProvider, opts.Provider))
	}

	if err != nil {
		return nil, err
	}
	return svc, nil
}
