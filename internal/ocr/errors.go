package ocr

import (
	"errors"
	"fmt"
)

// Stage names the step of the OCR call protocol that failed.
type Stage string

const (
	// StageUpload covers reading the input and uploading it to the provider.
	StageUpload Stage = "upload"

	// StageSign covers requesting the signed retrieval URL for an uploaded file.
	StageSign Stage = "sign"

	// StageOCR covers the recognition request and its response.
	StageOCR Stage = "ocr"
)

// Common OCR processing errors
var (
	// ErrMissingAPIKey is returned when no provider API key is configured.
	// It is detected before any network call is made.
	ErrMissingAPIKey = errors.New("OCR API key not configured")

	// ErrUnsupportedProvider is returned by NewService for an unknown provider name.
	ErrUnsupportedProvider = errors.New("unsupported OCR provider")

	// ErrFileTooLarge is returned when the input exceeds the provider's size limit.
	ErrFileTooLarge = errors.New("file exceeds the maximum size limit")

	// ErrEmptyFile is returned when the input contains no bytes.
	ErrEmptyFile = errors.New("file is empty")

	// ErrEmptyResponse is returned when the provider answers without the expected payload.
	ErrEmptyResponse = errors.New("empty response from OCR provider")

	// ErrRequestFailed is returned for non-success HTTP responses without a provider message.
	ErrRequestFailed = errors.New("OCR provider request failed")
)

// ConfigError reports missing or invalid configuration found before any request is sent.
type ConfigError struct {
	// Setting is the configuration entry at fault (e.g. "api_key").
	Setting string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("ocr: invalid configuration %s: %v", e.Setting, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a ConfigError for setting.
func NewConfigError(setting string, err error) *ConfigError {
	return &ConfigError{Setting: setting, Err: err}
}

// OCRError wraps errors with the protocol stage and any HTTP status returned by the provider.
type OCRError struct {
	// Stage is the protocol step that failed.
	Stage Stage

	// Err is the underlying error. Its message is the provider's message when one was returned.
	Err error

	// Details provides additional context about the failure.
	Details string

	// Status is the HTTP status code, or 0 when no response was received.
	Status int

	// StatusText is the HTTP status text, or the RPC code name for gRPC back-ends.
	StatusText string
}

// Error implements the error interface.
func (e *OCRError) Error() string {
	msg := fmt.Sprintf("ocr: %s failed", e.Stage)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (%d %s)", e.Status, e.StatusText)
	} else if e.StatusText != "" {
		msg += fmt.Sprintf(" (%s)", e.StatusText)
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *OCRError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *OCRError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewOCRError creates a new OCRError for the given stage and underlying error.
func NewOCRError(stage Stage, err error, details string) *OCRError {
	return &OCRError{
		Stage:   stage,
		Err:     err,
		Details: details,
	}
}

// WrapOCRError wraps an error as an OCRError if it isn't already one.
// Configuration errors pass through unchanged.
func WrapOCRError(stage Stage, err error, details string) error {
	if err == nil {
		return nil
	}

	var ocrErr *OCRError
	if errors.As(err, &ocrErr) {
		return err // Already wrapped
	}

	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return err
	}

	return NewOCRError(stage, err, details)
}
