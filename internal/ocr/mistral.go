package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"ocrnote/internal/logger"
	"ocrnote/internal/pathutil"
)

const (
	// DefaultMistralBaseURL is the public Mistral API endpoint.
	DefaultMistralBaseURL = "https://api.mistral.ai"

	// DefaultMistralModel is the OCR model requested when none is configured.
	DefaultMistralModel = "mistral-ocr-latest"

	// MaxFileSizeBytes is the largest file the Mistral files API accepts (50MB)
	MaxFileSizeBytes = 50 * 1024 * 1024

	// signedURLExpiryHours is how long the signed retrieval URL stays valid.
	signedURLExpiryHours = 24

	// maxErrorBodyBytes bounds the provider error text carried into OCRError.
	maxErrorBodyBytes = 512
)

// MistralConfig holds configuration for the Mistral OCR provider.
type MistralConfig struct {
	// APIKey is the Mistral API key. Required.
	APIKey string

	// BaseURL is the API root. Default: DefaultMistralBaseURL.
	BaseURL string

	// Model is the OCR model. Default: DefaultMistralModel.
	Model string

	// HTTPClient is the client used for every request. Default: http.DefaultClient.
	// No timeout is imposed beyond the client's own and the request context.
	HTTPClient *http.Client
}

// DefaultMistralConfig returns a MistralConfig with sensible defaults.
func DefaultMistralConfig() MistralConfig {
	return MistralConfig{
		BaseURL: DefaultMistralBaseURL,
		Model:   DefaultMistralModel,
	}
}

// MistralOCRService implements OCRService using the Mistral OCR API.
type MistralOCRService struct {
	config MistralConfig
	client *http.Client
	log    zerolog.Logger
}

// NewMistralOCRService creates a Mistral OCR client. It fails with a
// *ConfigError wrapping ErrMissingAPIKey when cfg.APIKey is empty.
func NewMistralOCRService(cfg MistralConfig) (*MistralOCRService, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, NewConfigError("api_key", ErrMissingAPIKey)
	}

	defaults := DefaultMistralConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &MistralOCRService{
		config: cfg,
		client: client,
		log:    logger.WithComponent("mistral-ocr"),
	}, nil
}

// Mistral wire types.
type (
	mistralUploadResponse struct {
		ID       string `json:"id"`
		Object   string `json:"object"`
		Bytes    int64  `json:"bytes"`
		Filename string `json:"filename"`
		Purpose  string `json:"purpose"`
	}

	mistralSignedURLResponse struct {
		URL string `json:"url"`
	}

	mistralDocument struct {
		Type        string `json:"type"`
		DocumentURL string `json:"document_url,omitempty"`
		ImageURL    string `json:"image_url,omitempty"`
	}

	mistralOCRRequest struct {
		Model              string          `json:"model"`
		Document           mistralDocument `json:"document"`
		IncludeImageBase64 bool            `json:"include_image_base64"`
	}

	mistralOCRImage struct {
		ID          string  `json:"id"`
		ImageBase64 *string `json:"image_base64"`
	}

	mistralOCRPage struct {
		Index    int               `json:"index"`
		Markdown string            `json:"markdown"`
		Images   []mistralOCRImage `json:"images"`
	}

	mistralOCRResponse struct {
		Pages     []mistralOCRPage `json:"pages"`
		Model     string           `json:"model"`
		UsageInfo struct {
			PagesProcessed int `json:"pages_processed"`
		} `json:"usage_info"`
	}
)

// ProcessFile uploads the file, obtains a signed URL for it and submits that
// URL for OCR. Images are requested inline as base64.
func (m *MistralOCRService) ProcessFile(ctx context.Context, pathHint string, data io.Reader) (*OCRResult, error) {
	if strings.TrimSpace(m.config.APIKey) == "" {
		return nil, NewConfigError("api_key", ErrMissingAPIKey)
	}

	startTime := time.Now()

	fileName := pathutil.Basename(pathHint)
	if fileName == "" {
		fileName = "file"
	}
	isImage := pathutil.IsImageExtension(fileName)

	content, err := io.ReadAll(io.LimitReader(data, MaxFileSizeBytes+1))
	if err != nil {
		return nil, WrapOCRError(StageUpload, err, "failed to read file data")
	}
	if len(content) == 0 {
		return nil, NewOCRError(StageUpload, ErrEmptyFile, fileName)
	}
	if len(content) > MaxFileSizeBytes {
		return nil, NewOCRError(StageUpload, ErrFileTooLarge, fmt.Sprintf("file size: %d bytes", len(content)))
	}

	m.log.Info().
		Str("file", fileName).
		Int("size", len(content)).
		Bool("image", isImage).
		Str("model", m.config.Model).
		Msg("Processing file with Mistral OCR")

	fileID, err := m.upload(ctx, fileName, content)
	if err != nil {
		return nil, WrapOCRError(StageUpload, err, "file upload failed")
	}

	signedURL, err := m.signedURL(ctx, fileID)
	if err != nil {
		return nil, WrapOCRError(StageSign, err, "failed to get signed URL")
	}

	resp, err := m.recognize(ctx, signedURL, isImage)
	if err != nil {
		return nil, WrapOCRError(StageOCR, err, "OCR processing failed")
	}

	result := normalizeMistralResponse(resp)
	result.ProcessedAt = time.Now()
	result.ProcessingDuration = result.ProcessedAt.Sub(startTime)

	m.log.Info().
		Int("page_count", result.PageCount).
		Int("image_count", len(result.Images)).
		Int("markdown_length", len(result.MarkdownContent)).
		Dur("duration", result.ProcessingDuration).
		Msg("Mistral OCR completed")

	return result, nil
}

// upload sends the raw file to the files endpoint and returns the file id.
func (m *MistralOCRService) upload(ctx context.Context, fileName string, content []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	if err := w.WriteField("purpose", "ocr"); err != nil {
		return "", err
	}
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(content); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.BaseURL+"/v1/files", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out mistralUploadResponse
	if err := m.do(req, StageUpload, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", NewOCRError(StageUpload, ErrEmptyResponse, "missing file id")
	}

	m.log.Debug().Str("file_id", out.ID).Msg("File uploaded")
	return out.ID, nil
}

// signedURL requests a time-limited retrieval URL for an uploaded file.
func (m *MistralOCRService) signedURL(ctx context.Context, fileID string) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/files/%s/url?expiry=%d", m.config.BaseURL, url.PathEscape(fileID), signedURLExpiryHours)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	var out mistralSignedURLResponse
	if err := m.do(req, StageSign, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", NewOCRError(StageSign, ErrEmptyResponse, "missing signed url")
	}

	m.log.Debug().Str("file_id", fileID).Msg("Signed URL obtained")
	return out.URL, nil
}

// recognize submits the signed URL for OCR.
func (m *MistralOCRService) recognize(ctx context.Context, signedURL string, isImage bool) (*mistralOCRResponse, error) {
	doc := mistralDocument{Type: "document_url", DocumentURL: signedURL}
	if isImage {
		doc = mistralDocument{Type: "image_url", ImageURL: signedURL}
	}

	payload, err := json.Marshal(mistralOCRRequest{
		Model:              m.config.Model,
		Document:           doc,
		IncludeImageBase64: true,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.BaseURL+"/v1/ocr", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out mistralOCRResponse
	if err := m.do(req, StageOCR, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends req with credentials and decodes a successful JSON response into out.
func (m *MistralOCRService) do(req *http.Request, stage Stage, out any) error {
	req.Header.Set("Authorization", "Bearer "+m.config.APIKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			m.log.Warn().Err(closeErr).Msg("Failed to close response body")
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	m.log.Debug().
		Str("stage", string(stage)).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Int("bytes", len(raw)).
		Dur("elapsed", time.Since(start)).
		Msg("Mistral API response")

	if resp.StatusCode/100 != 2 {
		return &OCRError{
			Stage:      stage,
			Err:        providerError(raw),
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return NewOCRError(stage, err, "failed to decode response")
	}
	return nil
}

// providerError extracts the message from a Mistral error body.
func providerError(raw []byte) error {
	var body struct {
		Message any `json:"message"`
		Detail  any `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if s, ok := body.Message.(string); ok && s != "" {
			return errors.New(s)
		}
		if s, ok := body.Detail.(string); ok && s != "" {
			return errors.New(s)
		}
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return ErrRequestFailed
	}
	if len(text) > maxErrorBodyBytes {
		cut := maxErrorBodyBytes
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return errors.New(text)
}

// normalizeMistralResponse converts the provider response into an OCRResult.
func normalizeMistralResponse(resp *mistralOCRResponse) *OCRResult {
	pages := make([]string, 0, len(resp.Pages))
	images := []Image{}

	for _, page := range resp.Pages {
		pages = append(pages, page.Markdown)
		for _, img := range page.Images {
			data := ""
			if img.ImageBase64 != nil {
				data = *img.ImageBase64
			}
			images = append(images, Image{
				ID:         img.ID,
				Name:       img.ID,
				Base64Data: data,
			})
		}
	}

	return &OCRResult{
		MarkdownContent: strings.Join(pages, "\n\n"),
		Images:          images,
		PageCount:       len(resp.Pages),
		Model:           resp.Model,
	}
}
