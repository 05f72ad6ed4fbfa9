package ocr

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"ocrnote/internal/logger"
	"ocrnote/internal/pathutil"
)

const (
	// MaxDocumentSizeBytes is the maximum document size for online processing (20MB)
	MaxDocumentSizeBytes = 20 * 1024 * 1024
)

// DocumentAIConfig holds configuration for Google Document AI processing.
type DocumentAIConfig struct {
	// ProjectID is the Google Cloud project ID where Document AI is enabled.
	ProjectID string

	// Location is the processing location (e.g., "us", "eu").
	// Should match where your Document AI processor is created.
	Location string

	// ProcessorID is the ID of a Document AI OCR processor.
	ProcessorID string

	// ProcessorVersion specifies a particular processor version.
	// If empty, uses the default version.
	ProcessorVersion string

	// Timeout is the maximum time to wait for processing.
	// Default: 60 seconds.
	Timeout time.Duration
}

// DefaultDocumentAIConfig returns a DocumentAIConfig with sensible defaults.
func DefaultDocumentAIConfig() DocumentAIConfig {
	return DocumentAIConfig{
		Location: "us",
		Timeout:  60 * time.Second,
	}
}

// DocumentAIOCRService implements OCRService with a Google Document AI OCR processor.
type DocumentAIOCRService struct {
	client *documentai.DocumentProcessorClient
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAIOCRService creates a Document AI client for cfg with credentials from environment.
func NewDocumentAIOCRService(ctx context.Context, cfg DocumentAIConfig) (*DocumentAIOCRService, error) {
	defaults := DefaultDocumentAIConfig()
	if cfg.Location == "" {
		cfg.Location = defaults.Location
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	if cfg.ProjectID == "" {
		return nil, NewConfigError("google_cloud_project", fmt.Errorf("GOOGLE_CLOUD_PROJECT is required"))
	}
	if cfg.ProcessorID == "" {
		return nil, NewConfigError("document_ai_processor_id", fmt.Errorf("DOCUMENT_AI_PROCESSOR_ID is required"))
	}

	clientOptions := googleClientOptions()

	// Set regional endpoint if not us
	if cfg.Location != "us" {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		return nil, NewConfigError("google_credentials", err)
	}

	return NewDocumentAIOCRServiceWithClient(cfg, client), nil
}

// NewDocumentAIOCRServiceWithClient creates the service with explicit config and client (for testing).
func NewDocumentAIOCRServiceWithClient(cfg DocumentAIConfig, client *documentai.DocumentProcessorClient) *DocumentAIOCRService {
	return &DocumentAIOCRService{
		client: client,
		config: cfg,
		log:    logger.WithComponent("document-ai"),
	}
}

// ProcessFile sends the file inline to the processor and returns each page's text.
func (p *DocumentAIOCRService) ProcessFile(ctx context.Context, pathHint string, data io.Reader) (*OCRResult, error) {
	startTime := time.Now()

	content, err := io.ReadAll(data)
	if err != nil {
		return nil, WrapOCRError(StageUpload, err, "failed to read file data")
	}
	if len(content) == 0 {
		return nil, NewOCRError(StageUpload, ErrEmptyFile, pathutil.Basename(pathHint))
	}
	if len(content) > MaxDocumentSizeBytes {
		return nil, NewOCRError(StageUpload, ErrFileTooLarge, fmt.Sprintf("file size: %d bytes", len(content)))
	}

	processCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req := &documentaipb.ProcessRequest{
		Name: p.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  content,
				MimeType: pathutil.MimeTypeForName(pathHint),
			},
		},
	}

	resp, err := p.client.ProcessDocument(processCtx, req)
	if err != nil {
		return nil, rpcError(StageOCR, err)
	}
	if resp.GetDocument() == nil {
		return nil, NewOCRError(StageOCR, ErrEmptyResponse, "no document in response")
	}

	pages := documentPages(resp.GetDocument())

	result := &OCRResult{
		MarkdownContent: strings.Join(pages, "\n\n"),
		Images:          []Image{},
		PageCount:       len(pages),
		Model:           p.processorName(),
		ProcessedAt:     time.Now(),
	}
	result.ProcessingDuration = result.ProcessedAt.Sub(startTime)

	p.log.Info().
		Int("page_count", result.PageCount).
		Dur("duration", result.ProcessingDuration).
		Msg("Document AI OCR completed")

	return result, nil
}

// processorName constructs the full processor name for Document AI API.
func (p *DocumentAIOCRService) processorName() string {
	name := fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		p.config.ProjectID, p.config.Location, p.config.ProcessorID)
	if p.config.ProcessorVersion != "" {
		name += "/processorVersions/" + p.config.ProcessorVersion
	}
	return name
}

// documentPages resolves each page's layout text anchor against the document text.
// Anchor offsets count characters, not bytes.
// A document without pages yields its whole text as a single page.
func documentPages(doc *documentaipb.Document) []string {
	if len(doc.GetPages()) == 0 {
		return []string{strings.TrimSpace(doc.GetText())}
	}

	text := []rune(doc.GetText())
	pages := make([]string, 0, len(doc.GetPages()))
	for _, page := range doc.GetPages() {
		var sb strings.Builder
		for _, seg := range page.GetLayout().GetTextAnchor().GetTextSegments() {
			start, end := seg.GetStartIndex(), seg.GetEndIndex()
			if start < 0 || end > int64(len(text)) || start >= end {
				continue
			}
			sb.WriteString(string(text[start:end]))
		}
		pages = append(pages, strings.TrimSpace(sb.String()))
	}
	return pages
}
