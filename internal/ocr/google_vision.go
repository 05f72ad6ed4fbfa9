package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ocrnote/internal/logger"
	"ocrnote/internal/pathutil"
)

const (
	// MaxVisionFileSizeBytes is the maximum file size for synchronous processing (20MB)
	MaxVisionFileSizeBytes = 20 * 1024 * 1024
)

// GoogleVisionOCRService implements OCRService using Google Cloud Vision API.
// It returns the detected text of each page as markdown and no images.
type GoogleVisionOCRService struct {
	client *vision.ImageAnnotatorClient
	log    zerolog.Logger
}

// NewGoogleVisionOCRService creates a new OCR service with credentials from environment.
// It expects either GOOGLE_APPLICATION_CREDENTIALS path or GOOGLE_CREDENTIALS JSON in env.
func NewGoogleVisionOCRService(ctx context.Context) (*GoogleVisionOCRService, error) {
	client, err := vision.NewImageAnnotatorClient(ctx, googleClientOptions()...)
	if err != nil {
		return nil, NewConfigError("google_credentials", err)
	}

	return NewGoogleVisionOCRServiceWithClient(client), nil
}

// NewGoogleVisionOCRServiceWithClient creates a new OCR service with an explicit client (for testing).
func NewGoogleVisionOCRServiceWithClient(client *vision.ImageAnnotatorClient) *GoogleVisionOCRService {
	return &GoogleVisionOCRService{
		client: client,
		log:    logger.WithComponent("google-vision"),
	}
}

// googleClientOptions reads Google credentials from the environment.
// Without either variable, Application Default Credentials apply.
func googleClientOptions() []option.ClientOption {
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(credJSON))}
	}
	if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		return []option.ClientOption{option.WithCredentialsFile(credFile)}
	}
	return nil
}

// ProcessFile runs document text detection on an image or a PDF/TIFF/GIF file.
func (g *GoogleVisionOCRService) ProcessFile(ctx context.Context, pathHint string, data io.Reader) (*OCRResult, error) {
	startTime := time.Now()

	content, err := io.ReadAll(data)
	if err != nil {
		return nil, WrapOCRError(StageUpload, err, "failed to read file data")
	}
	if len(content) == 0 {
		return nil, NewOCRError(StageUpload, ErrEmptyFile, pathutil.Basename(pathHint))
	}
	if len(content) > MaxVisionFileSizeBytes {
		return nil, NewOCRError(StageUpload, ErrFileTooLarge, fmt.Sprintf("file size: %d bytes", len(content)))
	}

	mimeType := pathutil.MimeTypeForName(pathHint)

	var pages []string
	switch mimeType {
	case "application/pdf", "image/tiff", "image/gif":
		pages, err = g.annotateFile(ctx, content, mimeType)
	default:
		pages, err = g.annotateImage(ctx, content)
	}
	if err != nil {
		return nil, err
	}

	result := &OCRResult{
		MarkdownContent: strings.Join(pages, "\n\n"),
		Images:          []Image{},
		PageCount:       len(pages),
		Model:           "DOCUMENT_TEXT_DETECTION",
		ProcessedAt:     time.Now(),
	}
	result.ProcessingDuration = result.ProcessedAt.Sub(startTime)

	g.log.Info().
		Str("mime_type", mimeType).
		Int("page_count", result.PageCount).
		Dur("duration", result.ProcessingDuration).
		Msg("Vision OCR completed")

	return result, nil
}

func (g *GoogleVisionOCRService) annotateFile(ctx context.Context, content []byte, mimeType string) ([]string, error) {
	req := &visionpb.BatchAnnotateFilesRequest{
		Requests: []*visionpb.AnnotateFileRequest{
			{
				InputConfig: &visionpb.InputConfig{
					Content:  content,
					MimeType: mimeType,
				},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := g.client.BatchAnnotateFiles(ctx, req)
	if err != nil {
		return nil, rpcError(StageOCR, err)
	}
	return visionFilePages(resp)
}

func (g *GoogleVisionOCRService) annotateImage(ctx context.Context, content []byte) ([]string, error) {
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: content},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := g.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, rpcError(StageOCR, err)
	}
	return visionImagePages(resp.GetResponses())
}

// visionFilePages collects the full text of each page of a file annotation.
func visionFilePages(resp *visionpb.BatchAnnotateFilesResponse) ([]string, error) {
	if len(resp.GetResponses()) == 0 {
		return nil, NewOCRError(StageOCR, ErrEmptyResponse, "no response from Vision API")
	}

	fileResp := resp.GetResponses()[0]
	if fileResp.GetError() != nil {
		return nil, NewOCRError(StageOCR, errors.New(fileResp.GetError().GetMessage()), "Vision API error")
	}
	return visionImagePages(fileResp.GetResponses())
}

func visionImagePages(responses []*visionpb.AnnotateImageResponse) ([]string, error) {
	if len(responses) == 0 {
		return nil, NewOCRError(StageOCR, ErrEmptyResponse, "no pages in Vision API response")
	}

	pages := make([]string, 0, len(responses))
	for i, page := range responses {
		if page.GetError() != nil {
			return nil, NewOCRError(StageOCR, errors.New(page.GetError().GetMessage()), fmt.Sprintf("error processing page %d", i+1))
		}
		pages = append(pages, strings.TrimRight(page.GetFullTextAnnotation().GetText(), "\n"))
	}
	return pages, nil
}

// rpcError converts a gRPC failure into an OCRError keeping the status code name.
func rpcError(stage Stage, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return WrapOCRError(stage, err, "")
	}

	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return WrapOCRError(stage, err, "")
	}
	return &OCRError{
		Stage:      stage,
		Err:        errors.New(st.Message()),
		StatusText: st.Code().String(),
	}
}
