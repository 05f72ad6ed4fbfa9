package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "test-key"

// fakeMistral is an in-process stand-in for the Mistral files and OCR endpoints.
type fakeMistral struct {
	t *testing.T

	calls atomic.Int32

	uploadStatus int
	signStatus   int
	ocrStatus    int
	errorBody    string

	ocrResponse string

	uploadedName    string
	uploadedPurpose string
	uploadedBytes   []byte
	ocrRequest      mistralOCRRequest
}

func (f *fakeMistral) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)

	if r.Header.Get("Authorization") != "Bearer "+testAPIKey {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"Unauthorized"}`)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/files":
		if f.uploadStatus != 0 {
			f.fail(w, f.uploadStatus)
			return
		}
		if !assert.NoError(f.t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.uploadedPurpose = r.FormValue("purpose")
		file, header, err := r.FormFile("file")
		if !assert.NoError(f.t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.uploadedName = header.Filename
		f.uploadedBytes, _ = io.ReadAll(file)
		_, _ = io.WriteString(w, `{"id":"file-123","object":"file","purpose":"ocr"}`)

	case r.Method == http.MethodGet && r.URL.Path == "/v1/files/file-123/url":
		if f.signStatus != 0 {
			f.fail(w, f.signStatus)
			return
		}
		assert.Equal(f.t, "24", r.URL.Query().Get("expiry"))
		_, _ = io.WriteString(w, `{"url":"https://files.example/signed/file-123"}`)

	case r.Method == http.MethodPost && r.URL.Path == "/v1/ocr":
		if f.ocrStatus != 0 {
			f.fail(w, f.ocrStatus)
			return
		}
		if !assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.ocrRequest)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, f.ocrResponse)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeMistral) fail(w http.ResponseWriter, code int) {
	w.WriteHeader(code)
	_, _ = io.WriteString(w, f.errorBody)
}

const twoPageResponse = `{
  "model": "mistral-ocr-2505",
  "pages": [
    {"index": 0, "markdown": "# Title\nbody1", "images": [
      {"id": "img-0.jpeg", "image_base64": "data:image/jpeg;base64,AAAA"}
    ]},
    {"index": 1, "markdown": "body2", "images": [
      {"id": "img-1.jpeg", "image_base64": null},
      {"id": "img-2.jpeg"}
    ]}
  ],
  "usage_info": {"pages_processed": 2}
}`

func newFake(t *testing.T) (*fakeMistral, *MistralOCRService) {
	t.Helper()

	fake := &fakeMistral{t: t, ocrResponse: twoPageResponse}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := NewMistralOCRService(MistralConfig{
		APIKey:     testAPIKey,
		BaseURL:    srv.URL + "/",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return fake, svc
}

func TestMistralProcessFileDocument(t *testing.T) {
	fake, svc := newFake(t)

	result, err := svc.ProcessFile(context.Background(), "scans/report.pdf", strings.NewReader("%PDF-1.7"))
	require.NoError(t, err)

	assert.Equal(t, "report.pdf", fake.uploadedName)
	assert.Equal(t, "ocr", fake.uploadedPurpose)
	assert.Equal(t, "%PDF-1.7", string(fake.uploadedBytes))

	assert.Equal(t, DefaultMistralModel, fake.ocrRequest.Model)
	assert.True(t, fake.ocrRequest.IncludeImageBase64)
	assert.Equal(t, "document_url", fake.ocrRequest.Document.Type)
	assert.Equal(t, "https://files.example/signed/file-123", fake.ocrRequest.Document.DocumentURL)
	assert.Empty(t, fake.ocrRequest.Document.ImageURL)

	assert.Equal(t, "# Title\nbody1\n\nbody2", result.MarkdownContent)
	assert.Equal(t, 2, result.PageCount)
	assert.Equal(t, "mistral-ocr-2505", result.Model)
	assert.Equal(t, []Image{
		{ID: "img-0.jpeg", Name: "img-0.jpeg", Base64Data: "data:image/jpeg;base64,AAAA"},
		{ID: "img-1.jpeg", Name: "img-1.jpeg", Base64Data: ""},
		{ID: "img-2.jpeg", Name: "img-2.jpeg", Base64Data: ""},
	}, result.Images)
	assert.EqualValues(t, 3, fake.calls.Load())
}

func TestMistralProcessFileImage(t *testing.T) {
	fake, svc := newFake(t)

	_, err := svc.ProcessFile(context.Background(), "Photo.JPG", strings.NewReader("jpegdata"))
	require.NoError(t, err)

	assert.Equal(t, "image_url", fake.ocrRequest.Document.Type)
	assert.Equal(t, "https://files.example/signed/file-123", fake.ocrRequest.Document.ImageURL)
	assert.Empty(t, fake.ocrRequest.Document.DocumentURL)
}

func TestMistralDefaultFileName(t *testing.T) {
	fake, svc := newFake(t)

	_, err := svc.ProcessFile(context.Background(), "", strings.NewReader("data"))
	require.NoError(t, err)
	assert.Equal(t, "file", fake.uploadedName)
	assert.Equal(t, "document_url", fake.ocrRequest.Document.Type)
}

func TestMistralStageErrors(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(f *fakeMistral)
		wantStage  Stage
		wantStatus int
		wantMsg    string
		wantCalls  int32
	}{
		{
			name: "upload rejected",
			setup: func(f *fakeMistral) {
				f.uploadStatus = http.StatusUnprocessableEntity
				f.errorBody = `{"message":"Unsupported file type"}`
			},
			wantStage:  StageUpload,
			wantStatus: http.StatusUnprocessableEntity,
			wantMsg:    "Unsupported file type",
			wantCalls:  1,
		},
		{
			name: "sign fails",
			setup: func(f *fakeMistral) {
				f.signStatus = http.StatusNotFound
				f.errorBody = `{"detail":"File not found"}`
			},
			wantStage:  StageSign,
			wantStatus: http.StatusNotFound,
			wantMsg:    "File not found",
			wantCalls:  2,
		},
		{
			name: "ocr fails with plain body",
			setup: func(f *fakeMistral) {
				f.ocrStatus = http.StatusTooManyRequests
				f.errorBody = "rate limited"
			},
			wantStage:  StageOCR,
			wantStatus: http.StatusTooManyRequests,
			wantMsg:    "rate limited",
			wantCalls:  3,
		},
		{
			name: "ocr returns malformed json",
			setup: func(f *fakeMistral) {
				f.ocrResponse = "{not json"
			},
			wantStage: StageOCR,
			wantCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, svc := newFake(t)
			tt.setup(fake)

			_, err := svc.ProcessFile(context.Background(), "doc.pdf", strings.NewReader("%PDF"))
			require.Error(t, err)

			var ocrErr *OCRError
			require.True(t, errors.As(err, &ocrErr), "got %T", err)
			assert.Equal(t, tt.wantStage, ocrErr.Stage)
			assert.Equal(t, tt.wantStatus, ocrErr.Status)
			if tt.wantStatus != 0 {
				assert.Equal(t, http.StatusText(tt.wantStatus), ocrErr.StatusText)
			}
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, ocrErr.Err.Error())
			}
			assert.Equal(t, tt.wantCalls, fake.calls.Load())
		})
	}
}

func TestMistralTransportErrorIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	svc, err := NewMistralOCRService(MistralConfig{APIKey: testAPIKey, BaseURL: base})
	require.NoError(t, err)

	_, err = svc.ProcessFile(context.Background(), "a.png", strings.NewReader("png"))

	var ocrErr *OCRError
	require.True(t, errors.As(err, &ocrErr))
	assert.Equal(t, StageUpload, ocrErr.Stage)
	assert.Zero(t, ocrErr.Status)
	assert.Contains(t, err.Error(), "file upload failed")
}

func TestMistralCanceledContext(t *testing.T) {
	_, svc := newFake(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.ProcessFile(ctx, "a.pdf", strings.NewReader("%PDF"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestMistralMissingAPIKey(t *testing.T) {
	fake := &fakeMistral{t: t, ocrResponse: twoPageResponse}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := NewMistralOCRService(MistralConfig{BaseURL: srv.URL})
	require.ErrorIs(t, err, ErrMissingAPIKey)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "api_key", cfgErr.Setting)

	svc := &MistralOCRService{config: MistralConfig{BaseURL: srv.URL}, client: srv.Client()}
	_, err = svc.ProcessFile(context.Background(), "a.pdf", strings.NewReader("%PDF"))
	require.ErrorIs(t, err, ErrMissingAPIKey)

	assert.Zero(t, fake.calls.Load())
}

func TestMistralRejectsEmptyAndOversizedFiles(t *testing.T) {
	fake, svc := newFake(t)

	_, err := svc.ProcessFile(context.Background(), "a.pdf", strings.NewReader(""))
	require.ErrorIs(t, err, ErrEmptyFile)

	big := strings.NewReader(strings.Repeat("x", MaxFileSizeBytes+1))
	_, err = svc.ProcessFile(context.Background(), "a.pdf", big)
	require.ErrorIs(t, err, ErrFileTooLarge)

	assert.Zero(t, fake.calls.Load())
}

func TestNormalizeMistralResponseEmpty(t *testing.T) {
	result := normalizeMistralResponse(&mistralOCRResponse{})
	assert.Equal(t, "", result.MarkdownContent)
	assert.NotNil(t, result.Images)
	assert.Empty(t, result.Images)
}

func TestNewServiceProviders(t *testing.T) {
	svc, err := NewService(context.Background(), Options{
		Mistral: MistralConfig{APIKey: testAPIKey},
	})
	require.NoError(t, err)
	assert.IsType(t, &MistralOCRService{}, svc)

	_, err = NewService(context.Background(), Options{Provider: "tesseract"})
	require.ErrorIs(t, err, ErrUnsupportedProvider)

	_, err = NewService(context.Background(), Options{Provider: ProviderMistral})
	require.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewService(context.Background(), Options{Provider: ProviderDocumentAI})
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "google_cloud_project", cfgErr.Setting)
}

func TestOCRErrorMessage(t *testing.T) {
	err := &OCRError{Stage: StageOCR, Err: errors.New("bad page"), Status: 400, StatusText: "Bad Request"}
	assert.Equal(t, "ocr: ocr failed (400 Bad Request): bad page", err.Error())

	wrapped := WrapOCRError(StageUpload, err, "ignored")
	assert.Same(t, err, wrapped)

	plain := WrapOCRError(StageSign, io.ErrUnexpectedEOF, "failed to get signed URL")
	assert.Equal(t, "ocr: sign failed: failed to get signed URL: unexpected EOF", plain.Error())
	assert.ErrorIs(t, plain, io.ErrUnexpectedEOF)

	assert.Nil(t, WrapOCRError(StageOCR, nil, ""))
}

func TestProviderErrorTruncatesOnRuneBoundary(t *testing.T) {
	body := strings.Repeat("a", maxErrorBodyBytes-1) + "é" + strings.Repeat("b", 100)

	msg := providerError([]byte(body)).Error()
	assert.True(t, utf8.ValidString(msg))
	assert.Equal(t, strings.Repeat("a", maxErrorBodyBytes-1)+"...", msg)
}
