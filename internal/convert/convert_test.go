package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocrnote/internal/notify"
	"ocrnote/internal/ocr"
	"ocrnote/internal/settings"
	"ocrnote/internal/vault"
)

const pngFixture = "iVBORw0KGgoAAAANSUhEUgAAAAUAAAAFCAYAAACNbyblAAAAHElEQVQI12P4//8/w38GIAXDIBKE0DHxgljNBAAO9TXL0Y4OHwAAAABJRU5ErkJggg=="

// newMistralServer answers the upload, sign and OCR calls with a fixed two page result.
func newMistralServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/files", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"id":"file-1"}`)
	})
	mux.HandleFunc("GET /v1/files/file-1/url", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"url":"https://files.example/signed"}`)
	})
	mux.HandleFunc("POST /v1/ocr", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		resp := map[string]any{
			"model": "mistral-ocr-latest",
			"pages": []map[string]any{
				{"index": 0, "markdown": "# Receipt\n\n![img-0.png](img-0.png)", "images": []map[string]any{
					{"id": "img-0.png", "image_base64": "data:image/png;base64," + pngFixture},
				}},
				{"index": 1, "markdown": "Total: 12.00", "images": []map[string]any{}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestConverter(t *testing.T, s settings.PluginSettings, baseURL string) (*Converter, *vault.FSStorage, *notify.Recorder) {
	t.Helper()

	storage, err := vault.NewFSStorage(t.TempDir())
	require.NoError(t, err)

	rec := &notify.Recorder{}
	opts := ocr.Options{Mistral: ocr.MistralConfig{BaseURL: baseURL}}
	return New(storage, rec, s, opts), storage, rec
}

func TestConvert(t *testing.T) {
	var calls atomic.Int32
	srv := newMistralServer(t, &calls)

	s := settings.DefaultSettings()
	s.APIKey = "test-key"
	s.NoteFolder = "inbox"
	c, storage, rec := newTestConverter(t, s, srv.URL)

	res, err := c.Convert(context.Background(), "/home/me/receipt.pdf", strings.NewReader("%PDF-1.7"), ProcessOptions{
		SaveBase64AsAttachment: true,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())

	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, ocr.ProviderMistral, res.Provider)
	assert.Equal(t, 2, res.PageCount)
	assert.Equal(t, "Receipt", res.Title)
	assert.Equal(t, "inbox/Receipt.md", res.NotePath)
	assert.Zero(t, res.SkippedImages)

	note, err := storage.Read(context.Background(), res.NotePath)
	require.NoError(t, err)
	assert.Equal(t, "# Receipt\n\n![img-0.png](attachments/img-0.png)\n\nTotal: 12.00", string(note))

	ok, err := storage.Exists(context.Background(), "attachments/img-0.png")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, []string{
		"Processing file with Mistral AI OCR...",
		"Created file: inbox/Receipt.md",
	}, rec.Messages())
}

func TestConvertMissingAPIKeyMakesNoRequest(t *testing.T) {
	var calls atomic.Int32
	srv := newMistralServer(t, &calls)

	c, storage, rec := newTestConverter(t, settings.DefaultSettings(), srv.URL)

	_, err := c.Convert(context.Background(), "scan.png", strings.NewReader("png"), ProcessOptions{})
	require.Error(t, err)

	var cfgErr *ocr.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	require.ErrorIs(t, err, ocr.ErrMissingAPIKey)

	assert.Zero(t, calls.Load(), "no request may reach the provider without an API key")
	assert.Equal(t, []string{msgMissingAPIKey}, rec.Messages())

	listing, err := storage.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, listing.Files)
}

func TestConvertAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"Unauthorized"}`)
	}))
	t.Cleanup(srv.Close)

	s := settings.DefaultSettings()
	s.APIKey = "wrong"
	c, _, rec := newTestConverter(t, s, srv.URL)

	_, err := c.Convert(context.Background(), "scan.pdf", strings.NewReader("%PDF"), ProcessOptions{})
	require.Error(t, err)

	var ocrErr *ocr.OCRError
	require.True(t, errors.As(err, &ocrErr))
	assert.Equal(t, ocr.StageUpload, ocrErr.Stage)

	msgs := rec.Messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, "API Error: 401 Unauthorized", msgs[len(msgs)-1])
}

// stubService returns a fixed result or error.
type stubService struct {
	result *ocr.OCRResult
	err    error
}

func (s stubService) ProcessFile(_ context.Context, _ string, data io.Reader) (*ocr.OCRResult, error) {
	if _, err := io.Copy(io.Discard, data); err != nil {
		return nil, err
	}
	return s.result, s.err
}

func TestConvertInlineImagesAndSkipped(t *testing.T) {
	s := settings.DefaultSettings()
	c, storage, rec := newTestConverter(t, s, "")
	c.newService = func(context.Context, ocr.Options) (ocr.OCRService, error) {
		return stubService{result: &ocr.OCRResult{
			MarkdownContent: "no headings ![a.png](a.png)",
			Images:          []ocr.Image{{ID: "a.png", Name: "a.png", Base64Data: pngFixture}},
			PageCount:       1,
		}}, nil
	}

	res, err := c.Convert(context.Background(), "photo.jpg", strings.NewReader("jpg"), ProcessOptions{Title: "Holiday"})
	require.NoError(t, err)
	assert.Equal(t, "Holiday.md", res.NotePath)

	note, err := storage.Read(context.Background(), res.NotePath)
	require.NoError(t, err)
	assert.Equal(t, "no headings ![a.png](data:image/png;base64,"+pngFixture+")", string(note))

	c.newService = func(context.Context, ocr.Options) (ocr.OCRService, error) {
		return stubService{result: &ocr.OCRResult{
			MarkdownContent: "![a.png](a.png) ![b.png](b.png)",
			Images: []ocr.Image{
				{ID: "a.png", Name: "a.png", Base64Data: "***"},
				{ID: "b.png", Name: "b.png", Base64Data: "@@@"},
			},
		}}, nil
	}

	res, err = c.Convert(context.Background(), "photo.jpg", strings.NewReader("jpg"), ProcessOptions{SaveBase64AsAttachment: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.SkippedImages)
	assert.Equal(t, "photo.md", res.NotePath)
	assert.Contains(t, rec.Messages(), "Skipped 2 image(s) with invalid data.")
}

func TestNotice(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"missing key", ocr.NewConfigError("api_key", ocr.ErrMissingAPIKey), msgMissingAPIKey},
		{"http status", &ocr.OCRError{Stage: ocr.StageOCR, Err: errors.New("boom"), Status: 500, StatusText: "Internal Server Error"}, "API Error: 500 Internal Server Error"},
		{"provider message", ocr.NewOCRError(ocr.StageSign, errors.New("connection refused"), ""), "connection refused"},
		{"empty file", ocr.NewOCRError(ocr.StageUpload, ocr.ErrEmptyFile, "a.pdf"), msgReadFailed},
		{"vault failure", vault.NewIOError("create file", "a.md", fs.ErrPermission), msgSaveFailed},
		{"anything else", errors.New("unexpected"), msgFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Notice(tt.err))
		})
	}
}

func TestNewAppliesSettings(t *testing.T) {
	s := settings.DefaultSettings()
	s.APIKey = "k"
	s.Model = "mistral-ocr-2505"
	s.Provider = ocr.ProviderVision

	c := New(nil, &notify.Recorder{}, s, ocr.Options{})
	assert.Equal(t, ocr.ProviderVision, c.options.Provider)
	assert.Equal(t, "k", c.options.Mistral.APIKey)
	assert.Equal(t, "mistral-ocr-2505", c.options.Mistral.Model)
	assert.Equal(t, "Google Vision", c.providerLabel())
}
