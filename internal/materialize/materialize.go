// Package materialize turns an OCR result into files inside the vault: one
// markdown note plus, optionally, one attachment per embedded image.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"ocrnote/internal/logger"
	"ocrnote/internal/markdown"
	"ocrnote/internal/notify"
	"ocrnote/internal/ocr"
	"ocrnote/internal/pathutil"
	"ocrnote/internal/vault"
)

// DefaultTitle names a note when nothing better can be derived.
const DefaultTitle = "Untitled"

// ImageRef pairs an image's reference in the markdown with the vault path it was written to.
type ImageRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// DecodeError reports an image whose payload is not valid base64.
type DecodeError struct {
	// Image is the image id.
	Image string

	// Err is the underlying decoding error.
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image %q: %v", e.Image, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Request describes where and how a result is materialized.
type Request struct {
	// Title is the note title. Empty means derive it from the markdown or SourcePath.
	Title string

	// SourcePath is the converted file, used as a title fallback.
	SourcePath string

	// NoteFolder is the vault folder receiving the note. Empty is the vault root.
	NoteFolder string

	// AttachmentFolder is the vault folder receiving image files.
	AttachmentFolder string

	// SaveBase64AsAttachment writes images as files. Otherwise they are inlined as data URLs.
	SaveBase64AsAttachment bool
}

// Outcome summarizes a materialized result.
type Outcome struct {
	NotePath string     `json:"note_path"`
	Title    string     `json:"title"`
	Images   []ImageRef `json:"images"`

	// Skipped joins the DecodeErrors of images that were left out. It is not fatal.
	Skipped error `json:"-"`
}

// Materializer writes OCR results into a vault.
type Materializer struct {
	storage  vault.Storage
	notifier notify.Notifier
	policy   vault.DupPolicy
	log      zerolog.Logger
}

// New creates a Materializer. policy decides how colliding attachment names are numbered.
func New(storage vault.Storage, notifier notify.Notifier, policy vault.DupPolicy) *Materializer {
	return &Materializer{
		storage:  storage,
		notifier: notifier,
		policy:   policy,
		log:      logger.WithComponent("materializer"),
	}
}

// Materialize stores result as a note, handling its images according to req.
func (m *Materializer) Materialize(ctx context.Context, result *ocr.OCRResult, req Request) (*Outcome, error) {
	content := result.MarkdownContent
	outcome := &Outcome{
		Title:  m.chooseTitle(req, content),
		Images: []ImageRef{},
	}

	m.warnUnreferenced(result)

	if req.SaveBase64AsAttachment {
		refs, err := m.CreateImagesFromOCRResult(ctx, result, req.AttachmentFolder)
		if err != nil {
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				return nil, err
			}
			outcome.Skipped = err
		}

		for _, ref := range refs {
			content = markdown.ReplaceImagePath(content, ref.Name, ref.Path)
		}
		outcome.Images = refs
	} else {
		for _, img := range result.Images {
			if img.Base64Data == "" {
				continue
			}
			content = markdown.InlineImage(content, img.ID, img.Base64Data)
		}
	}

	notePath, err := m.CreateMarkdownFile(ctx, req.NoteFolder, outcome.Title, content)
	if err != nil {
		return nil, err
	}
	outcome.NotePath = notePath

	m.log.Info().
		Str("note", notePath).
		Int("images", len(outcome.Images)).
		Bool("inline_images", !req.SaveBase64AsAttachment).
		Msg("Result materialized")

	return outcome, nil
}

// chooseTitle prefers the explicit title, then the first heading, then the source file name.
func (m *Materializer) chooseTitle(req Request, content string) string {
	if t := strings.TrimSpace(req.Title); t != "" {
		return t
	}
	if t, ok := markdown.SuggestTitle(content); ok {
		return t
	}
	if req.SourcePath != "" {
		if t := pathutil.SanitizeFilename(pathutil.Stem(req.SourcePath)); t != "" {
			return t
		}
	}
	return DefaultTitle
}

func (m *Materializer) warnUnreferenced(result *ocr.OCRResult) {
	if len(result.Images) == 0 {
		return
	}

	referenced := make(map[string]bool)
	for _, ref := range markdown.ImageRefs(result.MarkdownContent) {
		referenced[ref] = true
	}
	for _, img := range result.Images {
		if !referenced[img.ID] {
			m.log.Warn().Str("image", img.ID).Msg("Image is not referenced in the markdown")
		}
	}
}

// CreateMarkdownFile writes content to "<dir>/<title>.md", choosing a free
// name when that path is taken, and returns the path written.
func (m *Materializer) CreateMarkdownFile(ctx context.Context, dir, title, content string) (string, error) {
	name := pathutil.SanitizeFilename(title)
	if name == "" {
		name = DefaultTitle
	}

	if dir != "" {
		if err := m.storage.CreateFolder(ctx, dir); err != nil {
			return "", err
		}
	}

	path, err := vault.UniquePath(ctx, m.storage, vaultPath(dir, name+".md"))
	if err != nil {
		return "", err
	}

	if err := m.storage.CreateFile(ctx, path, content); err != nil {
		return "", err
	}

	m.notifier.Notify("Created file: " + path)
	return path, nil
}

// CreateImagesFromOCRResult writes every image carrying data into attachmentDir.
//
// Images without data are ignored. Images whose data cannot be decoded are
// skipped; their DecodeErrors are joined into the returned error while the
// remaining images are still written. A vault failure stops the run and is
// returned alone, so callers can tell the two apart with errors.As on *DecodeError.
func (m *Materializer) CreateImagesFromOCRResult(ctx context.Context, result *ocr.OCRResult, attachmentDir string) ([]ImageRef, error) {
	refs := []ImageRef{}
	var skipped []error
	folderReady := false

	for _, img := range result.Images {
		if img.Base64Data == "" {
			continue
		}

		data, err := pathutil.DecodeBase64(img.Base64Data)
		if err != nil {
			m.log.Warn().Err(err).Str("image", img.ID).Msg("Skipping image with invalid data")
			skipped = append(skipped, &DecodeError{Image: img.ID, Err: err})
			continue
		}

		if !folderReady {
			if err := m.storage.CreateFolder(ctx, attachmentDir); err != nil {
				return refs, err
			}
			folderReady = true
		}

		name := img.Name
		if name == "" {
			name = img.ID
		}

		final, err := vault.Deduplicate(ctx, m.storage, name, attachmentDir, m.policy)
		if err != nil {
			return refs, err
		}

		path := vaultPath(attachmentDir, final.Name)
		if err := m.storage.CreateBinary(ctx, path, data); err != nil {
			return refs, err
		}

		m.log.Debug().
			Str("image", img.ID).
			Str("path", path).
			Int("bytes", len(data)).
			Msg("Image saved")

		refs = append(refs, ImageRef{Name: img.ID, Path: path})
	}

	return refs, errors.Join(skipped...)
}

// vaultPath joins dir and name without producing a leading slash for the vault root.
func vaultPath(dir, name string) string {
	return strings.TrimPrefix(pathutil.Join(dir, name), "/")
}
