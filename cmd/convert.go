package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ocrnote/internal/convert"
	"ocrnote/internal/logger"
	"ocrnote/internal/notify"
	"ocrnote/internal/ocr"
	"ocrnote/internal/pathutil"
	"ocrnote/internal/vault"
)

var convertCmd = &cobra.Command{
	Use:   "convert [file]",
	Short: "Convert an image or PDF into a markdown note",
	Long: `Run OCR on an image or PDF and create a markdown note in the vault.

The note title is taken from --title, else from the first level-1 heading
(or level-2 heading) of the recognized text, else from the file name.
An existing note is never overwritten: a number is appended instead.

Embedded images are saved into the attachment folder and referenced from
the note. With --inline-images they are embedded as data URLs instead.

Required environment variables (Mistral):
  MISTRAL_API_KEY - unless stored with 'ocrnote settings set api-key'

Google back-ends (--provider vision|documentai):
  GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS
  GOOGLE_CLOUD_PROJECT, DOCUMENT_AI_PROCESSOR_ID (Document AI only)`,
	Example: `  # Convert a scanned PDF into a note in the current vault
  ocrnote convert scan.pdf

  # Choose the title and the folder of the note
  ocrnote convert receipt.jpg --title "Coffee receipt" --folder inbox

  # Keep images inside the note and print a JSON summary
  ocrnote convert slides.pdf --inline-images --json

  # Use Google Cloud Vision with a longer timeout
  ocrnote convert large-document.pdf --provider vision --timeout 600`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

// ConvertOutput represents the JSON output structure when --json flag is used
type ConvertOutput struct {
	*convert.Result
	NoteBytes int    `json:"note_bytes"`
	FileName  string `json:"file_name"`
	FileSize  int64  `json:"file_size"`
}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringP("title", "t", "", "Note title (default: first heading or file name)")
	convertCmd.Flags().StringP("folder", "f", "", "Vault folder for the note (default: note-folder setting)")
	convertCmd.Flags().String("attachment-folder", "", "Vault folder for images (default: attachment-folder setting)")
	convertCmd.Flags().Bool("inline-images", false, "Embed images as data URLs instead of saving attachments")
	convertCmd.Flags().String("provider", "", "OCR provider: mistral, vision or documentai (default: provider setting)")
	convertCmd.Flags().Bool("json", false, "Output a JSON summary")
	convertCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
}

func runConvert(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	log := logger.WithFields(map[string]interface{}{
		"component": "convert",
		"file":      filePath,
	})
	cmd.SilenceUsage = true

	title, _ := cmd.Flags().GetString("title")
	folder, _ := cmd.Flags().GetString("folder")
	attachmentFolder, _ := cmd.Flags().GetString("attachment-folder")
	inlineImages, _ := cmd.Flags().GetBool("inline-images")
	provider, _ := cmd.Flags().GetString("provider")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	log.Info().
		Str("folder", folder).
		Bool("inline_images", inlineImages).
		Bool("json", jsonOutput).
		Int("timeout", timeoutSecs).
		Msg("Starting conversion")

	fileInfo, err := validateInputFile(filePath, log)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	_, s, err := loadSettings(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	if folder != "" {
		s.NoteFolder = folder
	}
	if attachmentFolder != "" {
		s.AttachmentFolder = attachmentFolder
	}
	if provider != "" {
		if err := s.Set("provider", provider); err != nil {
			return err
		}
	}

	storage, err := vault.NewFSStorage(vaultDir(cmd, cfg))
	if err != nil {
		return fmt.Errorf("failed to open vault: %w", err)
	}

	var notifier notify.Notifier = notify.NewWriter(cmd.ErrOrStderr())
	if jsonOutput {
		notifier = notify.NewLog(log)
	}

	opts := cfg.OCROptions()
	opts.HTTPClient = &http.Client{Timeout: time.Duration(timeoutSecs) * time.Second}
	converter := convert.New(storage, notifier, s, opts)

	f, err := os.Open(filePath)
	if err != nil {
		log.Error().
			Err(err).
			Str("file", filePath).
			Msg("Failed to open file")
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close file")
		}
	}()

	result, err := converter.Convert(ctx, filePath, f, convert.ProcessOptions{
		Title:                  title,
		SaveBase64AsAttachment: s.SaveBase64AsAttachment && !inlineImages,
	})
	if err != nil {
		return handleConvertError(err, log)
	}

	if !jsonOutput {
		fmt.Fprintln(cmd.OutOrStdout(), result.NotePath)
		return nil
	}

	note, err := storage.Read(ctx, result.NotePath)
	if err != nil {
		return fmt.Errorf("failed to read created note: %w", err)
	}

	out, err := json.MarshalIndent(ConvertOutput{
		Result:    result,
		NoteBytes: len(note),
		FileName:  fileInfo.Name(),
		FileSize:  fileInfo.Size(),
	}, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON output")
		return fmt.Errorf("failed to create JSON output: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// validateInputFile checks that the file exists, is a non-empty regular file
// and is small enough to upload.
func validateInputFile(filePath string, log zerolog.Logger) (os.FileInfo, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Error().
				Str("file", filePath).
				Msg("File not found")
			return nil, fmt.Errorf("file not found: %s", filePath)
		}
		if os.IsPermission(err) {
			log.Error().
				Str("file", filePath).
				Msg("Permission denied accessing file")
			return nil, fmt.Errorf("permission denied accessing file: %s", filePath)
		}
		return nil, fmt.Errorf("error accessing file: %w", err)
	}

	if !fileInfo.Mode().IsRegular() {
		log.Error().
			Str("file", filePath).
			Msg("Path is not a regular file")
		return nil, fmt.Errorf("path is not a regular file: %s", filePath)
	}

	if ext, _ := pathutil.Extension(filePath); !strings.EqualFold(ext, "pdf") && !pathutil.IsImageExtension(filePath) {
		log.Warn().
			Str("file", filePath).
			Msg("File is neither a PDF nor a known image type, submitting as document")
	}

	if fileInfo.Size() == 0 {
		log.Error().
			Str("file", filePath).
			Msg("File is empty")
		return nil, fmt.Errorf("file is empty: %s", filePath)
	}

	if fileInfo.Size() > ocr.MaxFileSizeBytes {
		log.Error().
			Str("file", filePath).
			Int64("size", fileInfo.Size()).
			Int64("max_size", ocr.MaxFileSizeBytes).
			Msg("File exceeds maximum size limit")
		return nil, fmt.Errorf("file too large (%d bytes). Maximum size is %d bytes (50MB)",
			fileInfo.Size(), ocr.MaxFileSizeBytes)
	}

	return fileInfo, nil
}

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(timeoutSecs int, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)

	// Handle interrupt signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling conversion")
			cancel()
		case <-ctx.Done():
			// Context completed normally
		}
	}()

	return ctx, cancel
}

// handleConvertError provides user-friendly error messages for conversion failures
func handleConvertError(err error, log zerolog.Logger) error {
	log.Debug().Err(err).Msg("Mapping conversion error")

	var ocrErr *ocr.OCRError

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("conversion timed out. Try increasing --timeout or converting a smaller file")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("conversion was canceled")
	case errors.Is(err, ocr.ErrMissingAPIKey):
		return fmt.Errorf("Mistral API key not configured. Set it with one of:\n\n" +
			"1. ocrnote settings set api-key <key>\n\n" +
			"2. export MISTRAL_API_KEY=<key>\n\n" +
			"3. Add MISTRAL_API_KEY to your .env file")
	case errors.Is(err, ocr.ErrUnsupportedProvider):
		return fmt.Errorf("unknown OCR provider. Use one of: mistral, vision, documentai")
	case errors.Is(err, ocr.ErrFileTooLarge):
		return fmt.Errorf("file is too large for the selected OCR provider. Try compressing or splitting the file")
	case errors.As(err, &ocrErr) && (ocrErr.Status == http.StatusUnauthorized || ocrErr.StatusText == "Unauthenticated"):
		return fmt.Errorf("the OCR provider rejected the credentials. Check your API key or Google credentials: %w", err)
	case errors.As(err, &ocrErr) && ocrErr.Status == http.StatusTooManyRequests:
		return fmt.Errorf("the OCR provider is rate limiting requests. Wait a moment and try again: %w", err)
	case errors.As(err, &ocrErr):
		return fmt.Errorf("OCR %s step failed: %w", ocrErr.Stage, err)
	default:
		return fmt.Errorf("conversion failed: %w", err)
	}
}
