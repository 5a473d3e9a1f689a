package handler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/entrhq/formforge/pkg/driver"
	"github.com/entrhq/formforge/pkg/form"
)

func init() {
	// Keep pdfcpu from creating a configuration directory on first use.
	model.ConfigPath = "disable"
}

// FileHandler attaches a document to a file input.
type FileHandler struct{ *base }

// Execute implements Handler. An empty path skips the field without
// charging an attempt.
func (f *FileHandler) Execute(ctx context.Context, ac *form.ActionContext) (form.ExecutionResult, error) {
	path := strings.TrimSpace(ac.Strategy.Target)
	if path == "" {
		res := form.NewResult(ac, form.OutcomeSkipped)
		res.Detail = "no attachment configured"
		return res, nil
	}

	actx, cancel, h, err := f.begin(ctx, ac)
	if err != nil {
		return f.fail(ctx, ac, err)
	}
	defer cancel()

	abs, err := ValidateAttachment(path)
	if err != nil {
		return f.fail(actx, ac, form.WrapFieldError(form.ErrAttachmentInvalid, ac.Field.ID, err))
	}
	if err := f.drv.Upload(actx, h, abs); err != nil {
		return f.fail(actx, ac, err)
	}
	return f.finish(actx, ac, func(ctx context.Context) (bool, error) { return f.Verify(ctx, ac) })
}

// Verify implements Handler. The input must report at least one attached
// file.
func (f *FileHandler) Verify(ctx context.Context, ac *form.ActionContext) (bool, error) {
	return f.verifyState(ctx, ac, func(st driver.State) bool {
		return len(st.Files) > 0
	})
}

// attachmentTypes are the document formats application forms accept.
var attachmentTypes = []string{
	"application/pdf",
	"text/plain",
	"application/rtf",
	"text/rtf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.oasis.opendocument.text",
	"image/png",
	"image/jpeg",
}

// ValidateAttachment checks that path names a readable, non-empty document
// whose content matches an accepted format and, for PDFs, that the document
// parses. It returns the absolute path.
func ValidateAttachment(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve attachment path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("attachment not accessible: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("attachment %s is a directory", abs)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("attachment %s is empty", abs)
	}

	mt, err := mimetype.DetectFile(abs)
	if err != nil {
		return "", fmt.Errorf("read attachment %s: %w", filepath.Base(abs), err)
	}
	if !mimetype.EqualsAny(mt.String(), attachmentTypes...) {
		return "", fmt.Errorf("attachment %s has unsupported content type %s", filepath.Base(abs), mt.String())
	}

	if strings.EqualFold(filepath.Ext(abs), ".pdf") {
		if !mt.Is("application/pdf") {
			return "", fmt.Errorf("attachment %s is named .pdf but contains %s", filepath.Base(abs), mt.String())
		}
		conf := model.NewDefaultConfiguration()
		conf.ValidationMode = model.ValidationRelaxed
		if err := api.ValidateFile(abs, conf); err != nil {
			return "", fmt.Errorf("attachment %s is not a valid PDF: %w", filepath.Base(abs), err)
		}
	}
	return abs, nil
}
