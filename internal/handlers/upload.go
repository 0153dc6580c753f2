package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/vidfriends/mediahub/internal/apperr"
)

const multipartMemory = 8 << 20

// stager copies multipart file parts into local temp files for upload.
type stager struct {
	dir      string
	maxBytes int64
}

// parse reads the multipart form, bounded by maxBytes.
func (s stager) parse(w http.ResponseWriter, r *http.Request) error {
	if s.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		return apperr.Validation("invalid multipart form")
	}
	return nil
}

// stage writes the file part named field to a temp file and returns its
// path, or "" when the part is absent. The caller owns the file.
func (s stager) stage(r *http.Request, field string) (string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil
		}
		return "", apperr.Validation("invalid "+field+" file", field)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	dst, err := os.CreateTemp(s.dir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}

	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("stage %s: %w", field, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("close staging file: %w", err)
	}
	return dst.Name(), nil
}

// formValue returns the trimmed first non-empty value among keys.
func formValue(r *http.Request, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(r.FormValue(key)); v != "" {
			return v
		}
	}
	return ""
}

// optionalFormValue distinguishes an absent field from an empty one.
func optionalFormValue(r *http.Request, key string) *string {
	if r.MultipartForm == nil {
		return nil
	}
	values, ok := r.MultipartForm.Value[key]
	if !ok || len(values) == 0 {
		return nil
	}
	v := values[0]
	return &v
}
