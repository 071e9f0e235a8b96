package ingestion

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	errMissingFile = errors.New("no file uploaded")
	errEmptyFile   = errors.New("file is empty")
	errNotDICOM    = errors.New("only .dcm files are accepted")
)

type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// Validator screens uploads before they reach the pipeline. Only the declared
// file name and size are checked; content is left to the decoder.
type Validator struct {
	extensions map[string]struct{}
}

func NewValidator(extensions ...string) *Validator {
	if len(extensions) == 0 {
		extensions = []string{".dcm"}
	}
	ve := make(map[string]struct{})
	for _, ext := range extensions {
		ext = strings.TrimSpace(strings.ToLower(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		ve[ext] = struct{}{}
	}
	return &Validator{extensions: ve}
}

func (v *Validator) Validate(fileName string, size int64) error {
	if v == nil {
		return ValidationError{reason: errors.New("validator not initialised")}
	}
	if strings.TrimSpace(fileName) == "" && size <= 0 {
		return ValidationError{reason: errMissingFile}
	}
	if size <= 0 {
		return ValidationError{reason: errEmptyFile}
	}
	if !v.Accepts(fileName) {
		return ValidationError{reason: fmt.Errorf("%s: %w", fileName, errNotDICOM)}
	}
	return nil
}

func (v *Validator) Accepts(fileName string) bool {
	_, ok := v.extensions[strings.ToLower(filepath.Ext(fileName))]
	return ok
}

func isEmptyFile(err error) bool {
	return errors.Is(err, errEmptyFile) || errors.Is(err, errMissingFile)
}
