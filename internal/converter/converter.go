package converter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Converter turns a rendered document into a PDF.
type Converter interface {
	Convert(ctx context.Context, inputPath, outputDir string) (string, error)
	Available() bool
	Location() string
}

// pdfName is the file name a converter produces for inputPath.
func pdfName(inputPath string) string {
	base := filepath.Base(inputPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".pdf"
}

func checkInput(tool, inputPath string) error {
	info, err := os.Stat(inputPath)
	if err != nil {
		return &ConversionError{Tool: tool, Message: fmt.Sprintf("input %s not readable", filepath.Base(inputPath)), Cause: err}
	}
	if info.IsDir() {
		return &ConversionError{Tool: tool, Message: fmt.Sprintf("input %s is a directory", filepath.Base(inputPath))}
	}
	return nil
}
