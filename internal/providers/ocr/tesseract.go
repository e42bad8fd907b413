package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"golang.org/x/sync/semaphore"
)

// DefaultLanguages recognizes Bengali with an English fallback for mixed text.
var DefaultLanguages = []string{"ben", "eng"}

var ErrEmptyImage = errors.New("ocr: empty image")

// Config configures the Tesseract engine.
type Config struct {
	Languages   []string
	MaxParallel int64
}

// TesseractExtractor implements text extraction with gosseract. Clients are
// not safe for concurrent use, so each call gets its own and the number of
// concurrent recognitions is bounded.
type TesseractExtractor struct {
	clientFactory func() *gosseract.Client
	languages     []string
	sem           *semaphore.Weighted
}

func NewTesseractExtractor(cfg Config) *TesseractExtractor {
	langs := cfg.Languages
	if len(langs) == 0 {
		langs = DefaultLanguages
	}
	parallel := cfg.MaxParallel
	if parallel <= 0 {
		parallel = 2
	}
	return &TesseractExtractor{
		clientFactory: gosseract.NewClient,
		languages:     langs,
		sem:           semaphore.NewWeighted(parallel),
	}
}

// ExtractText returns the plain text recognized in image.
func (e *TesseractExtractor) ExtractText(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", ErrEmptyImage
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer e.sem.Release(1)

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	if err := c.SetLanguage(e.languages...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}
