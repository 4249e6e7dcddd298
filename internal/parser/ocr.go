package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"docuflow/internal/config"
)

// OCR recognises the text of one page (1-based) of a PDF payload.
type OCR interface {
	RecognizePage(ctx context.Context, data []byte, page int) (string, error)
}

// CommandRunner executes external commands. Tests substitute it.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// ErrOCRToolNotFound is returned by CheckOCRAvailable when a binary is missing.
var ErrOCRToolNotFound = errors.New("pdftoppm and tesseract are required for OCR")

// CheckOCRAvailable reports whether the OCR binaries are on PATH.
func CheckOCRAvailable() error {
	for _, bin := range []string{"pdftoppm", "tesseract"} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%w: %s not found", ErrOCRToolNotFound, bin)
		}
	}
	return nil
}

// TesseractOCR renders a page with pdftoppm and reads it with tesseract.
type TesseractOCR struct {
	runner    CommandRunner
	languages string
	dpi       int
	timeout   time.Duration
}

// NewTesseractOCR uses the real binaries.
func NewTesseractOCR(cfg config.OCRConfig) *TesseractOCR {
	return NewTesseractOCRWithRunner(cfg, execRunner{})
}

// NewTesseractOCRWithRunner uses the given runner.
func NewTesseractOCRWithRunner(cfg config.OCRConfig, runner CommandRunner) *TesseractOCR {
	o := &TesseractOCR{
		runner:    runner,
		languages: cfg.Languages,
		dpi:       cfg.DPI,
		timeout:   cfg.Timeout,
	}
	if o.languages == "" {
		o.languages = "eng"
	}
	if o.dpi <= 0 {
		o.dpi = 300
	}
	if o.timeout <= 0 {
		o.timeout = 2 * time.Minute
	}
	return o
}

func (o *TesseractOCR) RecognizePage(ctx context.Context, data []byte, page int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	dir, err := os.MkdirTemp("", "docuflow-ocr-*")
	if err != nil {
		return "", fmt.Errorf("ocr temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return "", fmt.Errorf("ocr write input: %w", err)
	}

	n := strconv.Itoa(page)
	prefix := filepath.Join(dir, "page")
	if _, err := o.runner.Run(ctx, "pdftoppm",
		"-f", n, "-l", n,
		"-r", strconv.Itoa(o.dpi),
		"-gray", "-png", "-singlefile",
		input, prefix,
	); err != nil {
		return "", err
	}

	out, err := o.runner.Run(ctx, "tesseract", prefix+".png", "stdout", "-l", o.languages)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
