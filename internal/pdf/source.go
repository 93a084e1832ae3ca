// Package pdf reads page text out of source documents. The pipeline only
// depends on the PageSource interface; the fitz implementation is the one
// real backend and tests substitute in-memory sources.
package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical-ai/table-engine/internal/domain"
)

// PageSource yields per-page text for a document.
type PageSource interface {
	// PageCount returns the number of pages.
	PageCount() int
	// PageText returns the text content of a 1-based page number.
	PageText(ctx context.Context, page int) (string, error)
	// Close releases document resources.
	Close() error
}

// FitzSource reads pages through go-fitz.
type FitzSource struct {
	doc  *fitz.Document
	path string
}

// Open validates and opens a PDF document.
func Open(path string) (*FitzSource, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	doc, err := fitz.New(path)
	if err != nil {
		return nil, domain.ExtractionError("failed to open PDF", err)
	}
	if doc.NumPage() == 0 {
		doc.Close()
		return nil, domain.ExtractionError("PDF has no pages", nil)
	}
	return &FitzSource{doc: doc, path: path}, nil
}

// PageCount returns the number of pages in the document.
func (s *FitzSource) PageCount() int {
	return s.doc.NumPage()
}

// PageText extracts the text layer of one page.
func (s *FitzSource) PageText(ctx context.Context, page int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if page < 1 || page > s.doc.NumPage() {
		return "", domain.ExtractionError(fmt.Sprintf("page %d out of range (1-%d)", page, s.doc.NumPage()), nil)
	}
	text, err := s.doc.Text(page - 1)
	if err != nil {
		return "", domain.ExtractionError(fmt.Sprintf("failed to read page %d", page), err)
	}
	return text, nil
}

// Close releases the underlying document.
func (s *FitzSource) Close() error {
	if s.doc != nil {
		err := s.doc.Close()
		s.doc = nil
		return err
	}
	return nil
}

// validatePath rejects missing, non-regular, or non-PDF paths before fitz
// gets a chance to crash on them.
func validatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.ValidationError("PDF path is empty", nil)
	}
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return domain.ValidationError(fmt.Sprintf("not a PDF file: %s", path), nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		return domain.ValidationError(fmt.Sprintf("cannot access %s", path), err)
	}
	if info.IsDir() {
		return domain.ValidationError(fmt.Sprintf("%s is a directory", path), nil)
	}
	if info.Size() == 0 {
		return domain.ValidationError(fmt.Sprintf("%s is empty", path), nil)
	}
	return nil
}

// MemorySource serves pages from a string slice. Tests and the end-to-end
// scenarios use it in place of a real document.
type MemorySource struct {
	Pages []string
}

// PageCount returns the number of pages.
func (m *MemorySource) PageCount() int { return len(m.Pages) }

// PageText returns the text of a 1-based page number.
func (m *MemorySource) PageText(ctx context.Context, page int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if page < 1 || page > len(m.Pages) {
		return "", domain.ExtractionError(fmt.Sprintf("page %d out of range (1-%d)", page, len(m.Pages)), nil)
	}
	return m.Pages[page-1], nil
}

// Close is a no-op.
func (m *MemorySource) Close() error { return nil }
