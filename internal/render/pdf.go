// Package render turns a document preview into a printable PDF through
// headless Chrome.
package render

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ErrChromeMissing means no chromium binary is on PATH.
var ErrChromeMissing = errors.New("pdf renderer unavailable")

const defaultTimeout = 30 * time.Second

var chromeBinaries = []string{"chromium-browser", "chromium", "google-chrome"}

// Chrome prints HTML to PDF with a fresh headless browser per call.
type Chrome struct {
	Timeout time.Duration
}

func NewChrome(timeout time.Duration) *Chrome {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Chrome{Timeout: timeout}
}

func findChrome() (string, error) {
	for _, name := range chromeBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: chromium not installed", ErrChromeMissing)
}

// PDF renders body, an HTML fragment, as a Letter-sized PDF titled title.
func (c *Chrome) PDF(ctx context.Context, title, body string) ([]byte, error) {
	binary, err := findChrome()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(binary),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	var pdf []byte
	err = chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL(Page(title, body))),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdf, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(8.5).
				WithPaperHeight(11.0).
				WithMarginTop(0.75).
				WithMarginBottom(0.75).
				WithMarginLeft(0.75).
				WithMarginRight(0.75).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return pdf, nil
}

// Page wraps a preview fragment in a standalone HTML document.
func Page(title, body string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</title>\n<style>body{font-family:sans-serif;line-height:1.5}</style>\n</head>\n<body>\n")
	if title != "" {
		b.WriteString("<h1>")
		b.WriteString(html.EscapeString(title))
		b.WriteString("</h1>\n")
	}
	b.WriteString(body)
	b.WriteString("</body>\n</html>\n")
	return b.String()
}

// dataURL percent-encodes everything outside the RFC 3986 unreserved set;
// spaces become %20, never '+'.
func dataURL(doc string) string {
	var b strings.Builder
	b.WriteString("data:text/html;charset=utf-8,")
	for i := 0; i < len(doc); i++ {
		c := doc[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// Filename derives an attachment name from a title.
func Filename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	name := b.String()
	if len(name) > 50 {
		name = name[:50]
	}
	if name == "" {
		name = "document"
	}
	return name + ".pdf"
}
