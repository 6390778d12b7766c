package export

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Printer is the platform print facility: it turns a standalone document into printed output.
type Printer interface {
	Print(ctx context.Context, document string) ([]byte, error)
}

var chromeBinaries = []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}

// ChromePrinter prints documents to PDF with headless Chrome.
type ChromePrinter struct {
	Timeout  time.Duration
	lookPath func(string) (string, error)
}

func NewChromePrinter(timeout time.Duration) *ChromePrinter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChromePrinter{Timeout: timeout, lookPath: exec.LookPath}
}

func (p *ChromePrinter) binary() (string, error) {
	for _, name := range chromeBinaries {
		if path, err := p.lookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: chrome not installed", ErrPrintUnavailable)
}

func (p *ChromePrinter) Print(ctx context.Context, document string) ([]byte, error) {
	execPath, err := p.binary()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(execPath),
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
		chromedp.Navigate("data:text/html;charset=utf-8,"+percentEncodeForDataURL(document)),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			// A4; margins come from the document's @page rule.
			pdf, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				WithPreferCSSPageSize(true).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrintUnavailable, err)
	}
	return pdf, nil
}

// percentEncodeForDataURL encodes everything but RFC 3986 unreserved characters, so spaces
// become %20 rather than +.
func percentEncodeForDataURL(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
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
