package autoscout

import (
	"context"
	"os"
	"os/exec"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"

	"autoscout-scraper/utils"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Session owns one headless browser. Every query opens its own tab on it;
// Close tears the browser down and must be called on every path.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *utils.Logger
}

// NewSession launches the browser. chromeBin overrides binary lookup.
func NewSession(chromeBin string, logger *utils.Logger) (*Session, error) {
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	logger.Info("[autoscout] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent(userAgent),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	cancel := func() {
		cancelBrowser()
		cancelAlloc()
	}

	// The first Run allocates the process and ties it to browserCtx. It must
	// not carry a deadline or the browser dies with it.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, eris.Wrap(err, "autoscout: start browser")
	}

	return &Session{ctx: browserCtx, cancel: cancel, logger: logger}, nil
}

// Tab opens a new browser tab that is closed when ctx is done or the
// returned cancel is called. The target is created here, without a
// deadline, so per-page timeouts only bound navigation.
func (s *Session) Tab(ctx context.Context) (context.Context, context.CancelFunc, error) {
	tabCtx, cancelTab := chromedp.NewContext(s.ctx)
	stop := context.AfterFunc(ctx, cancelTab)
	closeTab := func() {
		stop()
		cancelTab()
	}
	if err := chromedp.Run(tabCtx); err != nil {
		closeTab()
		return nil, nil, eris.Wrap(err, "autoscout: open tab")
	}
	return tabCtx, closeTab, nil
}

// Close shuts the browser down.
func (s *Session) Close() {
	s.cancel()
	s.logger.Debug("[autoscout] Browser session closed")
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
