package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

const navigateAttempts = 3

// Extractor loads pages in a shared browser and returns their visible text.
// The browser is launched on first use and reused until Close.
type Extractor struct {
	cfg    Config
	guard  *Guard
	logger zerolog.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
	closed   bool

	// backoff is the wait before navigation attempt n+1.
	backoff func(attempt int) time.Duration
}

// NewExtractor creates an extractor. No browser is started until Extract.
func NewExtractor(cfg Config, logger zerolog.Logger) *Extractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	logger = logger.With().Str("component", "browser").Logger()
	return &Extractor{
		cfg:    cfg,
		guard:  NewGuard(cfg.Security, logger),
		logger: logger,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt)) * time.Second
		},
	}
}

// Extract navigates to rawURL and returns at most maxChars characters of the
// page's visible text. maxChars <= 0 means no limit.
func (e *Extractor) Extract(ctx context.Context, rawURL string, maxChars int) (*Page, error) {
	if err := e.guard.Check(rawURL); err != nil {
		return nil, err
	}
	b, err := e.connect()
	if err != nil {
		return nil, err
	}

	page, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, &Error{Code: ErrCodeBrowserCrash, Message: fmt.Sprintf("failed to open page: %v", err)}
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			e.logger.Debug().Err(cerr).Msg("Failed to close page")
		}
	}()

	if err := e.navigate(ctx, page, rawURL); err != nil {
		return nil, err
	}

	text, err := page.Timeout(e.cfg.Timeout).Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return nil, &Error{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("failed to extract text: %v", err)}
	}

	out := &Page{URL: rawURL}
	if info, err := page.Info(); err == nil {
		out.URL = info.URL
		out.Title = info.Title
	}
	out.Text, out.Truncated = Truncate(strings.TrimSpace(text.Value.String()), maxChars)

	e.logger.Debug().
		Str("url", out.URL).
		Int("chars", utf8.RuneCountInString(out.Text)).
		Bool("truncated", out.Truncated).
		Msg("Page extracted")
	return out, nil
}

func (e *Extractor) navigate(ctx context.Context, page *rod.Page, rawURL string) error {
	var lastErr error
	for attempt := 1; attempt <= navigateAttempts; attempt++ {
		p := page.Context(ctx).Timeout(e.cfg.Timeout)
		err := p.Navigate(rawURL)
		if err == nil {
			err = p.WaitLoad()
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < navigateAttempts {
			e.logger.Debug().Err(err).Int("attempt", attempt).Str("url", rawURL).Msg("Navigation failed, retrying")
			select {
			case <-time.After(e.backoff(attempt)):
			case <-ctx.Done():
				return &Error{Code: ErrCodeTimeout, Message: ctx.Err().Error()}
			}
		}
	}

	if errors.Is(lastErr, context.DeadlineExceeded) {
		return &Error{Code: ErrCodeTimeout, Message: fmt.Sprintf("page load timeout for %s", rawURL)}
	}
	return &Error{
		Code:    ErrCodeNavigation,
		Message: fmt.Sprintf("failed to navigate to %s after %d attempts: %v", rawURL, navigateAttempts, lastErr),
	}
}

// connect launches or attaches to the browser once.
func (e *Extractor) connect() (*rod.Browser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, &Error{Code: ErrCodeBrowserCrash, Message: "extractor is closed"}
	}
	if e.browser != nil {
		return e.browser, nil
	}

	controlURL := e.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(e.cfg.Headless)
		if e.cfg.NoSandbox {
			l = l.NoSandbox(true)
		}
		if e.cfg.ChromePath != "" {
			l = l.Bin(e.cfg.ChromePath)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, &Error{Code: ErrCodeBrowserCrash, Message: fmt.Sprintf("failed to launch chromium: %v", err)}
		}
		e.launcher = l
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if e.launcher != nil {
			e.launcher.Kill()
			e.launcher = nil
		}
		return nil, &Error{Code: ErrCodeBrowserCrash, Message: fmt.Sprintf("failed to connect to devtools: %v", err)}
	}
	e.browser = b
	e.logger.Info().Bool("launched", e.launcher != nil).Msg("Browser connected")
	return b, nil
}

// Close shuts the browser down. Extract fails afterwards.
func (e *Extractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true

	var err error
	if e.browser != nil {
		err = e.browser.Close()
		e.browser = nil
	}
	if e.launcher != nil {
		e.launcher.Kill()
		e.launcher.Cleanup()
		e.launcher = nil
	}
	return err
}

// Truncate cuts s to at most limit runes. limit <= 0 keeps s whole.
func Truncate(s string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	return string([]rune(s)[:limit]), true
}
