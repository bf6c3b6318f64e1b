package capture

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-logr/logr"
	"github.com/playwright-community/playwright-go"
	"github.com/robfig/cron/v3"
	"golang.org/x/xerrors"
)

type PageConfig struct {
	URL string
	// Schedule is a cron expression; descriptors such as "@every 10s" are accepted.
	Schedule string

	ViewportWidth  int
	ViewportHeight int

	Timeout time.Duration
	Delay   time.Duration

	Headless                  bool
	ChromeDevtoolsProtocolURL string

	Headers       map[string]string
	MaskSelectors []string
}

func DefaultPageConfig() PageConfig {
	return PageConfig{
		Schedule:       "@every 10s",
		ViewportWidth:  1280,
		ViewportHeight: 720,
		Timeout:        30 * time.Second,
		Delay:          time.Second,
		Headless:       true,
	}
}

// PageSource screenshots a web page on a cron schedule, e.g. a dashboard or a
// camera page that only renders in a browser.
type PageSource struct {
	config   PageConfig
	schedule cron.Schedule
	log      logr.Logger
}

func NewPageSource(config PageConfig, log logr.Logger) (*PageSource, error) {
	if config.URL == "" {
		return nil, xerrors.New("page url is empty")
	}
	schedule, err := cron.ParseStandard(config.Schedule)
	if err != nil {
		return nil, xerrors.Errorf("failed to parse schedule %q: %w", config.Schedule, err)
	}
	return &PageSource{
		config:   config,
		schedule: schedule,
		log:      log,
	}, nil
}

type pageSession struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
	owned   bool
}

func (s *PageSource) open() (*pageSession, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, xerrors.Errorf("failed to start playwright: %w", err)
	}
	session := &pageSession{pw: pw}

	if s.config.ChromeDevtoolsProtocolURL == "" {
		session.browser, err = pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(s.config.Headless),
		})
		if err != nil {
			session.close()
			return nil, xerrors.Errorf("failed to launch browser: %w", err)
		}
		session.owned = true
	} else {
		session.browser, err = pw.Chromium.ConnectOverCDP(s.config.ChromeDevtoolsProtocolURL)
		if err != nil {
			session.close()
			return nil, xerrors.Errorf("failed to connect to browser via CDP at %s: %w", s.config.ChromeDevtoolsProtocolURL, err)
		}
	}

	session.page, err = session.browser.NewPage()
	if err != nil {
		session.close()
		return nil, xerrors.Errorf("failed to create new page: %w", err)
	}
	if err := session.page.SetViewportSize(s.config.ViewportWidth, s.config.ViewportHeight); err != nil {
		session.close()
		return nil, xerrors.Errorf("failed to set viewport size: %w", err)
	}
	if len(s.config.Headers) > 0 {
		if err := session.page.SetExtraHTTPHeaders(s.config.Headers); err != nil {
			session.close()
			return nil, xerrors.Errorf("failed to set HTTP headers: %w", err)
		}
	}
	return session, nil
}

func (p *pageSession) close() {
	if p.page != nil {
		_ = p.page.Close()
	}
	if p.browser != nil && p.owned {
		_ = p.browser.Close()
	}
	_ = p.pw.Stop()
}

func (s *PageSource) shoot(ctx context.Context, page playwright.Page) (*Frame, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = page.Close()
		case <-done:
		}
	}()

	if _, err := page.Goto(s.config.URL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(s.config.Timeout.Milliseconds())),
	}); err != nil {
		return nil, xerrors.Errorf("failed to navigate to %s: %w", s.config.URL, err)
	}

	if s.config.Delay > 0 {
		select {
		case <-time.After(s.config.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if len(s.config.MaskSelectors) > 0 {
		if err := mask(page, s.config.MaskSelectors); err != nil {
			return nil, err
		}
	}

	screenshot, err := page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to take screenshot: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return nil, xerrors.Errorf("failed to decode screenshot: %w", err)
	}
	return &Frame{
		Image:     img,
		Timestamp: time.Now(),
	}, nil
}

// mask blacks out elements such as clocks or tickers that change on every
// capture and would otherwise always register as motion.
func mask(page playwright.Page, selectors []string) error {
	unique := make([]byte, 8)
	if _, err := rand.Read(unique); err != nil {
		return xerrors.Errorf("failed to generate unique identifier: %w", err)
	}
	className := fmt.Sprintf("mask-%s", hex.EncodeToString(unique))

	css := fmt.Sprintf(`.%s { background: black !important; color: black !important; visibility: visible !important; }
.%s * { visibility: hidden !important; }`, className, className)

	script := fmt.Sprintf(`(selectors) => {
		const style = document.createElement('style');
		style.textContent = %q;
		document.head.appendChild(style);
		selectors.forEach(selector => {
			document.querySelectorAll(selector).forEach(element => element.classList.add(%q));
		});
	}`, css, className)

	if _, err := page.Evaluate(script, selectors); err != nil {
		return xerrors.Errorf("failed to mask selectors: %w", err)
	}
	return nil
}

// Capture takes a single screenshot outside of any schedule.
func (s *PageSource) Capture(ctx context.Context) (*Frame, error) {
	session, err := s.open()
	if err != nil {
		return nil, err
	}
	defer session.close()

	frame, err := s.shoot(ctx, session.page)
	if err != nil {
		return nil, err
	}
	frame.Sequence = 1
	return frame, nil
}

func (s *PageSource) Run(ctx context.Context, out chan<- *Frame) error {
	session, err := s.open()
	if err != nil {
		return err
	}
	defer session.close()

	ticks := make(chan struct{}, 1)
	c := cron.New()
	c.Schedule(s.schedule, cron.FuncJob(func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	}))
	c.Start()
	defer c.Stop()

	var seq sequencer
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
		}

		frame, err := s.shoot(ctx, session.page)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error(err, "failed to capture page", "url", s.config.URL)
			continue
		}

		seq.stamp(frame)
		if !Offer(ctx, out, frame) {
			s.log.V(1).Info("frame dropped", "sequence", frame.Sequence)
		}
	}
}
