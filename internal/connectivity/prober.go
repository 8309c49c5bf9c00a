package connectivity

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"example.com/treniren/internal/logging"
)

// StatusSetter receives online/offline events.
type StatusSetter interface {
	SetOnline()
	SetOffline()
}

// Prober turns reachability of a health endpoint into online/offline events, standing in
// for the browser's own connectivity signals. It reports transitions only.
type Prober struct {
	client   *http.Client
	url      string
	interval time.Duration
	target   StatusSetter
	logger   *log.Logger

	last *bool
}

// NewProber constructs a Prober that checks url every interval.
func NewProber(url string, interval time.Duration, target StatusSetter, logger *log.Logger) *Prober {
	if logger == nil {
		logger = logging.New(logging.Options{Prefix: "prober"})
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Prober{
		client:   &http.Client{Timeout: interval},
		url:      url,
		interval: interval,
		target:   target,
		logger:   logger,
	}
}

// Check probes once and emits an event when connectivity changed.
func (p *Prober) Check(ctx context.Context) bool {
	online := p.reachable(ctx)
	if p.last == nil || *p.last != online {
		p.last = &online
		if online {
			p.target.SetOnline()
		} else {
			p.target.SetOffline()
		}
	}
	return online
}

// Run probes immediately and then on every interval until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Check(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Prober) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.logger.Error("invalid probe url", "url", p.url, "err", err)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("probe failed", "err", err)
		return false
	}
	resp.Body.Close()
	// Any HTTP answer means the network path works; server errors are the API's concern.
	return true
}
