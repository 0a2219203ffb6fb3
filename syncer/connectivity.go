package syncer

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Connectivity supplies the boolean "online" signal that gates remote
// calls.
type Connectivity interface {
	Online() bool
}

// Notifier extends Connectivity with transition events.
type Notifier interface {
	Connectivity
	// Subscribe returns a channel receiving the new online state on
	// every transition, and a cancel function.
	Subscribe() (<-chan bool, func())
}

// Static is a manually driven Notifier, used by tests and by callers
// that already know their connectivity state.
type Static struct {
	online  atomic.Bool
	mu      sync.Mutex
	subs    map[int]chan bool
	nextSub int
}

// NewStatic creates a Static in the given initial state.
func NewStatic(online bool) *Static {
	s := &Static{subs: make(map[int]chan bool)}
	s.online.Store(online)
	return s
}

// Online implements Connectivity.
func (s *Static) Online() bool { return s.online.Load() }

// SetOnline flips the state, notifying subscribers on transitions.
func (s *Static) SetOnline(online bool) {
	if s.online.Swap(online) == online {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- online:
		default:
		}
	}
}

// Subscribe implements Notifier.
func (s *Static) Subscribe() (<-chan bool, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan bool, 4)
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// DefaultProbeURL answers HEAD requests with 204 and no body.
const DefaultProbeURL = "https://connectivitycheck.gstatic.com/generate_204"

// Probe derives connectivity by periodically issuing a HEAD request
// against a probe URL. It embeds a Static and drives it from the probe
// loop.
type Probe struct {
	*Static
	url      string
	interval time.Duration
	client   *http.Client
	log      zerolog.Logger
}

// NewProbe creates a Probe. Empty url and zero interval fall back to
// DefaultProbeURL and 30 seconds. The probe starts offline until the
// first check succeeds.
func NewProbe(url string, interval time.Duration, logger zerolog.Logger) *Probe {
	if url == "" {
		url = DefaultProbeURL
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Probe{
		Static:   NewStatic(false),
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		log:      logger.With().Str("component", "connectivity").Logger(),
	}
}

// Run probes immediately and then on every tick until ctx is done.
func (p *Probe) Run(ctx context.Context) {
	p.check(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

func (p *Probe) check(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.SetOnline(false)
		return
	}
	resp, err := p.client.Do(req)
	online := err == nil && resp.StatusCode < 500
	if resp != nil {
		resp.Body.Close() //nolint:errcheck
	}
	if online != p.Online() {
		p.log.Info().Bool("online", online).Msg("connectivity changed")
	}
	p.SetOnline(online)
}
