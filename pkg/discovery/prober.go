package discovery

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/minefleet/asicscan/pkg/miner"
	"github.com/minefleet/asicscan/pkg/transport"
)

// maxFingerprintBody caps how much of a landing page is read. Vendor
// banners sit in the first few kilobytes; anything larger is not a miner UI.
const maxFingerprintBody = 1 << 20

// prober races discovery probes against a single address and reduces the
// responses to a classification.
type prober struct {
	timeout time.Duration
	logger  *zap.Logger

	// rpcPort and webPort are fixed on real devices; tests point them at
	// in-process listeners.
	rpcPort int
	webPort int

	// permits bounds the number of live probe sockets across the whole
	// scan. A probe holds its permit until its transport call returns,
	// including probes the race has already abandoned, so the bound covers
	// sockets whose results will be discarded.
	permits *semaphore.Weighted
}

func newProber(timeout time.Duration, permits *semaphore.Weighted, logger *zap.Logger) *prober {
	return &prober{
		timeout: timeout,
		logger:  logger,
		rpcPort: transport.DefaultRPCPort,
		webPort: 80,
		permits: permits,
	}
}

// classify races the candidate probes against one address and returns the
// first non-empty classification. Probes that fail, time out, or come back
// unrecognized are skipped; if none matches before the deadline the result
// is the empty classification with no error, indistinguishable from an
// address with nothing on it.
func (p *prober) classify(ctx context.Context, ip net.IP, probes []miner.Command) (miner.Classification, error) {
	if len(probes) == 0 {
		return miner.Classification{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	results := make(chan miner.Classification, len(probes))
	launched := 0
	for _, cmd := range probes {
		if p.permits != nil {
			if err := p.permits.Acquire(ctx, 1); err != nil {
				break
			}
		}
		launched++

		go func(cmd miner.Command) {
			if p.permits != nil {
				defer p.permits.Release(1)
			}
			results <- p.probe(ctx, ip, cmd)
		}(cmd)
	}

	for i := 0; i < launched; i++ {
		select {
		case cls := <-results:
			if !cls.IsEmpty() {
				return cls, nil
			}
		case <-ctx.Done():
			return miner.Classification{}, nil
		}
	}

	return miner.Classification{}, nil
}

// probe runs one discovery command and fingerprints the response. Transport
// failures are logged and swallowed: an unreachable port means "this vendor
// is not here", not a scan error.
func (p *prober) probe(ctx context.Context, ip net.IP, cmd miner.Command) miner.Classification {
	switch cmd.Kind {
	case miner.KindRPC:
		rpc := transport.NewRPC(ip,
			transport.WithRPCPort(p.rpcPort),
			transport.WithRPCTimeout(p.timeout),
			transport.WithRPCLogger(p.logger),
		)
		raw, err := rpc.Execute(ctx, cmd)
		if err != nil {
			p.logger.Debug("socket probe failed",
				zap.String("ip", ip.String()),
				zap.String("command", cmd.String()),
				zap.Error(err))
			return miner.Classification{}
		}
		return ClassifySocket(raw)

	case miner.KindWebAPI:
		probe, err := p.fetchWebRoot(ctx, ip)
		if err != nil {
			p.logger.Debug("web probe failed",
				zap.String("ip", ip.String()),
				zap.Error(err))
			return miner.Classification{}
		}
		return ClassifyWeb(*probe)

	default:
		return miner.Classification{}
	}
}

// fetchWebRoot captures the landing page without following redirects, since
// the redirect target is itself a fingerprint.
func (p *prober) fetchWebRoot(ctx context.Context, ip net.IP) (*WebProbe, error) {
	client := &http.Client{
		Timeout: p.timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	url := fmt.Sprintf("http://%s/", net.JoinHostPort(ip.String(), strconv.Itoa(p.webPort)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFingerprintBody))
	if err != nil {
		return nil, err
	}

	return &WebProbe{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       string(body),
	}, nil
}
