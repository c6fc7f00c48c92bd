package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"leakwatch/internal/model"
	"leakwatch/internal/monitor"
)

// Notifier POSTs alerts to a webhook as JSON.
type Notifier struct {
	url    string
	client *http.Client
	clock  monitor.Clock
	logger monitor.Logger
}

// NewNotifier creates a notifier for rawURL. Loopback destinations are
// refused unless allowLocal is set; link-local and unspecified addresses,
// which include cloud metadata endpoints, are always refused.
func NewNotifier(rawURL string, allowLocal bool, clock monitor.Clock, logger monitor.Logger) (*Notifier, error) {
	if err := validateWebhookURL(rawURL, allowLocal); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = monitor.RealClock{}
	}
	if logger == nil {
		logger = monitor.NewNopLogger()
	}
	return &Notifier{
		url:    rawURL,
		client: newWebhookClient(allowLocal),
		clock:  clock,
		logger: logger,
	}, nil
}

// newWebhookClient checks every address it connects to after name
// resolution, so a hostname that resolves to a refused range fails too.
// Redirects are not followed; a 3xx reply is a delivery failure.
func newWebhookClient(allowLocal bool) *http.Client {
	dialer := &net.Dialer{
		Timeout: 5 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			ip, err := netip.ParseAddr(host)
			if err != nil {
				return fmt.Errorf("webhook dial to %q: %w", address, err)
			}
			return checkWebhookAddr(ip, allowLocal)
		},
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext

	return &http.Client{
		Timeout:   5 * time.Second,
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// validateWebhookURL checks that the webhook URL uses http/https and does not
// name a refused host or address.
func validateWebhookURL(rawURL string, allowLocal bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("webhook URL must use http or https scheme, got %q", scheme)
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return fmt.Errorf("webhook URL has no host")
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		return checkWebhookAddr(ip, allowLocal)
	}
	if host == "metadata.google.internal" {
		return fmt.Errorf("webhook URL host %q is blocked", host)
	}
	if !allowLocal && (host == "localhost" || strings.HasSuffix(host, ".localhost")) {
		return fmt.Errorf("webhook URL host %q is loopback; set notify.allow_local to permit it", host)
	}
	return nil
}

func checkWebhookAddr(ip netip.Addr, allowLocal bool) error {
	ip = ip.Unmap().WithZone("")
	switch {
	case ip.IsUnspecified(), ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("webhook address %s is blocked", ip)
	case ip.IsLoopback() && !allowLocal:
		return fmt.Errorf("webhook address %s is loopback; set notify.allow_local to permit it", ip)
	}
	return nil
}

type webhookBody struct {
	Event   string      `json:"event"`
	Payload model.Alert `json:"payload"`
	TS      string      `json:"ts"`
}

// Send delivers one alert. Non-2xx responses are errors.
func (n *Notifier) Send(ctx context.Context, a model.Alert) error {
	data, err := json.Marshal(webhookBody{
		Event:   "alert",
		Payload: a,
		TS:      n.clock.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encoding alert %d: %w", a.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting alert %d: %w", a.ID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("posting alert %d: webhook returned %s", a.ID, resp.Status)
	}
	return nil
}

// Run sends every alert received on alerts until the channel closes or ctx
// is cancelled. Delivery failures are logged and skipped.
func (n *Notifier) Run(ctx context.Context, alerts <-chan model.Alert) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-alerts:
			if !ok {
				return
			}
			if err := n.Send(ctx, a); err != nil {
				n.logger.Warn("webhook delivery failed", "alert_id", a.ID, "error", err)
				continue
			}
			n.logger.Debug("webhook delivered", "alert_id", a.ID)
		}
	}
}
