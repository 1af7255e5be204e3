// Package wake provides Wake-on-LAN for transfer targets that sleep
// between backup runs.
package wake

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/hfischer/go7zbackup/internal/models"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout = 60 * time.Second
	pollInterval   = 2 * time.Second
)

// Service defines the interface for waking a transfer target.
type Service interface {
	Wake(ctx context.Context, cfg models.WakeConfig) *models.WakeResult
}

// Client wraps the wol library for mocking.
type Client interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultClient is the default implementation using mdlayher/wol.
type DefaultClient struct{}

// Wake sends a magic packet to the specified MAC address.
func (c *DefaultClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	if err := client.Wake(ip.String()+":9", mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}

	return nil
}

// Impl implements the wake Service interface.
type Impl struct {
	wolClient    Client
	httpClient   HTTPClient
	pollInterval time.Duration
	logger       zerolog.Logger
}

// New creates a new wake service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		wolClient: &DefaultClient{},
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// NewWithClients creates a new wake service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, wolClient Client, httpClient HTTPClient) *Impl {
	return &Impl{
		wolClient:    wolClient,
		httpClient:   httpClient,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Wake sends a magic packet and, when a poll URL is configured, waits for
// the target to answer before returning. Failures are recorded in the
// result, never returned as an error.
func (s *Impl) Wake(ctx context.Context, cfg models.WakeConfig) *models.WakeResult {
	result := &models.WakeResult{}
	start := time.Now()

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
		return result
	}

	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("broadcast", cfg.BroadcastIP).
		Msg("sending WOL packet")

	if err := s.wolClient.Wake(cfg.BroadcastIP, mac); err != nil {
		result.Error = err
		return result
	}

	result.PacketSent = true

	if cfg.PollURL == "" {
		result.WaitDuration = time.Since(start)
		result.TargetReady = true
		return result
	}

	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	s.logger.Info().
		Str("url", cfg.PollURL).
		Dur("timeout", timeout).
		Msg("waiting for target to become available")

	if err := s.waitForTarget(ctx, cfg.PollURL, timeout); err != nil {
		result.WaitDuration = time.Since(start)
		result.Error = err
		return result
	}

	result.TargetReady = true
	result.WaitDuration = time.Since(start)

	s.logger.Info().
		Dur("duration", result.WaitDuration).
		Msg("target is ready")

	return result
}

func (s *Impl) waitForTarget(ctx context.Context, pollURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for target at %s", pollURL)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := s.httpClient.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			// Any response means the target is up.
			return nil
		}

		s.logger.Debug().Err(err).Msg("target not ready yet")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}
