// Package notify delivers the final job report to a webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hfischer/go7zbackup/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for job report notifications.
type Service interface {
	SendReport(ctx context.Context, cfg models.EffectiveNotification, report *models.JobReport) error
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the notify Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
}

// New creates a new notify service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// NewWithClient creates a notify service with a custom HTTP client (for
// testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient) *Impl {
	return &Impl{httpClient: httpClient, logger: logger}
}

// payload is the webhook request body.
type payload struct {
	Profile     string    `json:"profile,omitempty"`
	JobName     string    `json:"job_name"`
	RunID       string    `json:"run_id"`
	Status      string    `json:"status"`
	FailedStage string    `json:"failed_stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	Warnings    []string  `json:"warnings,omitempty"`
	StartTime   time.Time `json:"start_time"`
	Duration    string    `json:"duration"`

	ArchivePath      string `json:"archive_path,omitempty"`
	ArchiveSizeBytes int64  `json:"archive_size_bytes,omitempty"`
	Checksum         string `json:"checksum,omitempty"`
	Verified         bool   `json:"verified"`
	Pinned           bool   `json:"pinned"`

	Targets []targetLine `json:"targets,omitempty"`
}

type targetLine struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Files  int    `json:"files"`
	Bytes  int64  `json:"bytes"`
	Error  string `json:"error,omitempty"`
}

// SendReport posts the job report to the configured webhook. Whether a
// report should be sent at all (Enabled, OnSuccess, OnFailure) is decided
// here so callers can invoke it unconditionally.
func (s *Impl) SendReport(ctx context.Context, cfg models.EffectiveNotification, report *models.JobReport) error {
	if !s.shouldSend(cfg, report) {
		return nil
	}
	if cfg.WebhookURL == "" {
		return fmt.Errorf("notification profile %q has no webhook URL", cfg.ProfileName)
	}

	body := payload{
		Profile:          cfg.ProfileName,
		JobName:          report.JobName,
		RunID:            report.RunID,
		Status:           string(report.Status),
		FailedStage:      report.FailedStage,
		Error:            report.Error,
		Warnings:         report.Warnings,
		StartTime:        report.StartTime,
		Duration:         report.EndTime.Sub(report.StartTime).Round(time.Second).String(),
		ArchivePath:      report.ArchivePath,
		ArchiveSizeBytes: report.ArchiveSizeBytes,
		Checksum:         report.Checksum,
		Verified:         report.ArchiveVerified,
		Pinned:           report.Pinned,
	}
	for _, t := range report.Transfers {
		body.Targets = append(body.Targets, targetLine{
			Name:   t.TargetName,
			Status: t.Status,
			Files:  t.FilesTransferred,
			Bytes:  t.BytesTransferred,
			Error:  t.ErrorMessage,
		})
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	s.logger.Info().
		Str("job", report.JobName).
		Str("profile", cfg.ProfileName).
		Msg("notification sent")
	return nil
}

func (s *Impl) shouldSend(cfg models.EffectiveNotification, report *models.JobReport) bool {
	if !cfg.Enabled {
		return false
	}
	if report.Status == models.StatusFailure {
		return cfg.OnFailure
	}
	return cfg.OnSuccess
}
