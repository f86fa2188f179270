package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/haasonsaas/hapra/internal/scheduler"
)

// Validate checks the configuration after defaults are applied and reports
// every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if err := ValidateVersion(c.Version); err != nil {
		errs = append(errs, err)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if err := validateURL("server.public_url", c.Server.PublicURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("runtime.url", c.Runtime.URL); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("tools.url", c.Tools.URL); err != nil {
		errs = append(errs, err)
	}

	for i, rw := range c.Chat.Rewrites {
		if rw.From == "" {
			errs = append(errs, fmt.Errorf("chat.rewrites[%d].from is required", i))
		}
	}
	for i, rw := range c.Scheduler.Rewrites {
		if rw.From == "" {
			errs = append(errs, fmt.Errorf("scheduler.rewrites[%d].from is required", i))
		}
	}
	if c.Chat.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("chat.rate_limit must not be negative"))
	}

	if c.Heartbeat.Enabled {
		if _, err := scheduler.ValidateCron(c.Heartbeat.Cron); err != nil {
			errs = append(errs, fmt.Errorf("heartbeat.cron: %w", err))
		}
		if strings.TrimSpace(c.Heartbeat.Message) == "" {
			errs = append(errs, fmt.Errorf("heartbeat.message is required when heartbeat is enabled"))
		}
	}

	for app, card := range c.Cards {
		if strings.TrimSpace(app) == "" {
			errs = append(errs, fmt.Errorf("cards: app name must not be empty"))
		}
		if card.AvatarURL != nil {
			if err := validateURL("cards."+app+".avatar_url", *card.AvatarURL); err != nil {
				errs = append(errs, err)
			}
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or text", c.Logging.Format))
	}

	tracing := c.Observability.Tracing
	if tracing.Enabled && strings.TrimSpace(tracing.Endpoint) == "" {
		errs = append(errs, fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled"))
	}
	if tracing.SamplingRate < 0 || tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("observability.tracing.sampling_rate must be between 0 and 1"))
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path))
	}

	return errors.Join(errs...)
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s %q must be an http(s) URL", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s %q has no host", field, raw)
	}
	return nil
}
