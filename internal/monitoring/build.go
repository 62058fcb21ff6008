package monitoring

import (
	"context"
	"fmt"

	"github.com/rcourtman/fabricpulse/internal/config"
	"github.com/rcourtman/fabricpulse/internal/events"
	"github.com/rcourtman/fabricpulse/internal/output"
	"github.com/rcourtman/fabricpulse/pkg/fabric"
	"github.com/rcourtman/fabricpulse/pkg/nms"
	"github.com/rcourtman/fabricpulse/pkg/tlsutil"
	"github.com/rs/zerolog/log"
)

// NewFromConfig wires the production clients described by cfg into a Poller.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Poller, error) {
	targets := make([]Target, 0, len(cfg.Controllers))
	for _, ctrl := range cfg.Controllers {
		client, err := fabric.NewClient(fabric.ClientConfig{
			Name:        ctrl.Name,
			Address:     ctrl.Address,
			Scheme:      cfg.Scheme,
			User:        cfg.ControllerUser,
			Password:    cfg.ControllerPassword,
			VerifySSL:   cfg.VerifySSL,
			Fingerprint: cfg.Fingerprint,
			Timeout:     cfg.RequestTimeout,
			FaultFilter: cfg.FaultQuery,
		})
		if err != nil {
			return nil, err
		}
		targets = append(targets, Target{
			Name:     ctrl.Name,
			Address:  ctrl.Address,
			Hostname: ctrl.Hostname,
			API:      client,
		})
	}

	opts := Options{
		Concurrency: cfg.Concurrency,
		Resolver:    tlsutil.NewResolver(),
	}

	if cfg.NMS.BaseURL != "" {
		locator, err := nms.NewClient(nms.ClientConfig{
			BaseURL:   cfg.NMS.BaseURL,
			User:      cfg.NMS.User,
			Password:  cfg.NMS.Password,
			VerifySSL: cfg.VerifySSL,
			Timeout:   cfg.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		opts.Locator = locator
	} else {
		log.Warn().Msg("No monitoring system URL configured, events will carry no node ID")
	}

	forwarder, err := events.NewForwarder(events.Config{
		Host:        cfg.Events.Host,
		Port:        cfg.Events.Port,
		Source:      cfg.Events.Source,
		UEI:         cfg.Events.UEI,
		DialTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}
	opts.Events = forwarder

	filter, err := output.NewUsageFilter(cfg.UsageDenyList)
	if err != nil {
		return nil, err
	}

	var mirror output.Uploader
	if cfg.ObjectStore.Enabled() {
		m, err := output.NewMirror(output.MirrorConfig{
			Endpoint:  cfg.ObjectStore.Endpoint,
			Bucket:    cfg.ObjectStore.Bucket,
			Prefix:    cfg.ObjectStore.Prefix,
			Region:    cfg.ObjectStore.Region,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			UseSSL:    cfg.ObjectStore.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
		if err := m.EnsureBucket(ctx); err != nil {
			log.Warn().Err(err).Msg("Object store bucket check failed, uploads may fail")
		}
		mirror = m
	}
	opts.Output = output.NewWriter(cfg.OutputDir, filter, mirror)

	return New(targets, opts)
}
