// Package driver runs the token pipeline over a list of regions, one region
// at a time, and publishes the result.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/overmindtech/tokengen/accounts"
	"github.com/overmindtech/tokengen/notify"
	"github.com/overmindtech/tokengen/pipeline"
	"github.com/overmindtech/tokengen/tokenstore"
	"github.com/overmindtech/tokengen/tracing"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultRegions are processed, in this order, when none are configured
var DefaultRegions = []string{"IND", "BD", "NA"}

// AccountSource loads the accounts of a region. A region without accounts is
// reported with an error wrapping accounts.ErrNotFound
type AccountSource interface {
	Load(region string) ([]accounts.Account, error)
}

// TokenWriter replaces the stored tokens for a region and returns where they
// were written
type TokenWriter interface {
	Write(region string, records []tokenstore.Record) (string, error)
}

// Driver sequences the pipeline over Regions
type Driver struct {
	Regions  []string
	Accounts AccountSource
	// Retrier fetches a single account, usually a *pipeline.Retrier
	Retrier pipeline.AccountFetcher
	// Concurrency caps fetches in flight within a region, 0 is unlimited
	Concurrency int
	Store       TokenWriter
	Notifier    notify.Notifier

	// Clock defaults to time.Now
	Clock func() time.Time
}

// Report is what a run produced. On error it holds the regions that finished
type Report struct {
	Summaries []pipeline.Summary
	Total     int
}

func (d *Driver) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

func (d *Driver) regions() []string {
	if len(d.Regions) == 0 {
		return DefaultRegions
	}
	return d.Regions
}

func (d *Driver) notifier() notify.Notifier {
	if d.Notifier == nil {
		return notify.Nop{}
	}
	return d.Notifier
}

// Run processes every region in order. A region without an account file is
// skipped; any other error stops the run, leaving the files of the regions
// already processed in place
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	regions := d.regions()

	ctx, span := tracing.Tracer().Start(ctx, "tokengen.run", trace.WithAttributes(
		attribute.StringSlice("tokengen.regions", regions),
		attribute.Int("tokengen.concurrency", d.Concurrency),
	))
	defer span.End()

	d.notifier().Notify(ctx, notify.StartMessage(regions))

	report := &Report{}
	for _, region := range regions {
		summary, err := d.RunRegion(ctx, region)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
			return report, fmt.Errorf("region %v: %w", region, err)
		}
		report.Summaries = append(report.Summaries, summary)
		report.Total += summary.Succeeded
	}

	span.SetAttributes(attribute.Int("tokengen.total", report.Total))
	log.WithContext(ctx).WithField("total", report.Total).Info("All regions completed")
	d.notifier().Notify(ctx, notify.FinalMessage(report.Total))

	return report, nil
}

// RunRegion loads, fetches, reconciles and stores a single region
func (d *Driver) RunRegion(ctx context.Context, region string) (pipeline.Summary, error) {
	ctx, span := tracing.Tracer().Start(ctx, "tokengen.region", trace.WithAttributes(
		attribute.String("tokengen.region", region),
	))
	defer span.End()

	lf := log.Fields{"region": region}
	start := d.now()

	accts, err := d.Accounts.Load(region)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			log.WithContext(ctx).WithFields(lf).WithError(err).Warn("Account file missing, skipping region")
			span.SetAttributes(attribute.Bool("tokengen.skipped", true))
			return pipeline.Summary{Region: region, Skipped: true}, nil
		}
		return pipeline.Summary{}, err
	}

	log.WithContext(ctx).WithFields(lf).WithField("accounts", len(accts)).Info("Starting token generation")

	outcomes := pipeline.FanOut(ctx, d.Retrier, accts, d.Concurrency)
	records, summary := pipeline.Reconcile(region, outcomes)

	output, err := d.Store.Write(region, records)
	if err != nil {
		return summary, err
	}
	summary.Output = output
	summary.ElapsedSeconds = int(d.now().Sub(start).Seconds())

	span.SetAttributes(
		attribute.Int("tokengen.accounts", summary.TotalAccounts),
		attribute.Int("tokengen.succeeded", summary.Succeeded),
		attribute.Int("tokengen.failed", summary.Failed),
		attribute.String("tokengen.output", output),
	)
	log.WithContext(ctx).WithFields(lf).WithFields(log.Fields{
		"accounts":  summary.TotalAccounts,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"output":    output,
		"elapsed":   summary.ElapsedSeconds,
	}).Info("Token generation completed")

	d.notifier().Notify(ctx, notify.SummaryMessage(summary, d.now()))

	return summary, nil
}
