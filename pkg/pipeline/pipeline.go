// Package pipeline orchestrates a run: load and dedupe input, prefilter,
// fetch profiles across the account pool in batches, fan unverified
// profiles into the classifier, and flush outputs after every batch.
package pipeline

import (
	"bufio"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"igfilter/pkg/account"
	"igfilter/pkg/classifier"
	errs "igfilter/pkg/errors"
	"igfilter/pkg/fetcher"
	"igfilter/pkg/instagram"
	"igfilter/pkg/logger"
	"igfilter/pkg/prefilter"
	"igfilter/pkg/report"
)

// Fetcher fetches one username through one account
type Fetcher interface {
	Fetch(ctx context.Context, acct *account.Account, username string) (*fetcher.Result, error)
}

// Classifier labels one fetched profile
type Classifier interface {
	Classify(ctx context.Context, req classifier.Request) classifier.Result
}

// Summary is the final tally of a run
type Summary struct {
	Total       int
	Skipped     int
	Prefiltered int
	Processed   int
	Male        int
	Female      int
	Unknown     int
	Verified    int
	Failed      int
}

// Pipeline wires the stages together. Construct with New, run once.
type Pipeline struct {
	pool         *account.Pool
	fetcher      Fetcher
	classifier   Classifier
	reporter     *report.Reporter
	batchSize    int
	maxThrottles int
	classifyCap  int
	logger       logger.Logger

	summaryMu sync.Mutex
	throttles map[string]int
}

// Options carries the run parameters the pipeline needs
type Options struct {
	BatchSize    int
	MaxThrottles int
	ClassifyCap  int
}

// New creates a pipeline
func New(pool *account.Pool, f Fetcher, c Classifier, r *report.Reporter, opts Options) *Pipeline {
	return &Pipeline{
		pool:         pool,
		fetcher:      f,
		classifier:   c,
		reporter:     r,
		batchSize:    opts.BatchSize,
		maxThrottles: opts.MaxThrottles,
		classifyCap:  opts.ClassifyCap,
		logger:       logger.GetLogger(),
		throttles:    make(map[string]int),
	}
}

// fetched is a work item that made it through the fetch stage
type fetched struct {
	username string
	account  string
	result   *fetcher.Result
	duration time.Duration
}

// Run processes every username in the input file to a terminal status.
// Partial failure is a normal exit; only cancellation and unusable output
// storage abort the run.
func (p *Pipeline) Run(ctx context.Context, inputPath string) (*Summary, error) {
	start := time.Now()

	usernames, err := loadUsernames(inputPath)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Total: len(usernames)}
	p.logger.InfoWithFields("input loaded", map[string]interface{}{
		"usernames": len(usernames),
	})

	// Resume: anything with a terminal, non-retryable outcome is skipped.
	previously := p.reporter.PreviouslyProcessed()
	pending := make([]string, 0, len(usernames))
	for _, username := range usernames {
		if previously[username] {
			summary.Skipped++
			continue
		}
		pending = append(pending, username)
	}
	if summary.Skipped > 0 {
		p.logger.InfoWithFields("skipping previously processed usernames", map[string]interface{}{
			"skipped": summary.Skipped,
		})
	}

	accepted := p.prefilterStage(pending, summary)

	batches := (len(accepted) + p.batchSize - 1) / p.batchSize
	for i := 0; i < len(accepted); i += p.batchSize {
		end := i + p.batchSize
		if end > len(accepted) {
			end = len(accepted)
		}
		batch := accepted[i:end]

		p.logger.InfoWithFields("processing batch", map[string]interface{}{
			"batch":     i/p.batchSize + 1,
			"batches":   batches,
			"usernames": len(batch),
		})

		results := p.fetchStage(ctx, batch, summary)
		p.classifyStage(ctx, results, summary)

		if err := p.flush(summary, time.Since(start)); err != nil {
			return summary, err
		}

		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
	}

	// Final flush covers records that never entered a batch, such as
	// prefilter rejections when nothing survived to fetch.
	if err := p.flush(summary, time.Since(start)); err != nil {
		return summary, err
	}

	p.logSummary(summary, time.Since(start))
	return summary, nil
}

// prefilterStage rejects gibberish and business handles before any network
// work and records each rejection.
func (p *Pipeline) prefilterStage(usernames []string, summary *Summary) []string {
	accepted := make([]string, 0, len(usernames))
	for _, username := range usernames {
		if !instagram.IsValidUsername(username) {
			p.reporter.Add(report.Record{
				Username: username,
				Status:   report.StatusPrefiltered,
				Reason:   "not a valid username",
			})
			summary.Prefiltered++
			continue
		}
		if ok, reason := prefilter.Accept(username); !ok {
			p.reporter.Add(report.Record{
				Username: username,
				Status:   report.StatusPrefiltered,
				Reason:   reason,
			})
			summary.Prefiltered++
			continue
		}
		accepted = append(accepted, username)
	}

	if summary.Prefiltered > 0 {
		p.logger.InfoWithFields("prefilter rejected usernames", map[string]interface{}{
			"rejected": summary.Prefiltered,
		})
	}

	return accepted
}

// fetchStage fetches one batch. Items are dealt round-robin to the usable
// accounts and each account works through its share on its own goroutine,
// one request at a time. When an account dies mid-batch its unprocessed
// share is redistributed across the survivors.
func (p *Pipeline) fetchStage(ctx context.Context, usernames []string, summary *Summary) []fetched {
	var results []fetched

	remaining := usernames
	for len(remaining) > 0 {
		accounts := p.usableAccounts()
		if len(accounts) == 0 {
			p.logger.Error("no usable accounts remain")
			for _, username := range remaining {
				p.recordFetchFailure(username, "", errs.New(errs.ErrorTypeAuth, "no usable accounts remain"), summary)
			}
			break
		}

		shares := make([][]string, len(accounts))
		for i, username := range remaining {
			shares[i%len(accounts)] = append(shares[i%len(accounts)], username)
		}

		outcomes := make([]shareOutcome, len(accounts))

		var g errgroup.Group
		for i, acct := range accounts {
			i, acct := i, acct
			g.Go(func() error {
				outcomes[i] = p.workShare(ctx, acct, shares[i], summary)
				return nil
			})
		}
		g.Wait()

		remaining = nil
		for _, outcome := range outcomes {
			results = append(results, outcome.fetched...)
			remaining = append(remaining, outcome.requeued...)
		}

		if len(remaining) > 0 {
			p.logger.WarnWithFields("redistributing work from evicted account", map[string]interface{}{
				"requeued": len(remaining),
			})
		}
	}

	return results
}

// shareOutcome is what one account's goroutine returns for its share of a
// batch: the profiles it fetched and the usernames it had to hand back.
type shareOutcome struct {
	fetched  []fetched
	requeued []string
}

// workShare runs one account through its slice of a batch sequentially
func (p *Pipeline) workShare(ctx context.Context, acct *account.Account, usernames []string, summary *Summary) (outcome shareOutcome) {
	for i, username := range usernames {
		if ctx.Err() != nil {
			p.recordFetchFailure(username, acct.Username, ctx.Err(), summary)
			continue
		}

		start := time.Now()
		result, err := p.fetcher.Fetch(ctx, acct, username)
		if err == nil {
			outcome.fetched = append(outcome.fetched, fetched{
				username: username,
				account:  acct.Username,
				result:   result,
				duration: time.Since(start),
			})
			continue
		}

		switch typeOf(err) {
		case errs.ErrorTypeAuth:
			p.logger.WarnWithFields("evicting account", map[string]interface{}{
				"account": acct.Username,
				"error":   err.Error(),
			})
			p.pool.Evict(acct.Username)
			// The account failed, not the username. Hand the whole rest
			// of the share back for redistribution.
			outcome.requeued = append(outcome.requeued, usernames[i:]...)
			return outcome
		case errs.ErrorTypeThrottled:
			p.recordFetchFailure(username, acct.Username, err, summary)
			if p.bumpThrottles(acct.Username) >= p.maxThrottles {
				p.logger.WarnWithFields("evicting repeatedly throttled account", map[string]interface{}{
					"account": acct.Username,
				})
				p.pool.Evict(acct.Username)
				outcome.requeued = append(outcome.requeued, usernames[i+1:]...)
				return outcome
			}
		default:
			p.recordFetchFailure(username, acct.Username, err, summary)
		}
	}

	return outcome
}

// classifyStage fans fetched profiles into the classifier. Verified users
// never reach the model.
func (p *Pipeline) classifyStage(ctx context.Context, items []fetched, summary *Summary) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.classifyCap)

	for _, item := range items {
		item := item

		if item.result.Profile.Verified {
			p.reporter.Add(report.Record{
				Username: item.username,
				Status:   report.StatusSkippedVerified,
				Verified: true,
				Account:  item.account,
				Duration: item.duration.Seconds(),
			})
			summary.Verified++
			continue
		}

		g.Go(func() error {
			start := time.Now()
			result := p.classifier.Classify(ctx, classifier.Request{
				Username:  item.username,
				FullName:  item.result.Profile.FullName,
				ImagePath: item.result.ImagePath,
			})

			record := report.Record{
				Username: item.username,
				Account:  item.account,
				Duration: (item.duration + time.Since(start)).Seconds(),
			}

			if result.Err != nil {
				record.Status = report.StatusClassifyFailed
				record.Error = result.Err.Error()
				p.addResult(record, summary, func(s *Summary) { s.Failed++ })
				return nil
			}

			record.Status = report.StatusClassified
			record.Label = string(result.Label)
			record.Reason = result.Raw
			p.addResult(record, summary, func(s *Summary) {
				s.Processed++
				switch result.Label {
				case classifier.LabelMale:
					s.Male++
				case classifier.LabelFemale:
					s.Female++
				default:
					s.Unknown++
				}
			})
			return nil
		})
	}

	g.Wait()
}

// addResult records an outcome and updates the shared counters. Stage
// goroutines call this concurrently.
func (p *Pipeline) addResult(record report.Record, summary *Summary, update func(*Summary)) {
	p.reporter.Add(record)

	p.summaryMu.Lock()
	update(summary)
	p.summaryMu.Unlock()
}

func (p *Pipeline) bumpThrottles(acctName string) int {
	p.summaryMu.Lock()
	defer p.summaryMu.Unlock()
	p.throttles[acctName]++
	return p.throttles[acctName]
}

func (p *Pipeline) recordFetchFailure(username, acctName string, err error, summary *Summary) {
	p.reporter.Add(report.Record{
		Username: username,
		Status:   report.StatusFetchFailed,
		Error:    err.Error(),
		Account:  acctName,
	})

	p.summaryMu.Lock()
	summary.Failed++
	p.summaryMu.Unlock()
}

// usableAccounts checks every account still in rotation out of the pool
// once, in rotation order. Waves run sequentially, so the set cannot change
// between the Usable count and the checkouts.
func (p *Pipeline) usableAccounts() []*account.Account {
	n := p.pool.Usable()
	usable := make([]*account.Account, 0, n)
	for i := 0; i < n; i++ {
		acct, err := p.pool.Checkout()
		if err != nil {
			break
		}
		usable = append(usable, acct)
	}
	return usable
}

func (p *Pipeline) flush(summary *Summary, elapsed time.Duration) error {
	stats := report.RunStats{
		TotalUsernames:  summary.Total,
		PrefilteredOut:  summary.Prefiltered,
		VerifiedSkipped: summary.Verified,
		Processed:       summary.Processed,
		MaleFound:       summary.Male,
		FemaleFound:     summary.Female,
		UnknownFound:    summary.Unknown,
		Failed:          summary.Failed,
		ProcessingTime:  elapsed.Seconds(),
	}

	if err := p.reporter.Flush(stats); err != nil {
		p.logger.ErrorWithFields("output storage is unusable, aborting", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}

	return nil
}

func (p *Pipeline) logSummary(summary *Summary, elapsed time.Duration) {
	p.logger.InfoWithFields("run complete", map[string]interface{}{
		"total":       summary.Total,
		"skipped":     summary.Skipped,
		"prefiltered": summary.Prefiltered,
		"processed":   summary.Processed,
		"male":        summary.Male,
		"female":      summary.Female,
		"unknown":     summary.Unknown,
		"verified":    summary.Verified,
		"failed":      summary.Failed,
		"duration":    elapsed.String(),
	})
}

func typeOf(err error) errs.ErrorType {
	var typed *errs.Error
	if errors.As(err, &typed) {
		return typed.Type
	}
	return errs.ErrorTypeUnknown
}

// loadUsernames reads newline-delimited usernames, trimming decorations and
// dropping blanks and duplicates while preserving first-seen order.
func loadUsernames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Newf(errs.ErrorTypeConfig, "failed to open input file: %v", err)
	}
	defer f.Close()

	seen := make(map[string]bool)
	var usernames []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		username := instagram.SanitizeUsername(strings.TrimSpace(scanner.Text()))
		if username == "" || seen[username] {
			continue
		}
		seen[username] = true
		usernames = append(usernames, username)
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Newf(errs.ErrorTypeIO, "failed to read input file: %v", err)
	}

	return usernames, nil
}

