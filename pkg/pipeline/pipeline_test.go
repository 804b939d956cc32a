package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igfilter/pkg/account"
	"igfilter/pkg/classifier"
	"igfilter/pkg/config"
	errs "igfilter/pkg/errors"
	"igfilter/pkg/fetcher"
	"igfilter/pkg/instagram"
	"igfilter/pkg/report"
)

// fakeFetcher scripts fetch outcomes per username and records which account
// fetched what.
type fakeFetcher struct {
	mu       sync.Mutex
	calls    map[string][]string
	failWith map[string]error
	authFail map[string]bool
	verified map[string]bool
	delay    time.Duration
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		calls:    make(map[string][]string),
		failWith: make(map[string]error),
		authFail: make(map[string]bool),
		verified: make(map[string]bool),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, acct *account.Account, username string) (*fetcher.Result, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls[acct.Username] = append(f.calls[acct.Username], username)
	authFail := f.authFail[acct.Username]
	err := f.failWith[username]
	verified := f.verified[username]
	f.mu.Unlock()

	if authFail {
		return nil, errs.NewWithCode(errs.ErrorTypeAuth, 401, "authentication required")
	}
	if err != nil {
		return nil, err
	}

	return &fetcher.Result{
		Profile: &instagram.Profile{
			Username: username,
			FullName: "Name of " + username,
			Verified: verified,
		},
	}, nil
}

func (f *fakeFetcher) fetchedBy(acctName string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls[acctName]...)
}

// fakeClassifier labels by lookup, unknown otherwise
type fakeClassifier struct {
	mu     sync.Mutex
	labels map[string]classifier.Label
	seen   []string
}

func (c *fakeClassifier) Classify(ctx context.Context, req classifier.Request) classifier.Result {
	c.mu.Lock()
	c.seen = append(c.seen, req.Username)
	label, ok := c.labels[req.Username]
	c.mu.Unlock()

	if !ok {
		label = classifier.LabelUnknown
	}
	return classifier.Result{Label: label, Raw: string(label)}
}

func (c *fakeClassifier) classified() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.seen...)
}

func writeInput(t *testing.T, usernames ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "usernames.txt")
	content := ""
	for _, u := range usernames {
		content += u + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestPool(t *testing.T, usernames ...string) *account.Pool {
	t.Helper()
	configs := make([]config.AccountConfig, 0, len(usernames))
	for _, u := range usernames {
		configs = append(configs, config.AccountConfig{Username: u, Password: "secret"})
	}
	pool, err := account.NewPool(configs, time.Millisecond, 2*time.Millisecond)
	require.NoError(t, err)
	return pool
}

func newTestPipeline(t *testing.T, pool *account.Pool, f Fetcher, c Classifier) (*Pipeline, *report.Reporter, string, string) {
	t.Helper()
	dir := t.TempDir()
	debugPath := filepath.Join(dir, "debug_log.json")
	malePath := filepath.Join(dir, "male.txt")

	reporter, err := report.NewReporter(debugPath, malePath)
	require.NoError(t, err)

	p := New(pool, f, c, reporter, Options{BatchSize: 100, MaxThrottles: 3, ClassifyCap: 10})
	return p, reporter, debugPath, malePath
}

func recordsByUsername(r *report.Reporter) map[string]report.Record {
	out := make(map[string]report.Record)
	for _, record := range r.Results() {
		out[record.Username] = record
	}
	return out
}

func TestRunMixedBatch(t *testing.T) {
	fetch := newFakeFetcher()
	fetch.verified["bob_verified"] = true

	classify := &fakeClassifier{labels: map[string]classifier.Label{
		"alice": classifier.LabelFemale,
	}}

	pool := newTestPool(t, "worker1")
	p, reporter, _, malePath := newTestPipeline(t, pool, fetch, classify)

	input := writeInput(t, "alice", "bob_verified", "xX_z_Xx")
	summary, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Prefiltered)
	assert.Equal(t, 1, summary.Verified)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Female)
	assert.Equal(t, 0, summary.Failed)

	records := recordsByUsername(reporter)
	require.Len(t, records, 3)
	assert.Equal(t, report.StatusClassified, records["alice"].Status)
	assert.Equal(t, report.StatusSkippedVerified, records["bob_verified"].Status)
	assert.Equal(t, report.StatusPrefiltered, records["xX_z_Xx"].Status)

	// Verified users never reach the classifier.
	assert.NotContains(t, classify.classified(), "bob_verified")

	// No males found, so the output file was never created.
	_, statErr := os.Stat(malePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunWritesMaleUsernames(t *testing.T) {
	fetch := newFakeFetcher()
	classify := &fakeClassifier{labels: map[string]classifier.Label{
		"john_smith": classifier.LabelMale,
		"mike_jones": classifier.LabelMale,
		"jane_doe":   classifier.LabelFemale,
	}}

	pool := newTestPool(t, "worker1")
	p, _, _, malePath := newTestPipeline(t, pool, fetch, classify)

	input := writeInput(t, "john_smith", "jane_doe", "mike_jones")
	summary, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Male)
	assert.Equal(t, 1, summary.Female)

	males, err := os.ReadFile(malePath)
	require.NoError(t, err)
	assert.Contains(t, string(males), "john_smith")
	assert.Contains(t, string(males), "mike_jones")
	assert.NotContains(t, string(males), "jane_doe")
}

func TestRunExactlyOneRecordPerUsername(t *testing.T) {
	fetch := newFakeFetcher()
	fetch.failWith["broken"] = errs.NewWithCode(errs.ErrorTypeServer, 502, "server error")
	fetch.verified["famous"] = true

	pool := newTestPool(t, "worker1", "worker2")
	p, reporter, _, _ := newTestPipeline(t, pool, fetch, &fakeClassifier{})

	inputs := []string{"alice", "broken", "famous", "carol", "dave"}
	input := writeInput(t, inputs...)
	_, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	counts := make(map[string]int)
	for _, record := range reporter.Results() {
		counts[record.Username]++
	}
	for _, username := range inputs {
		assert.Equal(t, 1, counts[username], username)
	}
}

func TestRunDeduplicatesInput(t *testing.T) {
	fetch := newFakeFetcher()
	pool := newTestPool(t, "worker1")
	p, reporter, _, _ := newTestPipeline(t, pool, fetch, &fakeClassifier{})

	input := writeInput(t, "alice", "alice", " alice ", "@alice")
	summary, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Total)
	assert.Len(t, reporter.Results(), 1)
}

func TestRunDistributesAcrossAccounts(t *testing.T) {
	fetch := newFakeFetcher()
	pool := newTestPool(t, "worker1", "worker2")
	p, _, _, _ := newTestPipeline(t, pool, fetch, &fakeClassifier{})

	usernames := []string{
		"alice", "brian", "carol", "diana", "erik",
		"fiona", "george", "helen", "ian", "julia",
	}
	input := writeInput(t, usernames...)
	_, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Len(t, fetch.fetchedBy("worker1"), 5)
	assert.Len(t, fetch.fetchedBy("worker2"), 5)
}

func TestRunEvictionRedistributesWork(t *testing.T) {
	fetch := newFakeFetcher()
	fetch.authFail["worker2"] = true

	pool := newTestPool(t, "worker1", "worker2")
	p, reporter, _, _ := newTestPipeline(t, pool, fetch, &fakeClassifier{})

	usernames := []string{
		"alice", "brian", "carol", "diana", "erik",
		"fiona", "george", "helen", "ian", "julia",
	}
	input := writeInput(t, usernames...)
	summary, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	assert.True(t, pool.IsEvicted("worker2"))
	assert.False(t, pool.IsEvicted("worker1"))

	// Every username still reaches a terminal status, none marked failed
	// just because its first account died.
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 10, summary.Processed)
	require.Len(t, reporter.Results(), 10)

	// The dead account saw exactly one request; the survivor did the rest.
	assert.Len(t, fetch.fetchedBy("worker2"), 1)
	assert.Len(t, fetch.fetchedBy("worker1"), 10)
}

func TestRunAllAccountsEvicted(t *testing.T) {
	fetch := newFakeFetcher()
	fetch.authFail["worker1"] = true
	fetch.authFail["worker2"] = true

	pool := newTestPool(t, "worker1", "worker2")
	p, reporter, _, _ := newTestPipeline(t, pool, fetch, &fakeClassifier{})

	input := writeInput(t, "alice", "brian", "carol")
	summary, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Failed)
	for _, record := range reporter.Results() {
		assert.Equal(t, report.StatusFetchFailed, record.Status)
	}
}

func TestRunNotFoundIsTerminal(t *testing.T) {
	fetch := newFakeFetcher()
	fetch.failWith["ghost"] = errs.NewWithCode(errs.ErrorTypeNotFound, 404, "user does not exist")

	pool := newTestPool(t, "worker1")
	p, reporter, _, _ := newTestPipeline(t, pool, fetch, &fakeClassifier{})

	input := writeInput(t, "ghost")
	summary, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.False(t, pool.IsEvicted("worker1"))

	records := recordsByUsername(reporter)
	assert.Equal(t, report.StatusFetchFailed, records["ghost"].Status)
}

func TestRunRepeatedThrottlesEvict(t *testing.T) {
	fetch := newFakeFetcher()
	for _, u := range []string{"alice", "brian", "carol"} {
		fetch.failWith[u] = errs.NewWithCode(errs.ErrorTypeThrottled, 429, "too many requests")
	}

	pool := newTestPool(t, "worker1")
	p, _, _, _ := newTestPipeline(t, pool, fetch, &fakeClassifier{})

	input := writeInput(t, "alice", "brian", "carol", "diana")
	summary, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	// Three throttles hit the limit; the rest of the pool is empty so the
	// remaining username fails too.
	assert.True(t, pool.IsEvicted("worker1"))
	assert.Equal(t, 4, summary.Failed)
}

func TestRunResumeSkipsProcessed(t *testing.T) {
	fetch := newFakeFetcher()
	classify := &fakeClassifier{labels: map[string]classifier.Label{
		"john_smith": classifier.LabelMale,
	}}

	pool := newTestPool(t, "worker1")
	p, _, debugPath, malePath := newTestPipeline(t, pool, fetch, classify)

	input := writeInput(t, "john_smith", "jane_doe")
	_, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	// Second run over the same outputs skips everything.
	reporter, err := report.NewReporter(debugPath, malePath)
	require.NoError(t, err)
	fetch2 := newFakeFetcher()
	p2 := New(newTestPool(t, "worker1"), fetch2, classify, reporter, Options{BatchSize: 100, MaxThrottles: 3, ClassifyCap: 10})

	summary, err := p2.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Skipped)
	assert.Empty(t, fetch2.fetchedBy("worker1"))

	// The male file was not appended a second time.
	males, err := os.ReadFile(malePath)
	require.NoError(t, err)
	assert.Equal(t, "john_smith\n", string(males))
}

func TestRunRetriesFailedOnResume(t *testing.T) {
	fetch := newFakeFetcher()
	fetch.failWith["flaky"] = errs.NewWithCode(errs.ErrorTypeServer, 503, "server error")

	pool := newTestPool(t, "worker1")
	p, _, debugPath, malePath := newTestPipeline(t, pool, fetch, &fakeClassifier{})

	input := writeInput(t, "flaky")
	_, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	// On the next run the failure is retried and succeeds.
	reporter, err := report.NewReporter(debugPath, malePath)
	require.NoError(t, err)
	fetch2 := newFakeFetcher()
	p2 := New(newTestPool(t, "worker1"), fetch2, &fakeClassifier{}, reporter, Options{BatchSize: 100, MaxThrottles: 3, ClassifyCap: 10})

	summary, err := p2.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, []string{"flaky"}, fetch2.fetchedBy("worker1"))
}

func TestRunAllPrefilteredStillFlushes(t *testing.T) {
	fetch := newFakeFetcher()
	pool := newTestPool(t, "worker1")
	p, _, debugPath, malePath := newTestPipeline(t, pool, fetch, &fakeClassifier{})

	// Every input is rejected locally, so no batch ever runs.
	input := writeInput(t, "xX_z_Xx", "qwrtpsdfg")
	summary, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Prefiltered)
	assert.Empty(t, fetch.fetchedBy("worker1"))

	// The rejections still reach the debug log on disk.
	resumed, err := report.NewReporter(debugPath, malePath)
	require.NoError(t, err)
	records := resumed.Results()
	require.Len(t, records, 2)
	for _, record := range records {
		assert.Equal(t, report.StatusPrefiltered, record.Status)
	}
}

func TestUsableAccountsRotation(t *testing.T) {
	fetch := newFakeFetcher()
	pool := newTestPool(t, "worker1", "worker2", "worker3")
	p, _, _, _ := newTestPipeline(t, pool, fetch, &fakeClassifier{})

	usable := p.usableAccounts()
	require.Len(t, usable, 3)
	assert.Equal(t, "worker1", usable[0].Username)
	assert.Equal(t, "worker2", usable[1].Username)
	assert.Equal(t, "worker3", usable[2].Username)

	pool.Evict("worker2")

	usable = p.usableAccounts()
	require.Len(t, usable, 2)
	for _, acct := range usable {
		assert.NotEqual(t, "worker2", acct.Username)
	}
}

func TestRunBatchesFlushIncrementally(t *testing.T) {
	fetch := newFakeFetcher()
	pool := newTestPool(t, "worker1")

	dir := t.TempDir()
	debugPath := filepath.Join(dir, "debug_log.json")
	reporter, err := report.NewReporter(debugPath, filepath.Join(dir, "male.txt"))
	require.NoError(t, err)

	p := New(pool, fetch, &fakeClassifier{}, reporter, Options{BatchSize: 2, MaxThrottles: 3, ClassifyCap: 10})

	input := writeInput(t, "alice", "brian", "carol", "diana", "erik")
	summary, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Processed)

	// All three batches are on disk.
	resumed, err := report.NewReporter(debugPath, filepath.Join(dir, "male.txt"))
	require.NoError(t, err)
	assert.Len(t, resumed.Results(), 5)
}
