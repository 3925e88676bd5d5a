package mix_states_lib

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/kis8ya/elliptics-qa/elliptics"
)

// ErrOvertime is returned when a READ served by a fast host took longer
// than the time expected of it.
var ErrOvertime = errors.New("READ transaction is overtimed")

// ErrRetriesExceeded is returned when no attempt finished without an overtime.
var ErrRetriesExceeded = errors.New("retries exceeded")

const (
	lowDelay      = 0
	highDelayMin  = 0.00
	highDelayMax  = 0.02
	fastHostLevel = '-'
	slowHostLevel = '+'
)

// HostCase is the delay put on a host and the share of requests it should serve.
type HostCase struct {
	Delay       time.Duration
	ExpectedMin float64
	ExpectedMax float64
}

// Case maps host addresses to their delay and expected share.
type Case map[string]HostCase

// NewCase builds a case from a pattern like "+-----": the i-th host gets a
// high delay for '+' and none for '-'. Fast hosts share the load evenly
// within the inaccuracy rate, slow hosts get almost nothing.
func NewCase(pattern string, hosts []string, highDelay time.Duration, inaccuracyRate float64) (Case, error) {
	if len(pattern) > len(hosts) {
		return nil, errors.Newf("case %q needs %d hosts, have %d", pattern, len(pattern), len(hosts))
	}
	fast := strings.Count(pattern, string(fastHostLevel))
	if fast == 0 {
		return nil, errors.Newf("case %q has no fast host", pattern)
	}
	share := 1.0 / float64(fast)
	max := share * inaccuracyRate
	if max > 1.0 {
		max = 1.0
	}
	c := Case{}
	for i, level := range pattern {
		switch level {
		case slowHostLevel:
			c[hosts[i]] = HostCase{Delay: highDelay, ExpectedMin: highDelayMin, ExpectedMax: highDelayMax}
		case fastHostLevel:
			c[hosts[i]] = HostCase{Delay: lowDelay, ExpectedMin: share / inaccuracyRate, ExpectedMax: max}
		default:
			return nil, errors.Newf("case %q: unknown delay level %q", pattern, level)
		}
	}
	return c, nil
}

// Hosts of the case, sorted.
func (c Case) Hosts() []string {
	hosts := make([]string, 0, len(c))
	for h := range c {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// TransChecker checks the time of the READ transaction behind each request.
type TransChecker struct {
	Source TransSource
	Case   Case
	// Transactions of hosts with CheckedDelay must fit ExpectedTime microseconds
	CheckedDelay time.Duration
	ExpectedTime int
}

func (t *TransChecker) check(ctx context.Context) error {
	if t == nil || t.Source == nil {
		return nil
	}
	d, err := t.Source.Next(ctx)
	if err != nil {
		return err
	}
	hc, ok := t.Case[d.Host()]
	if !ok || hc.Delay != t.CheckedDelay {
		return nil
	}
	took, err := d.Time()
	if err != nil {
		return err
	}
	if took > t.ExpectedTime {
		return errors.Wrapf(ErrOvertime, "%s took %dus", d.Host(), took)
	}
	return nil
}

// RequestsCounter counts the requests served by each host, checking the
// transaction of each one as it is counted.
type RequestsCounter struct {
	checker *TransChecker
	counts  map[string]int
}

func NewRequestsCounter(checker *TransChecker) *RequestsCounter {
	return &RequestsCounter{checker: checker, counts: map[string]int{}}
}

func (r *RequestsCounter) Add(ctx context.Context, host string) error {
	if err := r.checker.check(ctx); err != nil {
		return err
	}
	r.counts[host]++
	return nil
}

// Get returns the count of host, zero for a host that served nothing.
func (r *RequestsCounter) Get(host string) int {
	return r.counts[host]
}

func (r *RequestsCounter) Counts() map[string]int {
	res := make(map[string]int, len(r.counts))
	for h, c := range r.counts {
		res[h] = c
	}
	return res
}

// Reader is the part of a session the requests go through.
type Reader interface {
	Read(ctx context.Context, key string) (*elliptics.ReadResult, error)
}

// DoRequests reads key count times and returns how many reads each host served.
func DoRequests(ctx context.Context, session Reader, key string, count int, checker *TransChecker) (map[string]int, error) {
	counter := NewRequestsCounter(checker)
	for i := 0; i < count; i++ {
		r, err := session.Read(ctx, key)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", key)
		}
		if err := counter.Add(ctx, r.Address.Host); err != nil {
			return nil, err
		}
	}
	return counter.Counts(), nil
}

// DoRequestsWithRetry repeats DoRequests while it hits an overtime, up to
// retryMax attempts.
func DoRequestsWithRetry(ctx context.Context, session Reader, key string, count, retryMax int, checker *TransChecker) (map[string]int, error) {
	for retry := 0; retry < retryMax; retry++ {
		counts, err := DoRequests(ctx, session, key, count, checker)
		if err == nil {
			return counts, nil
		}
		if !errors.Is(err, ErrOvertime) {
			return nil, err
		}
		logf.Log.Info("Failed to stabilize weights - retrying", "retry", retry, "error", err)
	}
	return nil, errors.Wrapf(ErrRetriesExceeded, "%d attempts of %d requests", retryMax, count)
}

// StatisticsOptions sizes the statistics collection.
type StatisticsOptions struct {
	StabilizeRequests int
	SampleRequests    int
	Samples           int
	RetryMax          int
	// Bound on samples spoiled by an overtime
	StatisticsRetryMax int
}

// CollectStatistics gathers Samples samples, each preceded by requests that
// let the client settle its weights. A sample with an overtime is dropped
// and retried, failing for good after StatisticsRetryMax drops.
func CollectStatistics(ctx context.Context, session Reader, key string, o StatisticsOptions, checker *TransChecker) (map[string]int, error) {
	stats := map[string]int{}
	collected, retries := 0, 0
	for collected < o.Samples {
		if retries >= o.StatisticsRetryMax {
			return nil, errors.Wrapf(ErrRetriesExceeded, "collecting statistics: %d samples dropped", retries)
		}
		if _, err := DoRequestsWithRetry(ctx, session, key, o.StabilizeRequests, o.RetryMax, checker); err != nil {
			return nil, errors.Wrap(err, "stabilizing weights")
		}
		sample, err := DoRequestsWithRetry(ctx, session, key, o.SampleRequests, 1, checker)
		if errors.Is(err, ErrRetriesExceeded) {
			retries++
			continue
		}
		if err != nil {
			return nil, err
		}
		for h, c := range sample {
			stats[h] += c
		}
		collected++
	}
	return stats, nil
}

// CheckDistribution checks the share of the requests every host of the case served.
func CheckDistribution(c Case, counts map[string]int) error {
	sum := 0
	for _, n := range counts {
		sum += n
	}
	var problems []string
	for _, host := range c.Hosts() {
		hc := c[host]
		min := int(float64(sum) * hc.ExpectedMin)
		max := int(float64(sum) * hc.ExpectedMax)
		if got := counts[host]; got < min || got > max {
			problems = append(problems, fmt.Sprintf("%s served %d, want [%d, %d]", host, got, min, max))
		}
	}
	if len(problems) != 0 {
		return errors.Newf("requests count mismatch of %d requests: %s", sum, strings.Join(problems, "; "))
	}
	return nil
}
