package recovery_lib

import (
	"context"
	"math/rand"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/kis8ya/elliptics-qa/common"
	"github.com/kis8ya/elliptics-qa/elliptics"
)

const (
	defaultConcurrency = 16
	defaultMaxAttempts = 10000
	progressEvery      = 1000
)

// KeyWriter writes random content addressed keys with random index subsets.
type KeyWriter struct {
	Rand *rand.Rand
	// Bounds for keys written with size 0
	MinSize, MaxSize int
	// Writes in flight
	Concurrency int
	// Bound on regenerating a key the outage would not hide
	MaxAttempts int
}

// RandomIndexes returns count distinct index names.
func RandomIndexes(rng *rand.Rand, count int) ([]string, error) {
	pool := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id, err := uuid.NewRandomFromReader(rng)
		if err != nil {
			return nil, errors.Wrap(err, "index name")
		}
		pool = append(pool, id.String())
	}
	return pool, nil
}

// pickIndexes returns a random non-empty subset of pool in pool order.
func (w *KeyWriter) pickIndexes(pool []string) []string {
	if len(pool) == 0 {
		return nil
	}
	picked := w.Rand.Perm(len(pool))[:1+w.Rand.Intn(len(pool))]
	sort.Ints(picked)
	res := make([]string, 0, len(picked))
	for _, i := range picked {
		res = append(res, pool[i])
	}
	return res
}

func (w *KeyWriter) write(ctx context.Context, session elliptics.Session, count, size int, pool []string, accept func(elliptics.ID) bool) (KeySet, error) {
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	maxAttempts := w.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	logf.Log.Info("Writing keys", "count", count, "size", humanize.Bytes(uint64(size)), "groups", session.Groups())

	entries := make([]Entry, count)
	seen := make(map[string]bool, count)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	var genErr error
	for i := 0; i < count && gctx.Err() == nil; i++ {
		var (
			key  string
			data []byte
		)
		for attempt := 0; ; attempt++ {
			if attempt == maxAttempts {
				genErr = errors.Newf("no acceptable key after %d attempts", maxAttempts)
				break
			}
			key, data = common.KeyAndData(w.Rand, size, w.MinSize, w.MaxSize)
			if !seen[key] && (accept == nil || accept(elliptics.Transform(key))) {
				break
			}
		}
		if genErr != nil {
			break
		}
		seen[key] = true
		entry := Entry{Key: key, Indexes: w.pickIndexes(pool)}
		entries[i] = entry
		g.Go(func() error {
			if err := session.Write(gctx, entry.Key, data); err != nil {
				return errors.Wrapf(err, "write %s", entry.Key)
			}
			if len(entry.Indexes) == 0 {
				return nil
			}
			return errors.Wrapf(session.SetIndexes(gctx, entry.Key, entry.Indexes, entry.IndexData()), "set indexes of %s", entry.Key)
		})
		if (i+1)%progressEvery == 0 {
			logf.Log.Info("Writing keys", "written", i+1, "of", count)
		}
	}
	if err := g.Wait(); err != nil {
		return KeySet{}, err
	}
	if genErr != nil {
		return KeySet{}, genErr
	}
	if err := ctx.Err(); err != nil {
		return KeySet{}, err
	}
	return NewKeySet(entries...)
}

// WriteConsistentKeys writes count keys through session. A size of 0
// picks a random size per key. Every write has completed when it returns.
func WriteConsistentKeys(ctx context.Context, w *KeyWriter, session elliptics.Session, count, size int, pool []string) (KeySet, error) {
	return w.write(ctx, session, count, size, pool, nil)
}

// WriteInconsistentKeys writes count keys while outage is in effect. The
// outage is undone before returning, and session is left untouched.
func WriteInconsistentKeys(ctx context.Context, w *KeyWriter, session elliptics.Session, count, size int, pool []string, outage Outage) (keys KeySet, err error) {
	restricted, restore, err := outage.Apply(ctx, session)
	if err != nil {
		return KeySet{}, err
	}
	defer func() {
		err = errors.CombineErrors(err, restore(ctx))
	}()
	logf.Log.Info("Writing keys under outage", "outage", outage.String())
	return w.write(ctx, restricted, count, size, pool, outage.Hides)
}

// NotExistentKeys returns count keys that are not written anywhere.
func NotExistentKeys(rng *rand.Rand, count int) []string {
	keys := make([]string, 0, count)
	for i := 0; i < count; i++ {
		key, _ := common.KeyAndData(rng, 64, 0, 0)
		keys = append(keys, key)
	}
	return keys
}
