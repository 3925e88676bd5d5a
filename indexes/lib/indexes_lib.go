// Package indexes_lib keeps what every key is expected to carry in its
// indexes while a suite sets, changes, updates and removes them, and checks
// the list and find results against it.
package indexes_lib

import (
	"context"
	"math/rand"
	"strconv"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/kis8ya/elliptics-qa/elliptics"
)

const (
	keyData     = "?"
	concurrency = 16
)

// Indexes of a key, index id to payload.
type Indexes map[elliptics.ID]string

// Model is the expected indexes of every key.
type Model map[elliptics.ID]Indexes

// Combination classes of the searched indexes.
const (
	Single = "SINGLE"
	Part   = "PART"
	Full   = "FULL"
)

// RandomIndexes returns count distinct index names.
func RandomIndexes(rng *rand.Rand, count int) []string {
	seen := map[int]bool{}
	indexes := make([]string, 0, count)
	for len(indexes) < count {
		n := rng.Intn(100000000)
		if seen[n] {
			continue
		}
		seen[n] = true
		indexes = append(indexes, strconv.Itoa(n))
	}
	return indexes
}

func sample(rng *rand.Rand, seq []string, n int) []string {
	res := make([]string, 0, n)
	for _, i := range rng.Perm(len(seq))[:n] {
		res = append(res, seq[i])
	}
	return res
}

// Combinations picks the searched indexes of every class: one index, at
// least two but not all of them, and all of them. Part needs three indexes.
func Combinations(rng *rand.Rand, indexes []string) map[string][]string {
	res := map[string][]string{
		Single: sample(rng, indexes, 1),
		Full:   append([]string(nil), indexes...),
	}
	if len(indexes) >= 3 {
		res[Part] = sample(rng, indexes, 2+rng.Intn(len(indexes)-2))
	}
	return res
}

// Fixture writes keys and changes their indexes, keeping the model.
type Fixture struct {
	Session elliptics.Session
	Rand    *rand.Rand
	Indexes []string
	Model   Model

	keys  map[elliptics.ID]string
	order []elliptics.ID
}

func NewFixture(session elliptics.Session, rng *rand.Rand, indexes []string) *Fixture {
	return &Fixture{
		Session: session,
		Rand:    rng,
		Indexes: indexes,
		Model:   Model{},
		keys:    map[elliptics.ID]string{},
	}
}

// payloads hands out the payloads of one change, "0", "1" and so on.
type payloads int

func (p *payloads) next(n int) []string {
	res := make([]string, 0, n)
	for i := 0; i < n; i++ {
		res = append(res, strconv.Itoa(int(*p)))
		*p++
	}
	return res
}

// pick returns random indexes for a key, at least one and not all.
func (f *Fixture) pick() []string {
	n := 1
	if len(f.Indexes) > 1 {
		n += f.Rand.Intn(len(f.Indexes) - 1)
	}
	return sample(f.Rand, f.Indexes, n)
}

func indexesOf(names, data []string) Indexes {
	res := make(Indexes, len(names))
	for i, n := range names {
		res[elliptics.Transform(n)] = data[i]
	}
	return res
}

// Write writes batches of keys, each with random indexes set. A batch is
// finished before the next one starts.
func (f *Fixture) Write(ctx context.Context, batches, perBatch int) error {
	var p payloads
	for b := 0; b < batches; b++ {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for i := 0; i < perBatch; i++ {
			key := strconv.Itoa(b*perBatch + i)
			names := f.pick()
			data := p.next(len(names))
			id := elliptics.Transform(key)
			f.keys[id] = key
			f.order = append(f.order, id)
			f.Model[id] = indexesOf(names, data)
			g.Go(func() error {
				if err := f.Session.Write(gctx, key, []byte(keyData)); err != nil {
					return errors.Wrapf(err, "write %s", key)
				}
				return errors.Wrapf(f.Session.SetIndexes(gctx, key, names, data), "set indexes of %s", key)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	logf.Log.Info("Indexed keys", "keys", len(f.order), "indexes", len(f.Indexes))
	return nil
}

type change func(ctx context.Context, key string, names, data []string) error

// apply runs fn on count random keys and returns the model of those keys
// after merge put the change into the model.
func (f *Fixture) apply(ctx context.Context, count int, fn change, merge func(id elliptics.ID, changed Indexes)) (Model, error) {
	if count > len(f.order) {
		count = len(f.order)
	}
	var p payloads
	changed := Model{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, i := range f.Rand.Perm(len(f.order))[:count] {
		id := f.order[i]
		key := f.keys[id]
		var names, data []string
		if merge != nil {
			names = f.pick()
			data = p.next(len(names))
			merge(id, indexesOf(names, data))
		} else {
			f.Model[id] = Indexes{}
		}
		changed[id] = f.Model[id]
		g.Go(func() error {
			return errors.Wrapf(fn(gctx, key, names, data), "indexes of %s", key)
		})
	}
	return changed, g.Wait()
}

// Change replaces the indexes of count random keys.
func (f *Fixture) Change(ctx context.Context, count int) (Model, error) {
	return f.apply(ctx, count, f.Session.SetIndexes, func(id elliptics.ID, changed Indexes) {
		f.Model[id] = changed
	})
}

// Update adds indexes to count random keys, replacing the payloads of the
// indexes they already have.
func (f *Fixture) Update(ctx context.Context, count int) (Model, error) {
	return f.apply(ctx, count, f.Session.UpdateIndexes, func(id elliptics.ID, changed Indexes) {
		merged := Indexes{}
		for k, v := range f.Model[id] {
			merged[k] = v
		}
		for k, v := range changed {
			merged[k] = v
		}
		f.Model[id] = merged
	})
}

// Remove drops every index of count random keys.
func (f *Fixture) Remove(ctx context.Context, count int) (Model, error) {
	return f.apply(ctx, count, f.Session.SetIndexes, nil)
}

// CheckList expects every key of model to list exactly its indexes.
func (f *Fixture) CheckList(ctx context.Context, model Model) error {
	for id, expected := range model {
		entries, err := f.Session.ListIndexes(ctx, f.keys[id])
		if err != nil {
			return errors.Wrapf(err, "list indexes of %s", f.keys[id])
		}
		if err := compare(id, entries, expected); err != nil {
			return err
		}
	}
	return nil
}

func compare(id elliptics.ID, entries []elliptics.IndexEntry, expected Indexes) error {
	if len(entries) != len(expected) {
		return errors.Newf("key %s has %d indexes, expected %d", id, len(entries), len(expected))
	}
	for _, e := range entries {
		data, ok := expected[e.Index]
		if !ok {
			return errors.Newf("key %s has unexpected index %s", id, e.Index)
		}
		if data != e.Data {
			return errors.Newf("key %s has payload %q for index %s, expected %q", id, e.Data, e.Index, data)
		}
	}
	return nil
}

type searchFunc func(ctx context.Context, indexes []string) ([]elliptics.FindResult, error)

// check compares a find result with the keys of model holding enough of
// names, each with the payloads of the names it holds.
func check(ctx context.Context, find searchFunc, model Model, names []string, all bool) error {
	results, err := find(ctx, names)
	if err != nil {
		return errors.Wrapf(err, "find %v", names)
	}
	searched := make([]elliptics.ID, 0, len(names))
	for _, n := range names {
		searched = append(searched, elliptics.Transform(n))
	}
	matching := func(indexes Indexes) Indexes {
		held := Indexes{}
		for _, s := range searched {
			if data, ok := indexes[s]; ok {
				held[s] = data
			}
		}
		if len(held) == 0 || all && len(held) != len(searched) {
			return nil
		}
		return held
	}

	expected := 0
	for _, indexes := range model {
		if matching(indexes) != nil {
			expected++
		}
	}
	if len(results) != expected {
		return errors.Newf("find %v returned %d keys, expected %d", names, len(results), expected)
	}
	for _, r := range results {
		indexes, ok := model[r.ID]
		if !ok {
			return errors.Newf("find %v returned unknown key %s", names, r.ID)
		}
		held := matching(indexes)
		if held == nil {
			return errors.Newf("find %v returned key %s not holding them", names, r.ID)
		}
		if err := compare(r.ID, r.Indexes, held); err != nil {
			return errors.Wrapf(err, "find %v", names)
		}
	}
	return nil
}

// CheckFindAll expects the keys holding every one of names.
func (f *Fixture) CheckFindAll(ctx context.Context, names []string) error {
	return check(ctx, f.Session.FindAllIndexes, f.Model, names, true)
}

// CheckFindAny expects the keys holding any of names.
func (f *Fixture) CheckFindAny(ctx context.Context, names []string) error {
	return check(ctx, f.Session.FindAnyIndexes, f.Model, names, false)
}
