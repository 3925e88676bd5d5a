package recovery_lib

import (
	"context"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/kis8ya/elliptics-qa/common"
	"github.com/kis8ya/elliptics-qa/elliptics"
)

func checkContent(key string, r *elliptics.ReadResult, where string) error {
	if got := common.Sha1(r.Data); got != key {
		return errors.Newf("key %s %s: data hashes to %s", key, where, got)
	}
	return nil
}

// AssertGroupVisible reads every key from every group on its own and checks
// the data against the key.
func AssertGroupVisible(ctx context.Context, session elliptics.Session, keys []string, groups []int) error {
	for _, key := range keys {
		for _, g := range groups {
			r, err := session.ReadFromGroups(ctx, key, []int{g})
			if err != nil {
				return errors.Wrapf(err, "key %s is not readable from group %d", key, g)
			}
			if err := checkContent(key, r, "in group "+itoa(g)); err != nil {
				return err
			}
		}
	}
	return nil
}

// AssertGroupInvisible expects every group read of every key to fail with
// not found, any other failure is reported as such.
func AssertGroupInvisible(ctx context.Context, session elliptics.Session, keys []string, groups []int) error {
	for _, key := range keys {
		for _, g := range groups {
			_, err := session.ReadFromGroups(ctx, key, []int{g})
			if err == nil {
				return errors.Newf("key %s is readable from group %d", key, g)
			}
			if !errors.Is(err, elliptics.ErrNotFound) {
				return errors.Wrapf(err, "key %s in group %d: want not found", key, g)
			}
		}
	}
	return nil
}

// AssertVisible reads every key through the session groups.
func AssertVisible(ctx context.Context, session elliptics.Session, keys []string) error {
	for _, key := range keys {
		r, err := session.Read(ctx, key)
		if err != nil {
			return errors.Wrapf(err, "key %s is not readable", key)
		}
		if err := checkContent(key, r, "from "+r.Address.String()); err != nil {
			return err
		}
	}
	return nil
}

// AssertInvisible expects not found for every key read through the session groups.
func AssertInvisible(ctx context.Context, session elliptics.Session, keys []string) error {
	for _, key := range keys {
		_, err := session.Read(ctx, key)
		if err == nil {
			return errors.Newf("key %s is readable", key)
		}
		if !errors.Is(err, elliptics.ErrNotFound) {
			return errors.Wrapf(err, "key %s: want not found", key)
		}
	}
	return nil
}

// ExpectedIndexKeys lists the keys an index search in group must return.
// Consistent keys always count. Recovered keys count where the outage did
// not reach, or everywhere when the tool restores indexes. Inconsistent
// keys count only where the outage did not reach.
func ExpectedIndexKeys(l *Ledger, index string, group int) []string {
	affected := l.Outage != nil && l.Outage.Affects(group)
	keys := l.Consistent.WithIndex(index)
	if l.RecoverIndexes || !affected {
		keys = append(keys, l.Recovered.WithIndex(index)...)
	}
	if !affected {
		keys = append(keys, l.Inconsistent.WithIndex(index)...)
	}
	return keys
}

func groupSession(session elliptics.Session, group int) elliptics.Session {
	s := session.Clone()
	s.SetGroups([]int{group})
	return s
}

func shortList(ids []string) string {
	sort.Strings(ids)
	const max = 5
	if len(ids) > max {
		return strings.Join(ids[:max], ", ") + ", ... (" + itoa(len(ids)) + " total)"
	}
	return strings.Join(ids, ", ")
}

// AssertIndexMembership checks that searching index in group finds exactly
// the expected keys, each with its own payload.
func AssertIndexMembership(ctx context.Context, session elliptics.Session, l *Ledger, index string, group int) error {
	results, err := groupSession(session, group).FindAllIndexes(ctx, []string{index})
	if err != nil {
		return errors.Wrapf(err, "find index %s in group %d", index, group)
	}
	found := make(map[elliptics.ID]elliptics.FindResult, len(results))
	for _, r := range results {
		found[r.ID] = r
	}

	expected := ExpectedIndexKeys(l, index, group)
	want := make(map[elliptics.ID]string, len(expected))
	var missing []string
	for _, key := range expected {
		id := elliptics.Transform(key)
		want[id] = key
		if _, ok := found[id]; !ok {
			missing = append(missing, key)
		}
	}
	var unexpected []string
	for id := range found {
		if _, ok := want[id]; !ok {
			unexpected = append(unexpected, id.String())
		}
	}
	if len(missing) != 0 || len(unexpected) != 0 {
		return errors.Newf("index %s in group %d: %d keys missing [%s], %d unexpected ids [%s]",
			index, group, len(missing), shortList(missing), len(unexpected), shortList(unexpected))
	}

	indexID := elliptics.Transform(index)
	for id, key := range want {
		data, ok := found[id].Data(indexID)
		if !ok {
			return errors.Newf("index %s in group %d: key %s is found without its payload", index, group, key)
		}
		if data != IndexData(key, index) {
			return errors.Newf("index %s in group %d: key %s has payload %q, want %q", index, group, key, data, IndexData(key, index))
		}
	}
	return nil
}

// AssertKeyIndexData lists the indexes of every expected key of index in
// group and checks the payload stored for it.
func AssertKeyIndexData(ctx context.Context, session elliptics.Session, l *Ledger, index string, group int) error {
	s := groupSession(session, group)
	indexID := elliptics.Transform(index)
	for _, key := range ExpectedIndexKeys(l, index, group) {
		entries, err := s.ListIndexes(ctx, key)
		if err != nil {
			return errors.Wrapf(err, "list indexes of %s in group %d", key, group)
		}
		var (
			data  string
			found bool
		)
		for _, e := range entries {
			if e.Index == indexID {
				data, found = e.Data, true
				break
			}
		}
		if !found {
			return errors.Newf("key %s in group %d does not list index %s", key, group, index)
		}
		if data != IndexData(key, index) {
			return errors.Newf("key %s in group %d: index %s has payload %q, want %q", key, group, index, data, IndexData(key, index))
		}
	}
	return nil
}
