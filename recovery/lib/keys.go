package recovery_lib

import (
	"encoding/json"
	"io/ioutil"
	"sort"

	"github.com/cockroachdb/errors"
)

// Classification of a key by its state across the outage and the recovery.
type Classification int

const (
	// Consistent keys were written with every replica reachable.
	Consistent Classification = iota
	// Recovered keys were written during the outage and the tool must restore them.
	Recovered
	// Inconsistent keys were written during the outage and stay unrestored.
	Inconsistent
)

func (c Classification) String() string {
	switch c {
	case Consistent:
		return "consistent"
	case Recovered:
		return "recovered"
	case Inconsistent:
		return "inconsistent"
	}
	return "unknown"
}

// IndexData is the payload a key carries for an index.
func IndexData(key, index string) string {
	return key + "_" + index
}

// Entry is a written key and the indexes attached to it.
type Entry struct {
	Key     string
	Indexes []string
}

func (e Entry) HasIndex(index string) bool {
	for _, i := range e.Indexes {
		if i == index {
			return true
		}
	}
	return false
}

// IndexData returns the payloads of all indexes of the entry, in index order.
func (e Entry) IndexData() []string {
	data := make([]string, 0, len(e.Indexes))
	for _, i := range e.Indexes {
		data = append(data, IndexData(e.Key, i))
	}
	return data
}

// KeySet is an ordered set of entries. Order is write order, or key order
// for sets loaded from a file.
type KeySet struct {
	entries []Entry
	pos     map[string]int
}

func NewKeySet(entries ...Entry) (KeySet, error) {
	var s KeySet
	for _, e := range entries {
		if err := s.Add(e); err != nil {
			return KeySet{}, err
		}
	}
	return s, nil
}

func (s *KeySet) Add(e Entry) error {
	if s.pos == nil {
		s.pos = map[string]int{}
	}
	if _, ok := s.pos[e.Key]; ok {
		return errors.Newf("key %s is already in the set", e.Key)
	}
	s.pos[e.Key] = len(s.entries)
	s.entries = append(s.entries, e)
	return nil
}

func (s KeySet) Len() int {
	return len(s.entries)
}

func (s KeySet) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

func (s KeySet) Keys() []string {
	keys := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		keys = append(keys, e.Key)
	}
	return keys
}

func (s KeySet) Get(key string) (Entry, bool) {
	i, ok := s.pos[key]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

func (s KeySet) Contains(key string) bool {
	_, ok := s.pos[key]
	return ok
}

// WithIndex returns the keys carrying index.
func (s KeySet) WithIndex(index string) []string {
	var keys []string
	for _, e := range s.entries {
		if e.HasIndex(index) {
			keys = append(keys, e.Key)
		}
	}
	return keys
}

// Indexes used by any entry, sorted.
func (s KeySet) Indexes() []string {
	seen := map[string]bool{}
	var res []string
	for _, e := range s.entries {
		for _, i := range e.Indexes {
			if !seen[i] {
				seen[i] = true
				res = append(res, i)
			}
		}
	}
	sort.Strings(res)
	return res
}

// slice returns a set of entries [from, to) keeping order.
func (s KeySet) slice(from, to int) KeySet {
	var res KeySet
	for _, e := range s.entries[from:to] {
		_ = res.Add(e)
	}
	return res
}

// MarshalJSON writes {key: [indexes]}.
func (s KeySet) MarshalJSON() ([]byte, error) {
	m := make(map[string][]string, len(s.entries))
	for _, e := range s.entries {
		idx := e.Indexes
		if idx == nil {
			idx = []string{}
		}
		m[e.Key] = idx
	}
	return json.Marshal(m)
}

func (s *KeySet) UnmarshalJSON(b []byte) error {
	var m map[string][]string
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	*s = KeySet{}
	for _, k := range keys {
		if err := s.Add(Entry{Key: k, Indexes: m[k]}); err != nil {
			return err
		}
	}
	return nil
}

// LoadKeySet reads a set saved by SaveKeySet.
func LoadKeySet(path string) (KeySet, error) {
	var s KeySet
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return s, errors.Wrap(err, "load keys")
	}
	err = json.Unmarshal(b, &s)
	return s, errors.Wrapf(err, "parse keys file %s", path)
}

func SaveKeySet(path string, s KeySet) error {
	b, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshal keys")
	}
	return errors.Wrap(ioutil.WriteFile(path, b, 0644), "save keys")
}

// LoadGroups reads a JSON list of groups.
func LoadGroups(path string) ([]int, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "load groups")
	}
	var groups []int
	err = json.Unmarshal(b, &groups)
	return groups, errors.Wrapf(err, "parse groups file %s", path)
}

func SaveGroups(path string, groups []int) error {
	b, err := json.Marshal(groups)
	if err != nil {
		return errors.Wrap(err, "marshal groups")
	}
	return errors.Wrap(ioutil.WriteFile(path, b, 0644), "save groups")
}
