package ellipticstest

import (
	"context"
	"sort"
	"time"

	"github.com/kis8ya/elliptics-qa/elliptics"
)

type session struct {
	c      *Cluster
	groups []int
	flags  uint64
}

var _ elliptics.Session = (*session)(nil)

func (s *session) Groups() []int {
	return append([]int(nil), s.groups...)
}

func (s *session) SetGroups(groups []int) {
	s.groups = append([]int(nil), groups...)
}

func (s *session) SetUserFlags(flags uint64) {
	s.flags = flags
}

func (s *session) Clone() elliptics.Session {
	return &session{c: s.c, groups: s.Groups(), flags: s.flags}
}

func (s *session) Close() error {
	return nil
}

// store runs update on the record of key held by its owner in every group
// of the session. A record update refused does not create the record.
func (s *session) store(ctx context.Context, op, key string, update func(rec *record) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()

	id := elliptics.Transform(key)
	routes := c.liveRoutes()
	written := 0
	for _, g := range s.groups {
		_, b, ok := c.owner(routes, id, g)
		if !ok {
			continue
		}
		rec, ok := b.records[id]
		if !ok {
			rec = &record{key: key}
		}
		if err := update(rec); err != nil {
			return err
		}
		b.records[id] = rec
		written++
	}
	if written == 0 {
		return elliptics.Errorf(elliptics.ErrAddrNotExists, "%s %s: no route in groups %v", op, key, s.groups)
	}
	return nil
}

func (s *session) publish(rec *record, data []byte) {
	rec.data = data
	rec.hasData = true
	rec.userFlags = s.flags
	rec.timestamp = time.Now()
}

// overlay writes data over old at offset and cuts the result right after it.
func overlay(old, data []byte, offset uint64) []byte {
	res := make([]byte, offset+uint64(len(data)))
	copy(res, old)
	copy(res[offset:], data)
	return res
}

func (s *session) Write(ctx context.Context, key string, data []byte) error {
	return s.WriteData(ctx, key, data, 0, 0)
}

func (s *session) WriteData(ctx context.Context, key string, data []byte, offset, chunkSize uint64) error {
	size := uint64(len(data))
	if chunkSize == 0 || chunkSize >= size {
		return s.store(ctx, "write", key, func(rec *record) error {
			s.publish(rec, overlay(rec.data, data, offset))
			return nil
		})
	}
	total := offset + size
	if err := s.WritePrepare(ctx, key, data[:chunkSize], offset, total); err != nil {
		return err
	}
	pos := chunkSize
	for ; size-pos > chunkSize; pos += chunkSize {
		if err := s.WritePlain(ctx, key, data[pos:pos+chunkSize], offset+pos); err != nil {
			return err
		}
	}
	return s.WriteCommit(ctx, key, data[pos:], offset+pos, total)
}

func (s *session) WritePrepare(ctx context.Context, key string, data []byte, offset, psize uint64) error {
	if psize == 0 {
		return elliptics.Errorf(elliptics.ErrWrongArguments, "prepare %s: no size", key)
	}
	if offset+uint64(len(data)) > psize {
		return elliptics.Errorf(elliptics.ErrWrongArguments, "prepare %s: %d bytes at %d over %d prepared", key, len(data), offset, psize)
	}
	return s.store(ctx, "prepare", key, func(rec *record) error {
		rec.pending = make([]byte, psize)
		copy(rec.pending, rec.data)
		copy(rec.pending[offset:], data)
		return nil
	})
}

func writePending(rec *record, data []byte, offset uint64) error {
	if rec.pending == nil {
		return elliptics.Errorf(elliptics.ErrNotFound, "%s is not prepared", rec.key)
	}
	if offset+uint64(len(data)) > uint64(len(rec.pending)) {
		return elliptics.Errorf(elliptics.ErrWrongArguments, "%s: %d bytes at %d over %d prepared", rec.key, len(data), offset, len(rec.pending))
	}
	copy(rec.pending[offset:], data)
	return nil
}

func (s *session) WritePlain(ctx context.Context, key string, data []byte, offset uint64) error {
	return s.store(ctx, "plain write", key, func(rec *record) error {
		return writePending(rec, data, offset)
	})
}

func (s *session) WriteCommit(ctx context.Context, key string, data []byte, offset, csize uint64) error {
	return s.store(ctx, "commit", key, func(rec *record) error {
		if rec.pending != nil && csize > uint64(len(rec.pending)) {
			return elliptics.Errorf(elliptics.ErrWrongArguments, "commit %s: %d bytes of %d prepared", key, csize, len(rec.pending))
		}
		if err := writePending(rec, data, offset); err != nil {
			return err
		}
		s.publish(rec, rec.pending[:csize])
		rec.pending = nil
		return nil
	})
}

func (s *session) Read(ctx context.Context, key string) (*elliptics.ReadResult, error) {
	return s.ReadFromGroups(ctx, key, s.groups)
}

func (s *session) ReadFromGroups(ctx context.Context, key string, groups []int) (*elliptics.ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, elliptics.Errorf(elliptics.ErrWrongArguments, "read %s: no groups", key)
	}
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()

	id := elliptics.Transform(key)
	routes := c.liveRoutes()
	var lastErr error
	for _, g := range groups {
		srv, b, ok := c.owner(routes, id, g)
		if !ok {
			if lastErr == nil {
				lastErr = elliptics.Errorf(elliptics.ErrAddrNotExists, "read %s: no route in group %d", key, g)
			}
			continue
		}
		rec, ok := b.records[id]
		if !ok || !rec.hasData {
			lastErr = elliptics.Errorf(elliptics.ErrNotFound, "read %s from group %d", key, g)
			continue
		}
		return &elliptics.ReadResult{
			Key:       key,
			ID:        id,
			Data:      append([]byte(nil), rec.data...),
			Group:     g,
			Address:   srv.address(),
			UserFlags: rec.userFlags,
			Timestamp: rec.timestamp,
		}, nil
	}
	return nil, lastErr
}

// readRange cuts data the way a server read does: a read from the start
// may ask for more than there is, a read past the start must fit.
func readRange(key string, data []byte, offset, size uint64) ([]byte, error) {
	length := uint64(len(data))
	if offset > 0 && offset >= length {
		return nil, elliptics.Errorf(elliptics.ErrWrongArguments, "read %s: offset %d of %d bytes", key, offset, length)
	}
	if size == 0 {
		return data[offset:], nil
	}
	if offset+size > length {
		if offset > 0 {
			return nil, elliptics.Errorf(elliptics.ErrWrongArguments, "read %s: %d bytes at %d of %d", key, size, offset, length)
		}
		return data, nil
	}
	return data[offset : offset+size], nil
}

func (s *session) ReadData(ctx context.Context, key string, offset, size uint64) (*elliptics.ReadResult, error) {
	res, err := s.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	if res.Data, err = readRange(key, res.Data, offset, size); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *session) BulkRead(ctx context.Context, keys []string) ([]elliptics.ReadResult, error) {
	var res []elliptics.ReadResult
	for _, k := range keys {
		r, err := s.Read(ctx, k)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		res = append(res, *r)
	}
	return res, nil
}

func (s *session) Lookup(ctx context.Context, id elliptics.ID, group int) (elliptics.Address, error) {
	if err := ctx.Err(); err != nil {
		return elliptics.Address{}, err
	}
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	srv, _, ok := c.owner(c.liveRoutes(), id, group)
	if !ok {
		return elliptics.Address{}, elliptics.Errorf(elliptics.ErrAddrNotExists, "lookup %s in group %d", id, group)
	}
	return srv.address(), nil
}

func (s *session) updateIndexes(ctx context.Context, key string, update func(rec *record)) error {
	return s.store(ctx, "indexes of", key, func(rec *record) error {
		if rec.indexes == nil {
			rec.indexes = map[elliptics.ID]string{}
		}
		update(rec)
		return nil
	})
}

func checkIndexArgs(indexes, data []string) error {
	if len(indexes) != len(data) {
		return elliptics.Errorf(elliptics.ErrWrongArguments, "%d indexes with %d payloads", len(indexes), len(data))
	}
	return nil
}

func (s *session) SetIndexes(ctx context.Context, key string, indexes []string, data []string) error {
	if err := checkIndexArgs(indexes, data); err != nil {
		return err
	}
	return s.updateIndexes(ctx, key, func(rec *record) {
		rec.indexes = make(map[elliptics.ID]string, len(indexes))
		for i, idx := range indexes {
			rec.indexes[elliptics.Transform(idx)] = data[i]
		}
	})
}

func (s *session) UpdateIndexes(ctx context.Context, key string, indexes []string, data []string) error {
	if err := checkIndexArgs(indexes, data); err != nil {
		return err
	}
	return s.updateIndexes(ctx, key, func(rec *record) {
		for i, idx := range indexes {
			rec.indexes[elliptics.Transform(idx)] = data[i]
		}
	})
}

func (s *session) RemoveIndexes(ctx context.Context, key string, indexes []string) error {
	return s.updateIndexes(ctx, key, func(rec *record) {
		for _, idx := range indexes {
			delete(rec.indexes, elliptics.Transform(idx))
		}
	})
}

type indexMatch func(rec *record, ids []elliptics.ID) ([]elliptics.IndexEntry, bool)

func (s *session) find(ctx context.Context, indexes []string, match indexMatch) ([]elliptics.FindResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.groups) == 0 {
		return nil, elliptics.Errorf(elliptics.ErrWrongArguments, "find: no groups")
	}
	if len(indexes) == 0 {
		return nil, elliptics.Errorf(elliptics.ErrWrongArguments, "find: no indexes")
	}
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()

	group := s.groups[0]
	ids := make([]elliptics.ID, 0, len(indexes))
	for _, idx := range indexes {
		ids = append(ids, elliptics.Transform(idx))
	}
	routes := c.liveRoutes()
	var res []elliptics.FindResult
	for _, srv := range c.servers {
		if srv.node.Group != group || srv.dropped {
			continue
		}
		for _, b := range srv.backends {
			if !b.enabled {
				continue
			}
			for id, rec := range b.records {
				if !c.placed(routes, id, srv, b) {
					continue
				}
				entries, ok := match(rec, ids)
				if !ok {
					continue
				}
				res = append(res, elliptics.FindResult{ID: id, Indexes: entries})
			}
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID.Compare(res[j].ID) < 0 })
	return res, nil
}

func (s *session) FindAllIndexes(ctx context.Context, indexes []string) ([]elliptics.FindResult, error) {
	return s.find(ctx, indexes, matchAll)
}

func (s *session) FindAnyIndexes(ctx context.Context, indexes []string) ([]elliptics.FindResult, error) {
	return s.find(ctx, indexes, matchAny)
}

func matchAll(rec *record, ids []elliptics.ID) ([]elliptics.IndexEntry, bool) {
	entries := make([]elliptics.IndexEntry, 0, len(ids))
	for _, id := range ids {
		data, ok := rec.indexes[id]
		if !ok {
			return nil, false
		}
		entries = append(entries, elliptics.IndexEntry{Index: id, Data: data})
	}
	return entries, true
}

func matchAny(rec *record, ids []elliptics.ID) ([]elliptics.IndexEntry, bool) {
	var entries []elliptics.IndexEntry
	for _, id := range ids {
		if data, ok := rec.indexes[id]; ok {
			entries = append(entries, elliptics.IndexEntry{Index: id, Data: data})
		}
	}
	return entries, len(entries) != 0
}

func (s *session) ListIndexes(ctx context.Context, key string) ([]elliptics.IndexEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()

	id := elliptics.Transform(key)
	routes := c.liveRoutes()
	for _, g := range s.groups {
		_, b, ok := c.owner(routes, id, g)
		if !ok {
			continue
		}
		rec, ok := b.records[id]
		if !ok || rec.indexes == nil {
			continue
		}
		entries := make([]elliptics.IndexEntry, 0, len(rec.indexes))
		for idx, data := range rec.indexes {
			entries = append(entries, elliptics.IndexEntry{Index: idx, Data: data})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Index.Compare(entries[j].Index) < 0 })
		return entries, nil
	}
	return nil, elliptics.Errorf(elliptics.ErrNotFound, "indexes of %s in groups %v", key, s.groups)
}

// Routes includes the boundary entries the client adds to every group:
// 00...00 goes to the owner of the lowest position and ff...ff to the
// backend with the highest one.
func (s *session) Routes() elliptics.RouteTable {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.liveRoutes()
	routes := append([]elliptics.Route(nil), live...)
	for _, g := range live.Groups() {
		group := live.Filter(g)
		first, last := group[0], group[len(group)-1]
		if first.ID != elliptics.MinID {
			low := last
			low.ID = elliptics.MinID
			routes = append(routes, low)
		}
		if last.ID != elliptics.MaxID {
			high := last
			high.ID = elliptics.MaxID
			routes = append(routes, high)
		}
	}
	return elliptics.NewRouteTable(routes)
}

func (s *session) setBackend(ctx context.Context, addr elliptics.Address, backendID int, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	srv, err := c.server(addr)
	if err != nil {
		return err
	}
	if srv.dropped {
		return elliptics.Errorf(elliptics.ErrTimeout, "backend %d on %s", backendID, addr)
	}
	for _, b := range srv.backends {
		if b.id == backendID {
			b.enabled = enabled
			return nil
		}
	}
	return elliptics.Errorf(elliptics.ErrNotFound, "backend %d on %s", backendID, addr)
}

func (s *session) EnableBackend(ctx context.Context, addr elliptics.Address, backendID int) error {
	return s.setBackend(ctx, addr, backendID, true)
}

func (s *session) DisableBackend(ctx context.Context, addr elliptics.Address, backendID int) error {
	return s.setBackend(ctx, addr, backendID, false)
}
