package datasync

import (
	"context"
	"fmt"
	"strings"

	"github.com/pm25forecast/pm25forecast/internal/table"
)

// keyIndex caches the stored key sets of one table, one set per key column
// list. Sets are loaded on first use and grown with every appended batch so
// later files see rows appended by earlier ones.
type keyIndex struct {
	store Store
	table string
	sets  map[string]keySet

	// simulated holds dry-run batches that never reached storage, replayed
	// into sets loaded after they were added.
	simulated []*table.Table
}

type keySet struct {
	columns []string
	keys    map[string]struct{}
}

func newKeyIndex(store Store, name string) *keyIndex {
	return &keyIndex{store: store, table: name, sets: make(map[string]keySet)}
}

func (k *keyIndex) set(ctx context.Context, columns []string) (map[string]struct{}, error) {
	sig := strings.Join(columns, "\x1f")
	if s, ok := k.sets[sig]; ok {
		return s.keys, nil
	}

	keys, err := k.load(ctx, columns)
	if err != nil {
		return nil, err
	}
	s := keySet{columns: columns, keys: keys}
	for _, t := range k.simulated {
		s.extend(t)
	}
	k.sets[sig] = s
	return keys, nil
}

func (k *keyIndex) load(ctx context.Context, columns []string) (map[string]struct{}, error) {
	exists, err := k.store.TableExists(ctx, k.table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return make(map[string]struct{}), nil
	}

	stored, err := k.store.Columns(ctx, k.table)
	if err != nil {
		return nil, err
	}
	for _, c := range columns {
		if !contains(stored, c) {
			return make(map[string]struct{}), nil
		}
	}

	keys, err := k.store.DistinctKeys(ctx, k.table, columns)
	if err != nil {
		return nil, fmt.Errorf("load keys of %s: %w", k.table, err)
	}
	return keys, nil
}

// add records an appended batch in every loaded set.
func (k *keyIndex) add(t *table.Table, simulated bool) {
	if t.Len() == 0 {
		return
	}
	for _, s := range k.sets {
		s.extend(t)
	}
	if simulated {
		k.simulated = append(k.simulated, t)
	}
}

// extend adds the keys of t's rows. Columns missing from t key as null, the
// way storage returns them.
func (s keySet) extend(t *table.Table) {
	positions := make([]int, len(s.columns))
	for i, c := range s.columns {
		positions[i] = t.Index(c)
	}
	values := make([]any, len(positions))
	for _, row := range t.Rows {
		for i, p := range positions {
			values[i] = nil
			if p >= 0 {
				values[i] = row[p]
			}
		}
		s.keys[table.Key(values)] = struct{}{}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
