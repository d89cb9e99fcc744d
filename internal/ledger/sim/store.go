package sim

import (
	"reflect"
	"sort"

	"loanflow/internal/ledger"
)

// objectStore holds every ledger object by index. Accounts, trust lines and
// lending objects all live here so one snapshot covers a whole transaction.
type objectStore struct {
	objects map[string]ledger.Entry
}

func newObjectStore() *objectStore {
	return &objectStore{objects: make(map[string]ledger.Entry)}
}

// Get returns the live entry; callers mutate it in place.
func (s *objectStore) Get(index string) ledger.Entry {
	if s == nil {
		return nil
	}
	return s.objects[index]
}

func (s *objectStore) Put(index string, e ledger.Entry) {
	s.objects[index] = e
}

func (s *objectStore) Delete(index string) bool {
	if _, ok := s.objects[index]; !ok {
		return false
	}
	delete(s.objects, index)
	return true
}

func (s *objectStore) each(entryType string, fn func(index string, e ledger.Entry)) {
	indexes := make([]string, 0, len(s.objects))
	for index, e := range s.objects {
		if e.Type() == entryType {
			indexes = append(indexes, index)
		}
	}
	sort.Strings(indexes)
	for _, index := range indexes {
		fn(index, s.objects[index])
	}
}

func (s *objectStore) snapshot() map[string]ledger.Entry {
	out := make(map[string]ledger.Entry, len(s.objects))
	for k, v := range s.objects {
		out[k] = copyEntry(v)
	}
	return out
}

func (s *objectStore) restore(snap map[string]ledger.Entry) {
	s.objects = snap
}

// diff lists the objects created, modified or deleted since before, ordered
// by index.
func (s *objectStore) diff(before map[string]ledger.Entry) []ledger.AffectedNode {
	seen := make(map[string]bool, len(s.objects)+len(before))
	var indexes []string
	for k := range s.objects {
		seen[k] = true
		indexes = append(indexes, k)
	}
	for k := range before {
		if !seen[k] {
			indexes = append(indexes, k)
		}
	}
	sort.Strings(indexes)

	var nodes []ledger.AffectedNode
	for _, index := range indexes {
		old, had := before[index]
		cur, has := s.objects[index]
		switch {
		case has && !had:
			nodes = append(nodes, ledger.AffectedNode{
				NodeType:        ledger.NodeCreated,
				LedgerEntryType: cur.Type(),
				LedgerIndex:     index,
				NewFields:       fieldsOf(cur),
			})
		case had && !has:
			nodes = append(nodes, ledger.AffectedNode{
				NodeType:        ledger.NodeDeleted,
				LedgerEntryType: old.Type(),
				LedgerIndex:     index,
				FinalFields:     fieldsOf(old),
			})
		default:
			prev := map[string]interface{}{}
			for k, v := range old {
				if !reflect.DeepEqual(cur[k], v) {
					prev[k] = copyValue(v)
				}
			}
			if len(prev) == 0 {
				continue
			}
			nodes = append(nodes, ledger.AffectedNode{
				NodeType:        ledger.NodeModified,
				LedgerEntryType: cur.Type(),
				LedgerIndex:     index,
				FinalFields:     fieldsOf(cur),
				PreviousFields:  prev,
			})
		}
	}
	return nodes
}

func fieldsOf(e ledger.Entry) map[string]interface{} {
	out := make(map[string]interface{}, len(e))
	for k, v := range e {
		if k == "LedgerEntryType" {
			continue
		}
		out[k] = copyValue(v)
	}
	return out
}

func copyEntry(e ledger.Entry) ledger.Entry {
	if e == nil {
		return nil
	}
	out := make(ledger.Entry, len(e))
	for k, v := range e {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, inner := range t {
			out[k] = copyValue(inner)
		}
		return out
	case ledger.Transaction:
		return copyValue(map[string]interface{}(t))
	case ledger.Entry:
		return copyValue(map[string]interface{}(t))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, inner := range t {
			out[i] = copyValue(inner)
		}
		return out
	}
	return v
}
