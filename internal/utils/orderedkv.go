package utils

import (
	"bytes"
	"encoding/json"
	"sort"
)

type OrderedKV[T any] struct {
	Value T
	Order int64
}

// OrderedKVMap remembers the order keys were first seen in. Entries are never
// removed, so the map length doubles as the next order value.
type OrderedKVMap[T any] map[string]OrderedKV[T]

// SetIfAbsent stores v under key unless the key is already present, and
// reports whether it stored.
func (om OrderedKVMap[T]) SetIfAbsent(key string, v T) bool {
	if _, ok := om[key]; ok {
		return false
	}
	om[key] = OrderedKV[T]{Value: v, Order: int64(len(om))}
	return true
}

func (om OrderedKVMap[T]) sorted() []OrderedKV[T] {
	pairs := make([]OrderedKV[T], 0, len(om))
	for _, v := range om {
		pairs = append(pairs, v)
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Order < pairs[j].Order
	})
	return pairs
}

// Values returns the stored values in first-seen order.
func (om OrderedKVMap[T]) Values() []T {
	pairs := om.sorted()
	values := make([]T, len(pairs))
	for i, p := range pairs {
		values[i] = p.Value
	}
	return values
}

func (om OrderedKVMap[T]) Keys() []string {
	type pair struct {
		key   string
		order int64
	}
	pairs := make([]pair, 0, len(om))
	for k, v := range om {
		pairs = append(pairs, pair{key: k, order: v.Order})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].order < pairs[j].order
	})
	keys := make([]string, len(pairs))
	for i, p := range pairs {
		keys[i] = p.key
	}
	return keys
}

func (om OrderedKVMap[T]) MarshalJSON() ([]byte, error) {
	keys := om.Keys()

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valueBytes, err := json.Marshal(om[k].Value)
		if err != nil {
			return nil, err
		}
		buf.Write(valueBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
