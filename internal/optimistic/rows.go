package optimistic

// Upsert replaces the row with item's id or appends item. Reloads and
// optimistic inserts share client ids, so a row never appears twice.
func Upsert[T any](rows []T, item T, id func(T) string) []T {
	key := id(item)
	for i := range rows {
		if id(rows[i]) == key {
			rows[i] = item
			return rows
		}
	}
	return append(rows, item)
}

// Remove returns rows without the row whose id is key.
func Remove[T any](rows []T, key string, id func(T) string) []T {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		if id(r) != key {
			out = append(out, r)
		}
	}
	return out
}

// Find returns a pointer to the row whose id is key, or nil.
func Find[T any](rows []T, key string, id func(T) string) *T {
	for i := range rows {
		if id(rows[i]) == key {
			return &rows[i]
		}
	}
	return nil
}

// Copy returns a copy of the row whose id is key, or nil. It is the snapshot
// for a single-row edit or delete.
func Copy[T any](rows []T, key string, id func(T) string) *T {
	if p := Find(rows, key, id); p != nil {
		v := *p
		return &v
	}
	return nil
}

// Reinsert puts prev back after a failed delete. Rows changed by other
// mutations in the meantime are left as they are.
func Reinsert[T any](rows []T, prev *T, id func(T) string) []T {
	if prev == nil {
		return rows
	}
	return Upsert(rows, *prev, id)
}

// Revert restores prev after a failed edit. A row removed in the meantime
// stays removed.
func Revert[T any](rows []T, prev *T, id func(T) string) []T {
	if prev == nil {
		return rows
	}
	if p := Find(rows, id(*prev), id); p != nil {
		*p = *prev
	}
	return rows
}
