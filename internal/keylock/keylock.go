// Package keylock реализует набор мьютексов, индексированных ключом.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Locker выдаёт мьютекс на ключ. Запись удаляется, когда её никто не держит и не ждёт.
type Locker struct {
	mu      sync.Mutex
	entries map[int64]*entry
}

// New создаёт пустой Locker.
func New() *Locker {
	return &Locker{entries: make(map[int64]*entry)}
}

// Lock захватывает мьютекс ключа и возвращает функцию его освобождения.
func (l *Locker) Lock(key int64) func() {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}
}

// Len возвращает количество ключей, по которым есть держатели или ожидающие.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
