package metrics

import "sync"

// Log is an append-only outcome log.
type Log struct {
	mu       sync.Mutex
	requests []RequestRecord
	users    []UserRecord
}

func NewLog() *Log { return &Log{} }

func (l *Log) RecordRequest(r RequestRecord) {
	l.mu.Lock()
	l.requests = append(l.requests, r)
	l.mu.Unlock()
}

func (l *Log) RecordUser(u UserRecord) {
	l.mu.Lock()
	l.users = append(l.users, u)
	l.mu.Unlock()
}

// Requests returns a copy of the request records in arrival order.
func (l *Log) Requests() []RequestRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]RequestRecord{}, l.requests...)
}

// Users returns a copy of the lifecycle records in arrival order.
func (l *Log) Users() []UserRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]UserRecord{}, l.users...)
}

// RequestsFor returns the request records of one virtual user.
func (l *Log) RequestsFor(vuID int) []RequestRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []RequestRecord
	for _, r := range l.requests {
		if r.VUID == vuID {
			out = append(out, r)
		}
	}
	return out
}

// CountUsers counts lifecycle records with the given event.
func (l *Log) CountUsers(event UserEvent) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, u := range l.users {
		if u.Event == event {
			n++
		}
	}
	return n
}
