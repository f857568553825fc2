package multiplexer

import (
	"fmt"
	"log"
)

// journalQueueSize is the number of rounds a Server buffers
// while the database is busy
const journalQueueSize = 1024

var journalSQL = map[string]string{
	DriverSQLite3: `CREATE TABLE IF NOT EXISTS journal (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		round INTEGER NOT NULL,
		data BLOB NOT NULL
	);`,
	DriverPostgres: `CREATE TABLE IF NOT EXISTS journal (
		id SERIAL PRIMARY KEY,
		round INTEGER NOT NULL,
		data BYTEA NOT NULL
	);`,
}

// A Journal records the framed events of every round
// that a Server broadcasts
type Journal struct {
	db *DB
}

// NewJournal creates the journal table in db if it doesn't exist
func NewJournal(db *DB) (*Journal, error) {
	schema, ok := journalSQL[db.Driver()]
	if !ok {
		return nil, fmt.Errorf("journal: unsupported driver %q", db.Driver())
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	return &Journal{db: db}, nil
}

// Append stores the broadcast of a round
func (j *Journal) Append(round int32, data []byte) error {
	_, err := j.db.Exec(`INSERT INTO journal (
		round,
		data
	) VALUES (
		?,
		?
	);`, round, data)
	return err
}

// Len returns the number of stored rounds
func (j *Journal) Len() (int, error) {
	var n int
	err := j.db.QueryRow(`SELECT COUNT(*) FROM journal;`, nil, &n)
	return n, err
}

// Replay calls fn with the events of every stored round
// in the order they were broadcast
func (j *Journal) Replay(fn func(round int32, events []Event) error) error {
	rows, err := j.db.Query(`SELECT round, data FROM journal ORDER BY id;`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			round int32
			data  []byte
		)
		if err := rows.Scan(&round, &data); err != nil {
			return err
		}

		events, err := decodeFrames(data)
		if err != nil {
			return fmt.Errorf("journal round %d: %w", round, err)
		}

		if err := fn(round, events); err != nil {
			return err
		}
	}

	return rows.Err()
}

// decodeFrames parses concatenated framed events
func decodeFrames(data []byte) ([]Event, error) {
	frames, rest, err := Unframe(data)
	if err != nil {
		return nil, err
	}
	if rest != 0 {
		return nil, fmt.Errorf("%d trailing bytes", rest)
	}

	events := make([]Event, 0, len(frames))
	for _, frame := range frames {
		var e Event
		if err := e.UnmarshalBinary(frame); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, nil
}

type journalEntry struct {
	round int32
	data  []byte
}

// A journalWriter stores rounds from its own goroutine
// The server loop only ever enqueues
type journalWriter struct {
	store func(round int32, data []byte) error
	queue chan journalEntry
	done  chan struct{}
}

func newJournalWriter(store func(round int32, data []byte) error, size int) *journalWriter {
	w := &journalWriter{
		store: store,
		queue: make(chan journalEntry, size),
		done:  make(chan struct{}),
	}

	go w.run()
	return w
}

func (w *journalWriter) run() {
	defer close(w.done)

	for e := range w.queue {
		if err := w.store(e.round, e.data); err != nil {
			log.Printf("Journal round %d: %v", e.round, err)
		}
	}
}

// append queues a round without blocking
// It reports false if the queue is full and the round was dropped
func (w *journalWriter) append(round int32, data []byte) bool {
	select {
	case w.queue <- journalEntry{round: round, data: data}:
		return true
	default:
		return false
	}
}

// close waits until every queued round is stored
func (w *journalWriter) close() {
	close(w.queue)
	<-w.done
}
