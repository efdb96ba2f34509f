// Package journal records chord settlements in SQLite so hold timeouts
// and chord rules can be tuned from real typing.
//
// The engine notifies the journal on its own goroutine; Settled only
// enqueues and a writer goroutine batches inserts, so the engine loop
// never waits on disk.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chordd/internal/chord"
	"chordd/internal/keycode"
)

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal: closed")

const (
	defaultQueueSize     = 1024
	defaultBatchSize     = 64
	defaultFlushInterval = 500 * time.Millisecond
)

// Options tunes the writer.
type Options struct {
	// QueueSize bounds settlements waiting to be written. When full new
	// settlements are dropped and counted.
	QueueSize int

	// BatchSize is the number of settlements written per transaction.
	BatchSize int

	// FlushInterval bounds how long a settlement waits in a partial batch.
	FlushInterval time.Duration

	Logger *slog.Logger
}

// Entry is one journaled settlement.
type Entry struct {
	ID    int64
	RunID int64
	chord.Settlement
}

// Journal is a settlement store. It implements chord.Observer.
type Journal struct {
	db    *sql.DB
	path  string
	log   *slog.Logger
	batch int
	every time.Duration

	queue   chan chord.Settlement
	flushes chan chan error
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
	closeErr  error

	runID   atomic.Int64
	dropped atomic.Uint64
	written atomic.Uint64
}

var _ chord.Observer = (*Journal)(nil)

// Open opens or creates the journal at path and starts its writer.
func Open(path string, opts Options) (*Journal, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, err
	}

	j := &Journal{
		db:      db,
		path:    path,
		log:     opts.Logger,
		batch:   opts.BatchSize,
		every:   opts.FlushInterval,
		queue:   make(chan chord.Settlement, opts.QueueSize),
		flushes: make(chan chan error),
		done:    make(chan struct{}),
	}
	j.wg.Add(1)
	go j.writer()
	return j, nil
}

// Path returns the database path.
func (j *Journal) Path() string {
	return j.path
}

// Settled enqueues s. It never blocks.
func (j *Journal) Settled(s chord.Settlement) {
	select {
	case <-j.done:
		return
	default:
	}
	select {
	case j.queue <- s:
	default:
		j.dropped.Add(1)
	}
}

// Ping checks that the database is reachable.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Dropped returns how many settlements were dropped on a full queue.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

// Written returns how many queued settlements reached the database.
func (j *Journal) Written() uint64 {
	return j.written.Load()
}

func (j *Journal) writer() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.every)
	defer ticker.Stop()

	pending := make([]chord.Settlement, 0, j.batch)
	write := func() error {
		if len(pending) == 0 {
			return nil
		}
		err := j.insert(pending)
		if err != nil {
			j.log.Error("journal write failed", "error", err, "settlements", len(pending))
		} else {
			j.written.Add(uint64(len(pending)))
		}
		pending = pending[:0]
		return err
	}
	drain := func() {
		for {
			select {
			case s := <-j.queue:
				pending = append(pending, s)
			default:
				return
			}
		}
	}

	for {
		select {
		case s := <-j.queue:
			pending = append(pending, s)
			if len(pending) >= j.batch {
				write()
			}
		case <-ticker.C:
			write()
		case reply := <-j.flushes:
			drain()
			reply <- write()
		case <-j.done:
			drain()
			write()
			return
		}
	}
}

// Flush writes everything queued so far.
func (j *Journal) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case j.flushes <- reply:
	case <-j.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Record writes s synchronously.
func (j *Journal) Record(s chord.Settlement) error {
	return j.insert([]chord.Settlement{s})
}

func (j *Journal) insert(batch []chord.Settlement) error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO settlements (keycode, key_row, key_col, outcome, reason, other, eager, pressed_ns, settled_ns, latency_us, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	var run sql.NullInt64
	if id := j.runID.Load(); id != 0 {
		run = sql.NullInt64{Int64: id, Valid: true}
	}

	for _, s := range batch {
		if _, err := stmt.Exec(
			int64(s.Keycode), s.Key.Row, s.Key.Col, int(s.Outcome), int(s.Reason), int64(s.Other),
			s.Eager, s.Pressed.UnixNano(), s.Settled.UnixNano(), s.Latency().Microseconds(), run,
		); err != nil {
			return fmt.Errorf("insert settlement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// BeginRun starts a daemon run. Settlements written afterwards carry its
// id until Close.
func (j *Journal) BeginRun(version, policy string) (int64, error) {
	res, err := j.db.Exec(
		"INSERT INTO runs (started_ns, version, policy) VALUES (?, ?, ?)",
		time.Now().UnixNano(), version, policy,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	j.runID.Store(id)
	return id, nil
}

// KeyStats summarizes the settlements of one dual-role keycode.
type KeyStats struct {
	Keycode      keycode.Keycode
	Total        int
	Taps         int
	Holds        int
	ChordHolds   int
	TimeoutHolds int
	StreakTaps   int
	Eager        int
	MeanLatency  time.Duration
	MaxLatency   time.Duration
}

// HoldRatio is the share of settlements that were holds.
func (k KeyStats) HoldRatio() float64 {
	if k.Total == 0 {
		return 0
	}
	return float64(k.Holds) / float64(k.Total)
}

// Stats returns per-keycode statistics for settlements at or after since,
// busiest keys first.
func (j *Journal) Stats(since time.Time) ([]KeyStats, error) {
	var sinceNs int64
	if !since.IsZero() {
		sinceNs = since.UnixNano()
	}
	rows, err := j.db.Query(`
		SELECT keycode,
		       COUNT(*),
		       SUM(outcome = ?),
		       SUM(outcome = ?),
		       SUM(outcome = ? AND reason = ?),
		       SUM(outcome = ? AND reason = ?),
		       SUM(outcome = ? AND reason = ?),
		       SUM(eager),
		       AVG(latency_us),
		       MAX(latency_us)
		FROM settlements
		WHERE settled_ns >= ?
		GROUP BY keycode
		ORDER BY COUNT(*) DESC, keycode`,
		int(chord.OutcomeTap),
		int(chord.OutcomeHold),
		int(chord.OutcomeHold), int(chord.ReasonChord),
		int(chord.OutcomeHold), int(chord.ReasonTimeout),
		int(chord.OutcomeTap), int(chord.ReasonStreak),
		sinceNs,
	)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var out []KeyStats
	for rows.Next() {
		var (
			k        KeyStats
			kc       int64
			mean     float64
			maxUsecs int64
		)
		if err := rows.Scan(&kc, &k.Total, &k.Taps, &k.Holds, &k.ChordHolds, &k.TimeoutHolds,
			&k.StreakTaps, &k.Eager, &mean, &maxUsecs); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		k.Keycode = keycode.Keycode(kc)
		k.MeanLatency = time.Duration(mean * float64(time.Microsecond))
		k.MaxLatency = time.Duration(maxUsecs) * time.Microsecond
		out = append(out, k)
	}
	return out, rows.Err()
}

// Recent returns the last n settlements, newest first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	rows, err := j.db.Query(`
		SELECT id, COALESCE(run_id, 0), keycode, key_row, key_col, outcome, reason, other, eager, pressed_ns, settled_ns
		FROM settlements
		ORDER BY id DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                    Entry
			kc, other            int64
			row, col             uint8
			outcome, reason      int
			pressedNs, settledNs int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &kc, &row, &col, &outcome, &reason, &other, &e.Eager, &pressedNs, &settledNs); err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		e.Keycode = keycode.Keycode(kc)
		e.Key = keycode.Pos{Row: row, Col: col}
		e.Outcome = chord.Outcome(outcome)
		e.Reason = chord.Reason(reason)
		e.Other = keycode.Keycode(other)
		e.Pressed = time.Unix(0, pressedNs)
		e.Settled = time.Unix(0, settledNs)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes settlements before the given time and returns how many
// were removed.
func (j *Journal) Prune(before time.Time) (int64, error) {
	res, err := j.db.Exec("DELETE FROM settlements WHERE settled_ns < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune settlements: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the writer after flushing the queue, ends the current run
// and closes the database.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() {
		close(j.done)
		j.wg.Wait()

		if id := j.runID.Load(); id != 0 {
			if _, err := j.db.Exec("UPDATE runs SET stopped_ns = ? WHERE id = ?", time.Now().UnixNano(), id); err != nil {
				j.log.Warn("end journal run", "error", err)
			}
		}
		j.closeErr = j.db.Close()
	})
	return j.closeErr
}
