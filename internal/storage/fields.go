package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/san-kum/rdspiral/internal/checkpoint"
	"github.com/san-kum/rdspiral/internal/dynamo"
)

// FieldDB stores field snapshots and checkpoints of one run in SQLite.
type FieldDB struct {
	conn *sqlx.DB
}

func OpenFieldDB(path string) (*FieldDB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open field db: %w", err)
	}
	db := &FieldDB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *FieldDB) Close() error {
	return db.conn.Close()
}

func (db *FieldDB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		time REAL PRIMARY KEY,
		n INTEGER NOT NULL,
		u BLOB NOT NULL,
		v BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		idx INTEGER PRIMARY KEY,
		mark REAL NOT NULL,
		time REAL NOT NULL,
		h REAL NOT NULL,
		accepted INTEGER NOT NULL,
		rejected INTEGER NOT NULL,
		evaluations INTEGER NOT NULL,
		n INTEGER NOT NULL,
		u BLOB NOT NULL,
		v BLOB NOT NULL
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

func encodeField(f dynamo.Field) []byte {
	buf := make([]byte, 8*len(f))
	for i, v := range f {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

func decodeField(b []byte) (dynamo.Field, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("field blob of %d bytes is not a float64 array", len(b))
	}
	f := make(dynamo.Field, len(b)/8)
	for i := range f {
		f[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return f, nil
}

func sideOf(p dynamo.FieldPair) int {
	return int(math.Round(math.Sqrt(float64(len(p.U)))))
}

func (db *FieldDB) SaveSnapshot(t float64, p dynamo.FieldPair) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO snapshots (time, n, u, v) VALUES (?, ?, ?, ?)",
		t, sideOf(p), encodeField(p.U), encodeField(p.V),
	)
	return err
}

type snapshotRow struct {
	Time float64 `db:"time"`
	N    int     `db:"n"`
	U    []byte  `db:"u"`
	V    []byte  `db:"v"`
}

func (r snapshotRow) pair() (dynamo.FieldPair, error) {
	u, err := decodeField(r.U)
	if err != nil {
		return dynamo.FieldPair{}, err
	}
	v, err := decodeField(r.V)
	if err != nil {
		return dynamo.FieldPair{}, err
	}
	if len(u) != r.N*r.N || len(v) != r.N*r.N {
		return dynamo.FieldPair{}, dynamo.TransformError("stored snapshot", len(u)+len(v), 2*r.N*r.N)
	}
	return dynamo.FieldPair{U: u, V: v}, nil
}

// SnapshotTimes lists stored snapshot times in order.
func (db *FieldDB) SnapshotTimes() ([]float64, error) {
	var times []float64
	err := db.conn.Select(&times, "SELECT time FROM snapshots ORDER BY time")
	return times, err
}

// Snapshot returns the stored snapshot nearest to t.
func (db *FieldDB) Snapshot(t float64) (float64, dynamo.FieldPair, error) {
	var row snapshotRow
	err := db.conn.Get(&row, "SELECT time, n, u, v FROM snapshots ORDER BY ABS(time - ?) LIMIT 1", t)
	if err != nil {
		return 0, dynamo.FieldPair{}, err
	}
	p, err := row.pair()
	return row.Time, p, err
}

// SaveCheckpoint writes rec inside a transaction so a reader never sees a
// partial record.
func (db *FieldDB) SaveCheckpoint(rec checkpoint.Record) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT OR REPLACE INTO checkpoints
		(idx, mark, time, h, accepted, rejected, evaluations, n, u, v)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	if _, err := stmt.Exec(rec.Index, rec.Mark, rec.Time, rec.H,
		rec.Stats.Accepted, rec.Stats.Rejected, rec.Stats.Evaluations,
		sideOf(rec.Fields), encodeField(rec.Fields.U), encodeField(rec.Fields.V)); err != nil {
		return err
	}
	return tx.Commit()
}

type checkpointRow struct {
	Index       int     `db:"idx"`
	Mark        float64 `db:"mark"`
	Time        float64 `db:"time"`
	H           float64 `db:"h"`
	Accepted    int     `db:"accepted"`
	Rejected    int     `db:"rejected"`
	Evaluations int     `db:"evaluations"`
	N           int     `db:"n"`
	U           []byte  `db:"u"`
	V           []byte  `db:"v"`
}

func (r checkpointRow) record() (checkpoint.Record, error) {
	p, err := snapshotRow{Time: r.Time, N: r.N, U: r.U, V: r.V}.pair()
	if err != nil {
		return checkpoint.Record{}, err
	}
	return checkpoint.Record{
		Index: r.Index,
		Mark:  r.Mark,
		Time:  r.Time,
		H:     r.H,
		Stats: dynamo.StepStats{
			Accepted:    r.Accepted,
			Rejected:    r.Rejected,
			Evaluations: r.Evaluations,
		},
		Fields: p,
	}, nil
}

const checkpointColumns = "idx, mark, time, h, accepted, rejected, evaluations, n, u, v"

func (db *FieldDB) LatestCheckpoint() (checkpoint.Record, error) {
	var row checkpointRow
	if err := db.conn.Get(&row, "SELECT "+checkpointColumns+" FROM checkpoints ORDER BY time DESC LIMIT 1"); err != nil {
		return checkpoint.Record{}, err
	}
	return row.record()
}

func (db *FieldDB) Checkpoint(index int) (checkpoint.Record, error) {
	var row checkpointRow
	if err := db.conn.Get(&row, "SELECT "+checkpointColumns+" FROM checkpoints WHERE idx = ?", index); err != nil {
		return checkpoint.Record{}, err
	}
	return row.record()
}

// CheckpointMarks lists the stored (index, mark, time) triples.
func (db *FieldDB) CheckpointMarks() ([]checkpoint.Record, error) {
	var rows []struct {
		Index int     `db:"idx"`
		Mark  float64 `db:"mark"`
		Time  float64 `db:"time"`
	}
	if err := db.conn.Select(&rows, "SELECT idx, mark, time FROM checkpoints ORDER BY idx"); err != nil {
		return nil, err
	}
	out := make([]checkpoint.Record, len(rows))
	for i, r := range rows {
		out[i] = checkpoint.Record{Index: r.Index, Mark: r.Mark, Time: r.Time}
	}
	return out, nil
}
