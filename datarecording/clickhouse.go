package datarecording

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/fatih/structs"
	"github.com/tebeka/atexit"
)

var clickhouseTypes = map[reflect.Kind]string{
	reflect.Bool:    "Bool",
	reflect.Int:     "Int64",
	reflect.Int8:    "Int8",
	reflect.Int16:   "Int16",
	reflect.Int32:   "Int32",
	reflect.Int64:   "Int64",
	reflect.Uint:    "UInt64",
	reflect.Uint8:   "UInt8",
	reflect.Uint16:  "UInt16",
	reflect.Uint32:  "UInt32",
	reflect.Uint64:  "UInt64",
	reflect.Float32: "Float32",
	reflect.Float64: "Float64",
	reflect.String:  "String",
}

// clickhouseWriter batches entries and sends each table as one bulk insert.
type clickhouseWriter struct {
	conn clickhouse.Conn

	mu         sync.Mutex
	tables     map[string]*table
	batchSize  int
	entryCount int
	closed     bool
}

// NewClickHouse connects to the ClickHouse server that dsn names and returns a
// recorder that writes to it. The recorder is flushed when the program exits
// through atexit.
func NewClickHouse(dsn string, batchSize int) (DataRecorder, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}

	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	w := &clickhouseWriter{
		conn:      conn,
		batchSize: batchSize,
		tables:    make(map[string]*table),
	}

	atexit.Register(func() { w.Flush() })

	return w, nil
}

// clickhouseSchema returns the statement that creates a MergeTree table whose
// columns are the fields of sampleEntry.
func clickhouseSchema(tableName string, sampleEntry any) (string, error) {
	if err := checkStructFields(sampleEntry); err != nil {
		return "", err
	}

	fields := structs.Fields(sampleEntry)
	columns := make([]string, 0, len(fields))

	for _, f := range fields {
		columns = append(columns,
			fmt.Sprintf("%s %s", f.Name(), clickhouseTypes[f.Kind()]))
	}

	return "CREATE TABLE IF NOT EXISTS " + tableName + " (\n\t" +
		strings.Join(columns, ",\n\t") +
		"\n) ENGINE = MergeTree() ORDER BY tuple()", nil
}

func (w *clickhouseWriter) CreateTable(tableName string, sampleEntry any) {
	createSQL, err := clickhouseSchema(tableName, sampleEntry)
	if err != nil {
		panic(err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	err = w.conn.Exec(context.Background(), createSQL)
	if err != nil {
		panic(fmt.Errorf("failed to create table %s: %w", tableName, err))
	}

	w.tables[tableName] = &table{structType: reflect.TypeOf(sampleEntry)}
}

func (w *clickhouseWriter) InsertData(tableName string, entry any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	table, exists := w.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	if reflect.TypeOf(entry) != table.structType {
		panic(fmt.Sprintf("entry of type %T does not fit table %s",
			entry, tableName))
	}

	table.entries = append(table.entries, entry)

	w.entryCount++
	if w.entryCount >= w.batchSize {
		w.flush()
	}
}

func (w *clickhouseWriter) ListTables() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	tables := make([]string, 0, len(w.tables))
	for name := range w.tables {
		tables = append(tables, name)
	}

	sort.Strings(tables)

	return tables
}

func (w *clickhouseWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.flush()
}

func (w *clickhouseWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.flush()
	w.closed = true

	if err := w.conn.Close(); err != nil {
		return fmt.Errorf("failed to close ClickHouse connection: %w", err)
	}

	return nil
}

func (w *clickhouseWriter) flush() {
	if w.entryCount == 0 || w.closed {
		return
	}

	ctx := context.Background()

	for tableName, table := range w.tables {
		if len(table.entries) == 0 {
			continue
		}

		batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+tableName)
		if err != nil {
			panic(fmt.Errorf("failed to prepare batch for %s: %w", tableName, err))
		}

		for _, entry := range table.entries {
			if err := batch.Append(structs.Values(entry)...); err != nil {
				panic(fmt.Errorf("failed to append to batch: %w", err))
			}
		}

		if err := batch.Send(); err != nil {
			panic(fmt.Errorf("failed to send batch: %w", err))
		}

		table.entries = table.entries[:0]
	}

	w.entryCount = 0
}
