package database

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"zesty-backup/internal/errors"
	"zesty-backup/internal/logging"
)

// insertBatchRows is the number of rows per INSERT statement
const insertBatchRows = 100

// NativeMySQLDumper dumps MySQL and MariaDB databases over database/sql without
// needing mysqldump on the host
type NativeMySQLDumper struct {
	connectionTimeout time.Duration
	logger            *logging.Logger
	retryHandler      *errors.RetryHandler
	open              func(dsn string) (*sql.DB, error)
	now               func() time.Time
}

// NewNativeMySQLDumper creates a native dumper with default settings
func NewNativeMySQLDumper(logger *logging.Logger) *NativeMySQLDumper {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &NativeMySQLDumper{
		connectionTimeout: 30 * time.Second,
		logger:            logger,
		retryHandler:      errors.NewDefaultRetryHandler(),
		open: func(dsn string) (*sql.DB, error) {
			return sql.Open("mysql", dsn)
		},
		now: time.Now,
	}
}

// NewNativeMySQLDumperWithOptions creates a native dumper with custom retry settings
func NewNativeMySQLDumperWithOptions(logger *logging.Logger, timeout time.Duration, retry errors.RetryConfig) *NativeMySQLDumper {
	s := NewNativeMySQLDumper(logger)
	if timeout > 0 {
		s.connectionTimeout = timeout
	}
	s.retryHandler = errors.NewRetryHandler(retry)
	return s
}

// Connect opens and pings the database, retrying transient failures
func (s *NativeMySQLDumper) Connect(ctx context.Context, desc Descriptor) (*sql.DB, error) {
	startTime := time.Now()

	s.logger.WithFields(map[string]interface{}{
		"host":     desc.Host,
		"database": desc.Name,
		"port":     desc.Port,
	}).Debug("Connecting to database")

	ctx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	defer cancel()

	var db *sql.DB
	err := s.retryHandler.Retry(ctx, func() error {
		var openErr error
		db, openErr = s.open(desc.DSN())
		if openErr != nil {
			return errors.WrapError(openErr, "failed to open database connection")
		}

		db.SetMaxOpenConns(2)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(5 * time.Minute)

		if pingErr := db.PingContext(ctx); pingErr != nil {
			db.Close()
			return pingErr
		}
		return nil
	})

	fields := map[string]interface{}{
		"host":        desc.Host,
		"database":    desc.Name,
		"duration_ms": time.Since(startTime).Milliseconds(),
	}
	if err != nil {
		s.logger.WithFields(fields).WithError(err).Error("Database connection failed")
		return nil, errors.WrapError(err, fmt.Sprintf("failed to connect to %s", desc.String()))
	}
	s.logger.WithFields(fields).Debug("Database connection established")
	return db, nil
}

// Dump writes schema and data of every table and view to path
func (s *NativeMySQLDumper) Dump(ctx context.Context, desc Descriptor, path string) (err error) {
	done := s.logger.LogOperationStart("database_dump", map[string]interface{}{
		"database": desc.String(),
		"method":   MethodNative,
	})
	defer func() { done(err) }()

	db, err := s.Connect(ctx, desc)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewArchiveBuildError("failed to create dump directory", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.NewArchiveBuildError("failed to create dump file", err)
	}

	w := bufio.NewWriter(f)
	err = s.DumpTo(ctx, db, desc.Name, w)
	if err == nil {
		err = w.Flush()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

type tableInfo struct {
	name string
	view bool
}

// DumpTo writes the dump of an open connection to w
func (s *NativeMySQLDumper) DumpTo(ctx context.Context, db *sql.DB, dbName string, w *bufio.Writer) error {
	if db == nil {
		return errors.NewAppError(errors.ErrorTypeConfig, "database connection is nil", nil)
	}

	tables, err := s.listTables(ctx, db)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "-- zesty-backup dump of %s\n", quoteIdent(dbName))
	fmt.Fprintf(w, "-- created %s\n\n", s.now().UTC().Format(time.RFC3339))
	w.WriteString("SET NAMES utf8mb4;\nSET FOREIGN_KEY_CHECKS=0;\n\n")

	for _, t := range tables {
		if t.view {
			continue
		}
		if err := s.dumpTable(ctx, db, t.name, w); err != nil {
			return err
		}
	}
	// views reference tables so they come last
	for _, t := range tables {
		if !t.view {
			continue
		}
		if err := s.dumpView(ctx, db, t.name, w); err != nil {
			return err
		}
	}

	w.WriteString("SET FOREIGN_KEY_CHECKS=1;\n")
	s.logger.WithFields(map[string]interface{}{
		"database": dbName,
		"tables":   len(tables),
	}).Debug("Native dump complete")
	return nil
}

func (s *NativeMySQLDumper) listTables(ctx context.Context, db *sql.DB) ([]tableInfo, error) {
	rows, err := db.QueryContext(ctx, "SHOW FULL TABLES")
	if err != nil {
		return nil, errors.WrapError(err, "failed to list tables")
	}
	defer rows.Close()

	var tables []tableInfo
	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			return nil, errors.WrapError(err, "failed to scan table list")
		}
		tables = append(tables, tableInfo{name: name, view: strings.EqualFold(kind, "VIEW")})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, "failed to list tables")
	}
	return tables, nil
}

func (s *NativeMySQLDumper) dumpTable(ctx context.Context, db *sql.DB, table string, w *bufio.Writer) error {
	var name, ddl string
	err := db.QueryRowContext(ctx, "SHOW CREATE TABLE "+quoteIdent(table)).Scan(&name, &ddl)
	if err != nil {
		return errors.WrapError(err, fmt.Sprintf("failed to read definition of table %s", table))
	}

	fmt.Fprintf(w, "--\n-- Table %s\n--\n\n", quoteIdent(table))
	fmt.Fprintf(w, "DROP TABLE IF EXISTS %s;\n%s;\n\n", quoteIdent(table), ddl)

	rows, err := db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(table))
	if err != nil {
		return errors.WrapError(err, fmt.Sprintf("failed to read rows of table %s", table))
	}
	defer rows.Close()

	columns, err := rows.ColumnTypes()
	if err != nil {
		return errors.WrapError(err, fmt.Sprintf("failed to read columns of table %s", table))
	}
	types := make([]string, len(columns))
	for i, c := range columns {
		types[i] = strings.ToUpper(c.DatabaseTypeName())
	}

	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	count := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return errors.WrapError(err, fmt.Sprintf("failed to scan row of table %s", table))
		}
		if count%insertBatchRows == 0 {
			if count > 0 {
				w.WriteString(";\n")
			}
			fmt.Fprintf(w, "INSERT INTO %s VALUES ", quoteIdent(table))
		} else {
			w.WriteString(",")
		}
		w.WriteString("(")
		for i, v := range values {
			if i > 0 {
				w.WriteString(",")
			}
			w.WriteString(sqlLiteral(v, types[i]))
		}
		w.WriteString(")")
		count++
	}
	if err := rows.Err(); err != nil {
		return errors.WrapError(err, fmt.Sprintf("failed to read rows of table %s", table))
	}
	if count > 0 {
		w.WriteString(";\n\n")
	}
	return nil
}

func (s *NativeMySQLDumper) dumpView(ctx context.Context, db *sql.DB, view string, w *bufio.Writer) error {
	var name, ddl, charset, collation string
	err := db.QueryRowContext(ctx, "SHOW CREATE VIEW "+quoteIdent(view)).Scan(&name, &ddl, &charset, &collation)
	if err != nil {
		return errors.WrapError(err, fmt.Sprintf("failed to read definition of view %s", view))
	}
	fmt.Fprintf(w, "--\n-- View %s\n--\n\n", quoteIdent(view))
	fmt.Fprintf(w, "DROP VIEW IF EXISTS %s;\n%s;\n\n", quoteIdent(view), ddl)
	return nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

var stringEscaper = strings.NewReplacer(
	"\\", "\\\\",
	"'", "\\'",
	"\"", "\\\"",
	"\x00", "\\0",
	"\n", "\\n",
	"\r", "\\r",
	"\x1a", "\\Z",
)

func isNumericType(dbType string) bool {
	switch dbType {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT",
		"UNSIGNED TINYINT", "UNSIGNED SMALLINT", "UNSIGNED MEDIUMINT", "UNSIGNED INT", "UNSIGNED BIGINT",
		"DECIMAL", "FLOAT", "DOUBLE", "YEAR":
		return true
	}
	return false
}

func isBinaryType(dbType string) bool {
	switch dbType {
	case "BINARY", "VARBINARY", "TINYBLOB", "BLOB", "MEDIUMBLOB", "LONGBLOB", "BIT", "GEOMETRY":
		return true
	}
	return false
}

// sqlLiteral renders a scanned value for an INSERT statement
func sqlLiteral(v interface{}, dbType string) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		if val {
			return "1"
		}
		return "0"
	case time.Time:
		return "'" + val.Format("2006-01-02 15:04:05.999999") + "'"
	case []byte:
		switch {
		case isBinaryType(dbType):
			if len(val) == 0 {
				return "''"
			}
			return "0x" + hex.EncodeToString(val)
		case isNumericType(dbType):
			return string(val)
		default:
			return "'" + stringEscaper.Replace(string(val)) + "'"
		}
	case string:
		if isNumericType(dbType) {
			return val
		}
		return "'" + stringEscaper.Replace(val) + "'"
	default:
		return "'" + stringEscaper.Replace(fmt.Sprint(val)) + "'"
	}
}
