package ingest

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Value is a single column value decoded from an INSERT tuple. Null reports
// SQL NULL; Str holds the unescaped text otherwise.
type Value struct {
	Str  string
	Null bool
}

type dumpFile struct {
	f  *os.File
	gz *gzip.Reader
	r  *bufio.Reader
}

func openDump(path string) (*dumpFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open gzip stream %s: %w", path, err)
	}
	return &dumpFile{f: f, gz: gz, r: bufio.NewReaderSize(gz, 1<<20)}, nil
}

func (d *dumpFile) Close() error {
	gzErr := d.gz.Close()
	if err := d.f.Close(); err != nil {
		return err
	}
	return gzErr
}

// readTableColumns returns the column names of `table` in CREATE TABLE
// order. Key and constraint lines inside the block do not start with a
// backtick and are skipped.
func readTableColumns(path, table string) ([]string, error) {
	d, err := openDump(path)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	needle := "`" + table + "`"
	inTable := false
	var columns []string
	for {
		line, readErr := d.r.ReadString('\n')
		if line != "" {
			if !inTable {
				if strings.HasPrefix(line, "CREATE TABLE") && strings.Contains(line, needle) {
					inTable = true
				}
			} else {
				stripped := strings.TrimLeft(line, " \t")
				if strings.HasPrefix(stripped, ")") {
					break
				}
				if strings.HasPrefix(stripped, "`") {
					if end := strings.Index(stripped[1:], "`"); end >= 0 {
						columns = append(columns, stripped[1:1+end])
					}
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, readErr
		}
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("no CREATE TABLE columns for `%s` in %s", table, path)
	}
	return columns, nil
}

// scanInsertRows streams every tuple of every INSERT statement for `table`,
// calling fn once per row. Statements may span multiple lines; mysqldump
// terminates each with a semicolon.
func scanInsertRows(path, table string, fn func(row []Value) error) error {
	d, err := openDump(path)
	if err != nil {
		return err
	}
	defer d.Close()

	prefix := "INSERT INTO `" + table + "` VALUES "
	for {
		line, readErr := d.r.ReadString('\n')
		if strings.HasPrefix(line, prefix) {
			var stmt strings.Builder
			stmt.WriteString(line)
			for !strings.HasSuffix(strings.TrimRight(line, " \t\r\n"), ";") {
				line, err = d.r.ReadString('\n')
				stmt.WriteString(line)
				if err == io.EOF {
					break
				}
				if err != nil {
					return err
				}
			}
			sql := stmt.String()
			values := sql[strings.Index(sql, "VALUES")+len("VALUES"):]
			if err := parseValuesList(strings.TrimLeft(values, " \t"), fn); err != nil {
				return fmt.Errorf("parse INSERT for `%s` in %s: %w", table, path, err)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// parseValuesList walks a "(v, v, ...), (v, ...);" tuple list.
func parseValuesList(s string, fn func(row []Value) error) error {
	i, n := 0, len(s)
	for i < n {
		for i < n && isTupleSep(s[i]) {
			i++
		}
		if i >= n || s[i] == ';' {
			return nil
		}
		if s[i] != '(' {
			return fmt.Errorf("expected '(' at offset %d", i)
		}
		i++

		var row []Value
		for {
			for i < n && isSpace(s[i]) {
				i++
			}
			v, next, err := parseValue(s, i)
			if err != nil {
				return err
			}
			row = append(row, v)
			i = next

			for i < n && isSpace(s[i]) {
				i++
			}
			if i >= n {
				return fmt.Errorf("unexpected end of input inside tuple")
			}
			if s[i] == ',' {
				i++
				continue
			}
			if s[i] == ')' {
				i++
				break
			}
			return fmt.Errorf("unexpected %q inside tuple at offset %d", s[i], i)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func parseValue(s string, i int) (Value, int, error) {
	if i >= len(s) {
		return Value{}, i, fmt.Errorf("unexpected end of input, wanted a value")
	}
	if s[i] == '\'' {
		str, next, err := parseQuotedString(s, i+1)
		return Value{Str: str}, next, err
	}
	start := i
	for i < len(s) && s[i] != ',' && s[i] != ')' {
		i++
	}
	token := strings.TrimSpace(s[start:i])
	if strings.EqualFold(token, "NULL") {
		return Value{Null: true}, i, nil
	}
	return Value{Str: token}, i, nil
}

// parseQuotedString consumes a MySQL single-quoted string starting just
// after the opening quote. Backslash escapes and doubled quotes ('') are
// both in use in Wikimedia dumps.
func parseQuotedString(s string, i int) (string, int, error) {
	var b strings.Builder
	for i < len(s) {
		c := s[i]
		if c == '\\' {
			if i+1 >= len(s) {
				b.WriteByte('\\')
				return b.String(), i + 1, nil
			}
			b.WriteByte(unescapeMySQLChar(s[i+1]))
			i += 2
			continue
		}
		if c == '\'' {
			if i+1 < len(s) && s[i+1] == '\'' {
				b.WriteByte('\'')
				i += 2
				continue
			}
			return b.String(), i + 1, nil
		}
		b.WriteByte(c)
		i++
	}
	return "", i, fmt.Errorf("unterminated quoted string")
}

func unescapeMySQLChar(c byte) byte {
	switch c {
	case '0':
		return 0x00
	case 'b':
		return '\b'
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'Z':
		return 0x1a
	default:
		return c
	}
}

func isTupleSep(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == ','
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// columnIndex maps every column name to its tuple position and verifies the
// required ones are present.
func columnIndex(columns []string, required ...string) (map[string]int, error) {
	idx := make(map[string]int, len(columns))
	for i, name := range columns {
		idx[name] = i
	}
	var missing []string
	for _, name := range required {
		if _, ok := idx[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns %v (found %v)", missing, columns)
	}
	return idx, nil
}

func stringField(row []Value, i int) string {
	if i >= len(row) || row[i].Null {
		return ""
	}
	return row[i].Str
}

func intField(row []Value, i int) (int64, error) {
	s := stringField(row, i)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("numeric column %d: %w", i, err)
	}
	return n, nil
}
