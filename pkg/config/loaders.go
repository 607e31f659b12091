package config

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/squirrel"
	"gopkg.in/ini.v1"
)

var (
	ErrFileNotFound      = errors.New("config: file not found")
	ErrUnsupportedFormat = errors.New("config: unsupported file format")
	ErrNilDB             = errors.New("config: db is nil")
)

// LoadFile picks a loader by extension (.json, .ini).
func (l *Layered) LoadFile(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return l.LoadJSON(path)
	case ".ini":
		return l.LoadINI(path)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

func (l *Layered) LoadJSON(path string) error {
	raw, err := readFile(path)
	if err != nil {
		return err
	}

	values := map[string]any{}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&values); err != nil {
		return fmt.Errorf("config: decode json %s: %w", path, err)
	}

	for key, value := range values {
		if number, ok := value.(json.Number); ok {
			values[key] = normalizeNumber(number)
		}
	}

	l.merge(layerFile, values)
	return nil
}

// LoadINI reads an INI file. Keys of the default section keep their name;
// keys inside [section] become "section.key".
func (l *Layered) LoadINI(path string) error {
	raw, err := readFile(path)
	if err != nil {
		return err
	}

	file, err := ini.Load(raw)
	if err != nil {
		return fmt.Errorf("config: parse ini %s: %w", path, err)
	}

	values := map[string]any{}
	for _, section := range file.Sections() {
		prefix := ""
		if section.Name() != ini.DefaultSection {
			prefix = section.Name() + "."
		}
		for _, key := range section.Keys() {
			values[prefix+key.Name()] = key.Value()
		}
	}

	l.merge(layerFile, values)
	return nil
}

// LoadDatabase overlays the rows of a (property, value) table.
func (l *Layered) LoadDatabase(ctx context.Context, db *sql.DB, table string) error {
	if db == nil {
		return ErrNilDB
	}

	rows, err := squirrel.Select("property", "value").
		From(table).
		OrderBy("property").
		RunWith(db).
		QueryContext(ctx)
	if err != nil {
		return fmt.Errorf("config: query %s: %w", table, err)
	}
	defer rows.Close()

	values := map[string]any{}
	for rows.Next() {
		var property, value string
		if err := rows.Scan(&property, &value); err != nil {
			return fmt.Errorf("config: scan %s: %w", table, err)
		}
		values[property] = value
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("config: read %s: %w", table, err)
	}

	l.merge(layerDatabase, values)
	return nil
}

func readFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return raw, nil
}

func normalizeNumber(number json.Number) any {
	if i, err := number.Int64(); err == nil {
		return int(i)
	}
	if f, err := number.Float64(); err == nil {
		return f
	}
	return number.String()
}
