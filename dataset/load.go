package dataset

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"github.com/ulikunitz/xz"

	"github.com/imdad19/treetune/pkg/errors"
)

// Supported input formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Options controls how a tabular file becomes a Dataset.
type Options struct {
	// Label names the binary label column.
	Label string
	// Positive names the positive class; empty picks the larger label.
	Positive string
	// Format is FormatCSV or FormatJSON. Empty infers it from the file
	// extension, ignoring a trailing ".xz".
	Format string
	// Categorical forces columns to be categorical even when every value
	// is numeric, e.g. 0/1 policy flags.
	Categorical []string
}

// LoadStats reports what a loader kept and skipped.
type LoadStats struct {
	Rows    int
	Skipped int
}

// Load reads the dataset stored at path. Files ending in ".xz" are
// decompressed on the fly.
func Load(path string, opts Options) (*Dataset, LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, LoadStats{}, errors.Wrapf(err, "open dataset %s", path)
	}
	defer f.Close()

	var r io.Reader = f
	name := path
	if strings.HasSuffix(name, ".xz") {
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, LoadStats{}, errors.Wrapf(err, "open xz stream %s", path)
		}
		r = xr
		name = strings.TrimSuffix(name, ".xz")
	}

	format := opts.Format
	if format == "" {
		switch strings.ToLower(filepath.Ext(name)) {
		case ".json", ".jsonl", ".ndjson":
			format = FormatJSON
		default:
			format = FormatCSV
		}
	}

	switch format {
	case FormatCSV:
		return ReadCSV(r, opts)
	case FormatJSON:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, LoadStats{}, errors.Wrapf(err, "read dataset %s", path)
		}
		return ReadJSON(data, opts)
	default:
		return nil, LoadStats{}, errors.NewValidationError("format", "unsupported dataset format", format)
	}
}

type cell struct {
	raw     string
	num     float64
	numeric bool
}

type rawTable struct {
	header []string
	rows   [][]cell
	labels []string
}

// ReadCSV reads a header row followed by records. Rows containing an empty
// cell are skipped.
func ReadCSV(r io.Reader, opts Options) (*Dataset, LoadStats, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, LoadStats{}, errors.Wrap(err, "read csv header")
	}
	labelCol := -1
	for i, h := range header {
		if h == opts.Label {
			labelCol = i
		}
	}
	if labelCol < 0 {
		return nil, LoadStats{}, errors.NewValidationError("label", "column not found in header", opts.Label)
	}

	table := rawTable{}
	for i, h := range header {
		if i != labelCol {
			table.header = append(table.header, h)
		}
	}

	var stats LoadStats
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, errors.Wrap(err, "read csv record")
		}

		hasEmpty := false
		for _, val := range record {
			if strings.TrimSpace(val) == "" {
				hasEmpty = true
				break
			}
		}
		if hasEmpty {
			stats.Skipped++
			continue
		}

		row := make([]cell, 0, len(record)-1)
		for j, val := range record {
			if j == labelCol {
				table.labels = append(table.labels, val)
				continue
			}
			c := cell{raw: val}
			if d, err := decimal.NewFromString(val); err == nil {
				c.num, _ = d.Float64()
				c.numeric = true
			}
			row = append(row, c)
		}
		table.rows = append(table.rows, row)
	}

	stats.Rows = len(table.rows)
	ds, err := table.build(opts)
	return ds, stats, err
}

// ReadJSON reads either a JSON array of objects or newline-delimited objects.
// Numbers and booleans are numeric, strings are categorical. Objects with a
// null or missing field are skipped.
func ReadJSON(data []byte, opts Options) (*Dataset, LoadStats, error) {
	var objects []gjson.Result
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		gjson.ParseBytes(trimmed).ForEach(func(_, value gjson.Result) bool {
			objects = append(objects, value)
			return true
		})
	} else {
		gjson.ForEachLine(string(trimmed), func(line gjson.Result) bool {
			objects = append(objects, line)
			return true
		})
	}
	if len(objects) == 0 {
		return nil, LoadStats{}, errors.Wrap(errors.ErrEmptyData, "read json")
	}

	table := rawTable{}
	hasLabel := false
	objects[0].ForEach(func(key, _ gjson.Result) bool {
		if key.String() == opts.Label {
			hasLabel = true
		} else {
			table.header = append(table.header, key.String())
		}
		return true
	})
	if !hasLabel {
		return nil, LoadStats{}, errors.NewValidationError("label", "field not found in first object", opts.Label)
	}

	var stats LoadStats
	for _, obj := range objects {
		label := obj.Get(gjson.Escape(opts.Label))
		if !label.Exists() || label.Type == gjson.Null {
			stats.Skipped++
			continue
		}

		row := make([]cell, 0, len(table.header))
		complete := true
		for _, name := range table.header {
			v := obj.Get(gjson.Escape(name))
			switch v.Type {
			case gjson.Number:
				row = append(row, cell{raw: v.Raw, num: v.Float(), numeric: true})
			case gjson.True:
				row = append(row, cell{raw: "1", num: 1, numeric: true})
			case gjson.False:
				row = append(row, cell{raw: "0", num: 0, numeric: true})
			case gjson.String:
				row = append(row, cell{raw: v.String()})
			default:
				complete = false
			}
			if !complete {
				break
			}
		}
		if !complete {
			stats.Skipped++
			continue
		}
		table.rows = append(table.rows, row)
		table.labels = append(table.labels, label.String())
	}

	stats.Rows = len(table.rows)
	ds, err := table.build(opts)
	return ds, stats, err
}

// build infers column kinds: a column is numeric when every value parsed as
// a number and it is not forced categorical.
func (t rawTable) build(opts Options) (*Dataset, error) {
	if len(t.rows) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "build dataset")
	}

	forced := make(map[string]bool, len(opts.Categorical))
	for _, c := range opts.Categorical {
		forced[c] = true
	}

	schema := Schema{Label: opts.Label, Columns: make([]Column, len(t.header))}
	for j, name := range t.header {
		kind := KindNumeric
		if forced[name] {
			kind = KindCategorical
		} else {
			for _, row := range t.rows {
				if !row[j].numeric {
					kind = KindCategorical
					break
				}
			}
		}
		schema.Columns[j] = Column{Name: name, Kind: kind}
	}

	records := make([]Record, len(t.rows))
	for i, row := range t.rows {
		features := make(map[string]Value, len(row))
		for j, c := range row {
			if schema.Columns[j].Kind == KindNumeric {
				features[schema.Columns[j].Name] = Numeric(c.num)
			} else {
				features[schema.Columns[j].Name] = Categorical(c.raw)
			}
		}
		records[i] = Record{Features: features, Label: t.labels[i]}
	}

	return New(schema, records, opts.Positive)
}
