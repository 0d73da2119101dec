package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Columns OHLCV 字段到 CSV 列名的映射。
type Columns struct {
	Open   string `yaml:"open"`
	High   string `yaml:"high"`
	Low    string `yaml:"low"`
	Close  string `yaml:"close"`
	Volume string `yaml:"volume"`
}

// CSVOptions CSV 解析选项。DateFormat 为 Go time layout。
type CSVOptions struct {
	TimestampColumn string
	DateFormat      string
	Columns         Columns
	Location        *time.Location
}

func DefaultCSVOptions() CSVOptions {
	return CSVOptions{
		TimestampColumn: "timestamp",
		DateFormat:      "2006-01-02 15:04:05",
		Columns: Columns{
			Open:   "open",
			High:   "high",
			Low:    "low",
			Close:  "close",
			Volume: "volume",
		},
	}
}

// 主格式解析失败时依次尝试
var fallbackLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006",
}

var ErrMissingColumn = errors.New("missing csv column")

func (o CSVOptions) withDefaults() CSVOptions {
	d := DefaultCSVOptions()
	if o.TimestampColumn == "" {
		o.TimestampColumn = d.TimestampColumn
	}
	if o.DateFormat == "" {
		o.DateFormat = d.DateFormat
	}
	if o.Columns.Open == "" {
		o.Columns.Open = d.Columns.Open
	}
	if o.Columns.High == "" {
		o.Columns.High = d.Columns.High
	}
	if o.Columns.Low == "" {
		o.Columns.Low = d.Columns.Low
	}
	if o.Columns.Close == "" {
		o.Columns.Close = d.Columns.Close
	}
	if o.Columns.Volume == "" {
		o.Columns.Volume = d.Columns.Volume
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// ParseTime 先按主格式解析，失败后尝试常见格式。
func (o CSVOptions) ParseTime(s string) (time.Time, error) {
	o = o.withDefaults()
	s = strings.TrimSpace(s)
	if ts, err := time.ParseInLocation(o.DateFormat, s, o.Location); err == nil {
		return ts, nil
	}
	for _, layout := range fallbackLayouts {
		if ts, err := time.ParseInLocation(layout, s, o.Location); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// ReadCSV 读取一张 OHLCV 表，返回按时间升序的 Series。Volume 列可缺省。
func ReadCSV(r io.Reader, opts CSVOptions) (Series, error) {
	opts = opts.withDefaults()
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	col := func(name string, required bool) (int, error) {
		i, ok := idx[name]
		if !ok {
			if required {
				return -1, fmt.Errorf("%w: %s", ErrMissingColumn, name)
			}
			return -1, nil
		}
		return i, nil
	}
	tsIdx, err := col(opts.TimestampColumn, true)
	if err != nil {
		return nil, err
	}
	var cols [4]int
	for i, name := range []string{opts.Columns.Open, opts.Columns.High, opts.Columns.Low, opts.Columns.Close} {
		if cols[i], err = col(name, true); err != nil {
			return nil, err
		}
	}
	volIdx, _ := col(opts.Columns.Volume, false)

	var out Series
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ts, err := opts.ParseTime(rec[tsIdx])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var vals [4]float64
		for i, c := range cols {
			if vals[i], err = strconv.ParseFloat(strings.TrimSpace(rec[c]), 64); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		bar := Bar{Timestamp: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3]}
		if volIdx >= 0 && strings.TrimSpace(rec[volIdx]) != "" {
			if bar.Volume, err = strconv.ParseFloat(strings.TrimSpace(rec[volIdx]), 64); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		out = append(out, bar)
	}
	out.Sort()
	return out, nil
}

// LoadCSVFile 读取单个文件。
func LoadCSVFile(path string, opts CSVOptions) (Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := ReadCSV(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// LoadDir 读取目录下的 <SYMBOL>.csv；symbols 为空时加载全部。
func LoadDir(dir string, symbols []string, opts CSVOptions) (map[string]Series, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	out := make(map[string]Series)
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		sym := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if len(want) > 0 && !want[sym] {
			continue
		}
		s, err := LoadCSVFile(filepath.Join(dir, e.Name()), opts)
		if err != nil {
			return nil, err
		}
		out[sym] = s
	}
	var missing []string
	for sym := range want {
		if _, ok := out[sym]; !ok {
			missing = append(missing, sym)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("no data file for symbols: %s", strings.Join(missing, ","))
	}
	return out, nil
}

// WriteCSV 以默认列名写出 Series。
func WriteCSV(w io.Writer, s Series, layout string) error {
	if layout == "" {
		layout = DefaultCSVOptions().DateFormat
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, b := range s {
		if err := cw.Write([]string{b.Timestamp.Format(layout), f(b.Open), f(b.High), f(b.Low), f(b.Close), f(b.Volume)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
