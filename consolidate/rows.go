package consolidate

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Header is the column layout of a dataset.
var Header = []string{"day", "dai_name", "dai_num", "game", "difference", "bb", "rb", "Total", "big_per", "reg_per"}

const bom = "\ufeff"

// Row is one machine on one day.
type Row struct {
	Day        string
	Name       string
	Number     int
	Games      int
	Difference int
	BB         int
	RB         int
	Total      float64
	BigPer     float64
	RegPer     float64
}

type rowKey struct {
	day, name string
	number    int
}

func (r Row) key() rowKey { return rowKey{r.Day, r.Name, r.Number} }

// NewRow builds a row from raw cell texts and derives the ratios.
func NewRow(day string, cells []string) Row {
	r := Row{
		Day:        day,
		Name:       cells[0],
		Number:     atoi(cells[1]),
		Games:      atoi(cells[2]),
		Difference: atoi(strings.ReplaceAll(cells[3], "+", "")),
		BB:         atoi(cells[4]),
		RB:         atoi(cells[5]),
	}
	r.Total = ratio(r.Games, r.BB+r.RB)
	r.BigPer = ratio(r.Games, r.BB)
	r.RegPer = ratio(r.Games, r.RB)
	return r
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
	if err != nil {
		return 0
	}
	return n
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(d)*10) / 10
}

// ParseDocument reads the rows of a saved table document. Rows after the
// header with fewer than six cells are skipped.
func ParseDocument(r io.Reader, day, tableID string) ([]Row, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)
	table := doc.Find("table#" + tableID).First()
	if table.Length() == 0 {
		return nil, nil
	}

	var rows []Row
	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		if i == 0 {
			return
		}
		tds := tr.Find("td")
		if tds.Length() < 6 {
			return
		}
		cells := make([]string, 0, 6)
		tds.Slice(0, 6).Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(td.Text()))
		})
		rows = append(rows, NewRow(day, cells))
	})
	return rows, nil
}

// ReadCSV loads an existing dataset. A missing file or one without a day
// column yields no rows.
func ReadCSV(path string) ([]Row, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consolidate: read %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, []byte(bom))

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("consolidate: parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	col := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		col[strings.TrimSpace(h)] = i
	}
	if _, ok := col["day"]; !ok {
		return nil, nil
	}
	get := func(rec []string, name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return rec[i]
		}
		return ""
	}
	num := func(rec []string, name string) float64 {
		f, _ := strconv.ParseFloat(get(rec, name), 64)
		return f
	}

	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		day := get(rec, "day")
		if len(day) < 10 {
			continue
		}
		rows = append(rows, Row{
			Day:        day[:10],
			Name:       get(rec, "dai_name"),
			Number:     atoi(get(rec, "dai_num")),
			Games:      atoi(get(rec, "game")),
			Difference: atoi(get(rec, "difference")),
			BB:         atoi(get(rec, "bb")),
			RB:         atoi(get(rec, "rb")),
			Total:      num(rec, "Total"),
			BigPer:     num(rec, "big_per"),
			RegPer:     num(rec, "reg_per"),
		})
	}
	return rows, nil
}

// WriteCSV writes rows with a UTF-8 BOM so spreadsheet tools detect the
// encoding. The file is replaced atomically.
func WriteCSV(path string, rows []Row) error {
	var buf bytes.Buffer
	buf.WriteString(bom)
	w := csv.NewWriter(&buf)
	w.Write(Header)
	for _, r := range rows {
		w.Write([]string{
			r.Day,
			r.Name,
			strconv.Itoa(r.Number),
			strconv.Itoa(r.Games),
			strconv.Itoa(r.Difference),
			strconv.Itoa(r.BB),
			strconv.Itoa(r.RB),
			formatRatio(r.Total),
			formatRatio(r.BigPer),
			formatRatio(r.RegPer),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("consolidate: encode csv: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".slotdata-*")
	if err != nil {
		return fmt.Errorf("consolidate: temp file: %w", err)
	}
	tmp.Chmod(0o644)
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("consolidate: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("consolidate: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("consolidate: rename: %w", err)
	}
	return nil
}

func formatRatio(f float64) string {
	return strconv.FormatFloat(f, 'f', 1, 64)
}
