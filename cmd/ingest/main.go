// cmd/ingest imports LTF candles from a CSV file into SQLite and stores the
// resampled HTF candles next to them.
//
// CSV columns: ts,open,high,low,close,volume with ts in Unix seconds or
// milliseconds. A header row is skipped.
//
// Usage:
//
//	go run ./cmd/ingest --csv=eth_15m.csv
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"emafutures/config"
	"emafutures/internal/marketdata/resample"
	"emafutures/internal/model"
	sqlitestore "emafutures/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	csvPath := flag.String("csv", "", "CSV file to import (required)")
	dbPath := flag.String("db", cfg.SQLitePath, "Path to SQLite database")
	symbol := flag.String("symbol", cfg.Symbol, "Instrument the candles belong to")
	flag.Parse()

	if *csvPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		log.Fatalf("[ingest] %v", err)
	}
	defer f.Close()

	ltf, err := readCSV(f)
	if err != nil {
		log.Fatalf("[ingest] %s: %v", *csvPath, err)
	}
	htf, err := resample.Resample(ltf, cfg.LTFSeconds, cfg.HTFSeconds)
	if err != nil {
		log.Fatalf("[ingest] %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0o755); err != nil {
		log.Fatalf("[ingest] data dir: %v", err)
	}
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
	if err != nil {
		log.Fatalf("[ingest] sqlite open failed: %v", err)
	}
	defer w.Close()

	w.OnCommit = func(n int, took time.Duration) {
		log.Printf("[ingest] committed %d candles in %s", n, took)
	}

	ctx := context.Background()
	if last, err := w.LastTimestamp(ctx, *symbol, cfg.LTFSeconds); err == nil && last > 0 {
		log.Printf("[ingest] %s already stored up to %s; overlapping rows are replaced",
			*symbol, time.UnixMilli(last).UTC().Format(time.RFC3339))
	}

	ch := make(chan model.Candle, 1024)
	go func() {
		defer close(ch)
		for _, c := range ltf {
			ch <- c
		}
	}()
	if n := w.Run(ctx, *symbol, cfg.LTFSeconds, ch); n != len(ltf) {
		log.Fatalf("[ingest] wrote %d of %d %ds candles", n, len(ltf), cfg.LTFSeconds)
	}
	if err := w.WriteCandles(ctx, *symbol, cfg.HTFSeconds, htf); err != nil {
		log.Fatalf("[ingest] write %ds: %v", cfg.HTFSeconds, err)
	}
	log.Printf("[ingest] %s: %d x %ds and %d x %ds candles written to %s",
		*symbol, len(ltf), cfg.LTFSeconds, len(htf), cfg.HTFSeconds, *dbPath)
}

// readCSV parses candle rows, sorted oldest first with duplicates removed.
func readCSV(r io.Reader) ([]model.Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []model.Candle
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 6 {
			return nil, fmt.Errorf("line %d: want 6 columns, got %d", line, len(rec))
		}
		c, err := parseRow(rec)
		if err != nil {
			if line == 1 {
				continue // header
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].TS < out[j].TS })
	dedup := out[:0]
	for i, c := range out {
		if i > 0 && c.TS == out[i-1].TS {
			dedup[len(dedup)-1] = c
			continue
		}
		dedup = append(dedup, c)
	}
	return dedup, nil
}

func parseRow(rec []string) (model.Candle, error) {
	var vals [6]float64
	for i := range vals {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil {
			return model.Candle{}, err
		}
		vals[i] = v
	}
	ts := int64(vals[0])
	if ts < 1e12 { // seconds
		ts *= 1000
	}
	return model.Candle{TS: ts, Open: vals[1], High: vals[2], Low: vals[3], Close: vals[4], Volume: vals[5]}, nil
}
