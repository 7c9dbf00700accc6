package metrics

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"saltmesh/internal/model"
)

var header = []string{
	"timestamp",
	"source",
	"trigger",
	"value",
	"destinations",
	"send_failures",
	"peers_known",
}

// WriteCSV writes samples to CSV with a fixed column order.
func WriteCSV(w io.Writer, items []model.Sample) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(header); err != nil {
		return err
	}
	for _, s := range items {
		if err := writer.Write(record(s)); err != nil {
			return err
		}
	}
	return writer.Error()
}

// AppendCSV appends samples to a CSV file, writing the header when the file
// is new or empty.
func AppendCSV(path string, items []model.Sample) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	writer := csv.NewWriter(f)
	defer writer.Flush()

	if info.Size() == 0 {
		if err := writer.Write(header); err != nil {
			return err
		}
	}
	for _, s := range items {
		if err := writer.Write(record(s)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func record(s model.Sample) []string {
	return []string{
		s.Timestamp.UTC().Format(time.RFC3339Nano),
		strconv.FormatUint(uint64(s.Source), 10),
		s.Trigger,
		strconv.FormatFloat(s.Value, 'f', 6, 64),
		strconv.Itoa(s.Destinations),
		strconv.Itoa(s.SendFailures),
		strconv.Itoa(s.PeersKnown),
	}
}
