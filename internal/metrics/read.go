package metrics

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"saltmesh/internal/model"
)

// ReadCSV parses a sample CSV file. Rows that fail to parse are skipped.
func ReadCSV(path string) ([]model.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var items []model.Sample
	first := true
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if first {
			first = false
			if len(row) > 0 && row[0] == "timestamp" {
				continue
			}
		}
		if len(row) < 7 {
			continue
		}

		ts, err := time.Parse(time.RFC3339Nano, row[0])
		if err != nil {
			continue
		}
		source, err := strconv.ParseUint(row[1], 10, 16)
		if err != nil {
			continue
		}
		value, err := strconv.ParseFloat(row[3], 64)
		if err != nil {
			continue
		}
		dests, _ := strconv.Atoi(row[4])
		failures, _ := strconv.Atoi(row[5])
		peers, _ := strconv.Atoi(row[6])

		items = append(items, model.Sample{
			Timestamp:    ts,
			Source:       uint16(source),
			Trigger:      row[2],
			Value:        value,
			Destinations: dests,
			SendFailures: failures,
			PeersKnown:   peers,
		})
	}
	return items, nil
}
