package metrics

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"p2pscope/internal/report"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// WriteNodeCSV writes per-node summaries with a fixed column order.
func WriteNodeCSV(w io.Writer, nodes []report.NodeSummary) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{
		"node_id",
		"node_number",
		"connections",
		"received",
		"forwarded",
		"sent",
		"avg_latency_ms",
		"errors",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, n := range nodes {
		record := []string{
			n.NodeID,
			strconv.Itoa(n.Index),
			strconv.Itoa(n.Degree),
			strconv.Itoa(n.Received),
			strconv.Itoa(n.Forwarded),
			strconv.Itoa(n.Sent),
			formatFloat(n.MeanLatency),
			strconv.Itoa(n.Errors),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteMessageCSV writes per-message summaries with a fixed column order.
func WriteMessageCSV(w io.Writer, messages []report.MessageSummary) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{
		"message_id",
		"origin",
		"test_type",
		"max_hops",
		"highest_hop",
		"receivers_count",
		"forwarders_count",
		"avg_latency_ms",
		"size",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, m := range messages {
		record := []string{
			m.MessageID,
			m.Origin,
			m.TestType,
			strconv.Itoa(m.MaxHops),
			strconv.Itoa(m.HighestHop),
			strconv.Itoa(m.Receivers),
			strconv.Itoa(m.Forwarders),
			formatFloat(m.MeanLatency),
			strconv.FormatInt(m.Size, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteFile creates path and fills it using write.
func WriteFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
