package persist

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/icpmesh/meshwatch/internal/mesh"
	"github.com/icpmesh/meshwatch/internal/metrics"
	"github.com/icpmesh/meshwatch/pkg/log"
)

// csvHeader is the fixed history schema. Appending a column means a new
// header version; existing files keep the layout they were created with.
var csvHeader = []string{
	"iso_time", "epoch", "node_id", "long_name", "short_name",
	"message_type", "snr", "hop",
	"temperature", "humidity", "pressure", "voltage", "current",
	"battery_level", "channel_utilization", "air_util_tx", "uptime",
	"ch3_voltage", "ch3_current", "motion_detected",
}

// CSVLog appends telemetry history rows, one file per node per day.
// Files are opened per row; the daily boundary falls out of the path.
type CSVLog struct {
	dir string
}

// NewCSVLog creates a history log rooted at dir.
func NewCSVLog(dir string) *CSVLog {
	return &CSVLog{dir: dir}
}

// Dir returns the log root.
func (l *CSVLog) Dir() string { return l.dir }

// Row is one history entry.
type Row struct {
	Node        mesh.NodeState
	MessageType string
	SNR         float64
	Hops        int
	Motion      bool
	At          time.Time
}

// Append writes one row, creating the file with a header as needed. A
// failure affects only this row; the writer stays usable.
func (l *CSVLog) Append(r Row) error {
	path := l.rowPath(r.Node.ID, r.At)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("failed to write log header: %w", err)
		}
	}
	if err := w.Write(l.record(r)); err != nil {
		return fmt.Errorf("failed to write log row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush log row: %w", err)
	}

	metrics.LogRowsWritten.Inc()
	return nil
}

// AppendQuiet logs-and-continues on failure, for callers on the hot path.
func (l *CSVLog) AppendQuiet(r Row) {
	if err := l.Append(r); err != nil {
		log.Warn("History row dropped", "node", r.Node.ID, "err", err.Error())
	}
}

// rowPath is logs/<id-without-bang>/<year>/<yyyymmdd>.csv.
func (l *CSVLog) rowPath(nodeID string, at time.Time) string {
	id := strings.TrimPrefix(nodeID, "!")
	return filepath.Join(l.dir, id, at.Format("2006"), at.Format("20060102")+".csv")
}

func (l *CSVLog) record(r Row) []string {
	num := func(f mesh.Field) string {
		v, ok := r.Node.Reading(f)
		if !ok {
			return ""
		}
		return strconv.FormatFloat(v.Value, 'f', -1, 64)
	}

	snr := ""
	if r.SNR != 0 {
		snr = strconv.FormatFloat(r.SNR, 'f', -1, 64)
	}
	motion := ""
	if r.Motion {
		motion = "1"
	}

	return []string{
		r.At.UTC().Format(time.RFC3339),
		strconv.FormatInt(r.At.Unix(), 10),
		r.Node.ID,
		r.Node.LongName,
		r.Node.ShortName,
		r.MessageType,
		snr,
		strconv.Itoa(r.Hops),
		num(mesh.FieldTemperature),
		num(mesh.FieldHumidity),
		num(mesh.FieldPressure),
		num(mesh.FieldVoltage),
		num(mesh.FieldCurrent),
		num(mesh.FieldBatteryLevel),
		num(mesh.FieldChannelUtilization),
		num(mesh.FieldAirUtilTX),
		num(mesh.FieldUptime),
		num(mesh.FieldVoltageExternal),
		num(mesh.FieldCurrentExternal),
		motion,
	}
}
