package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devm-project/devm-go/pkg/log"
	"github.com/devm-project/devm-go/pkg/wire"
)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.dlog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()
	return path
}

func sampleEvents() []log.Event {
	ts := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	ok := wire.StatusSuccess
	busy := wire.StatusRadioBusy
	elapsed := 250 * time.Microsecond
	return []log.Event{
		{
			Timestamp:    ts,
			ConnectionID: "abc12345-6789-0123-4567-890abcdef012",
			Direction:    log.DirectionIn,
			Layer:        log.LayerWire,
			Category:     log.CategoryMessage,
			Message: &log.MessageEvent{
				Type:          log.MessageTypeRequest,
				TransactionID: 7,
				Function:      wire.FuncStartDeviceDiscovery,
			},
		},
		{
			Timestamp:    ts.Add(time.Millisecond),
			ConnectionID: "abc12345-6789-0123-4567-890abcdef012",
			Direction:    log.DirectionOut,
			Layer:        log.LayerWire,
			Category:     log.CategoryMessage,
			Message: &log.MessageEvent{
				Type:           log.MessageTypeResponse,
				TransactionID:  7,
				Function:       wire.FuncStartDeviceDiscovery,
				Status:         &busy,
				ProcessingTime: &elapsed,
			},
		},
		{
			Timestamp:     ts.Add(2 * time.Millisecond),
			Direction:     log.DirectionOut,
			Layer:         log.LayerManager,
			Category:      log.CategoryState,
			DeviceAddress: "00:1B:DC:06:5E:21",
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityPairing,
				OldState: "idle",
				NewState: "pairing",
			},
		},
		{
			Timestamp:    ts.Add(3 * time.Millisecond),
			ConnectionID: "ffff0000-1111-2222-3333-444455556666",
			Direction:    log.DirectionOut,
			Layer:        log.LayerWire,
			Category:     log.CategoryMessage,
			Message: &log.MessageEvent{
				Type:     log.MessageTypeResponse,
				Function: wire.FuncPowerOn,
				Status:   &ok,
			},
		},
		{
			Timestamp: ts.Add(4 * time.Millisecond),
			Layer:     log.LayerTransport,
			Category:  log.CategoryError,
			Error:     &log.ErrorEventData{Layer: log.LayerTransport, Message: "message too large"},
		},
	}
}

func TestFormatMessageEvent(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sampleEvents()[1])
	output := buf.String()

	for _, want := range []string{
		"2026-03-02T09:30:00.001000Z",
		"[conn:abc12345]",
		"OUT WIRE RESPONSE",
		"Transaction: 7",
		"Status: " + wire.StatusRadioBusy.String(),
		"Duration: 250.000us",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestFormatStateChange(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sampleEvents()[2])
	output := buf.String()

	if !strings.Contains(output, "Device: 00:1B:DC:06:5E:21") {
		t.Errorf("expected device address, got: %s", output)
	}
	if !strings.Contains(output, "idle -> pairing") {
		t.Errorf("expected transition, got: %s", output)
	}
}

func TestRunViewFiltersByLayer(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	filter, err := FilterOptions{Layer: "manager"}.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	var buf bytes.Buffer
	if err := RunView(path, filter, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	output := buf.String()
	if strings.Contains(output, "WIRE") {
		t.Errorf("wire events should be filtered out, got: %s", output)
	}
	if !strings.Contains(output, "MANAGER") {
		t.Errorf("expected manager event, got: %s", output)
	}
}

func TestFilterOptionsBuild(t *testing.T) {
	tests := []struct {
		name    string
		opts    FilterOptions
		wantErr bool
	}{
		{name: "empty", opts: FilterOptions{}},
		{name: "hex function", opts: FilterOptions{Function: "0x1020"}},
		{name: "device", opts: FilterOptions{Device: "00:1b:dc:06:5e:21"}},
		{name: "bad device", opts: FilterOptions{Device: "nope"}, wantErr: true},
		{name: "bad function", opts: FilterOptions{Function: "discover"}, wantErr: true},
		{name: "bad layer", opts: FilterOptions{Layer: "service"}, wantErr: true},
		{name: "bad direction", opts: FilterOptions{Direction: "up"}, wantErr: true},
		{name: "bad category", opts: FilterOptions{Category: "control"}, wantErr: true},
		{name: "bad time", opts: FilterOptions{TimeStart: "yesterday"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.opts.Build()
			if (err != nil) != tt.wantErr {
				t.Errorf("Build() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunFilterByConnection(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "filtered.dlog")

	n, err := RunFilter(path, FilterOptions{Output: out, ConnID: "abc12345-6789-0123-4567-890abcdef012"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 events, got %d", n)
	}

	reader, err := log.NewReader(out)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()
	count := 0
	if err := each(reader, func(log.Event) error { count++; return nil }); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 events in output, got %d", count)
	}
}

func TestRunExportCSV(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.csv")

	if err := RunExport(path, "csv", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected header and 5 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "timestamp,connection_id") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[2], wire.FuncStartDeviceDiscovery.String()) {
		t.Errorf("expected function name in row, got: %s", lines[2])
	}
}

func TestRunExportJSONL(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, "jsonl", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d", len(lines))
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if first["ConnectionID"] != "abc12345-6789-0123-4567-890abcdef012" {
		t.Errorf("unexpected connection id: %v", first["ConnectionID"])
	}
}

func TestRunExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	if err := RunExport(path, "xml", ""); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestRunStats(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"Capture Sessions: 1",
		"protocol 1.0",
		"Total Events: 5",
		"WIRE:",
		"MANAGER:",
		"TRANSPORT:",
		"Failed Responses: 1",
		"Remote Devices: 1",
		"Connections: 2",
		"[abc12345] 2 events, 1 requests",
		"Errors: 1",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got:\n%s", want, output)
		}
	}
}
