package log

import (
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devm-project/devm-go/pkg/version"
	"github.com/devm-project/devm-go/pkg/wire"
)

type captureLogger struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureLogger) Log(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func writeCapture(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.dlog")
	fl, err := NewFileLogger(path)
	require.NoError(t, err)
	for _, e := range events {
		fl.Log(e)
	}
	require.NoError(t, fl.Close())
	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()
	var out []Event
	for {
		e, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, e)
	}
}

func TestEventCBORRoundTrip(t *testing.T) {
	status := wire.StatusRadioBusy
	elapsed := 3 * time.Millisecond
	in := Event{
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
		ConnectionID:  "c1",
		Direction:     DirectionOut,
		Layer:         LayerWire,
		Category:      CategoryMessage,
		LocalRole:     RoleServer,
		DeviceAddress: "00:11:22:33:44:55",
		Message: &MessageEvent{
			Type:           MessageTypeResponse,
			TransactionID:  17,
			Function:       wire.FuncStartAdvertising,
			Status:         &status,
			ProcessingTime: &elapsed,
		},
	}

	data, err := EncodeEvent(in)
	require.NoError(t, err)
	out, err := DecodeEvent(data)
	require.NoError(t, err)

	assert.True(t, in.Timestamp.Equal(out.Timestamp))
	assert.Equal(t, in.Message.Function, out.Message.Function)
	assert.Equal(t, wire.StatusRadioBusy, *out.Message.Status)
	assert.Equal(t, elapsed, *out.Message.ProcessingTime)
	assert.Equal(t, in.DeviceAddress, out.DeviceAddress)
}

func TestFileLoggerIgnoresLogAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.dlog")
	fl, err := NewFileLogger(path)
	require.NoError(t, err)
	require.NoError(t, fl.Close())
	require.NoError(t, fl.Close())

	fl.Log(Event{ConnectionID: "late"})

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Empty(t, readAll(t, r))
}

func TestFileLoggerStartsSessionPerOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.dlog")
	for run := 0; run < 2; run++ {
		fl, err := NewFileLogger(path)
		require.NoError(t, err)
		fl.Log(Event{ConnectionID: "c1", Category: CategoryMessage})
		fl.Log(Event{Category: CategoryError, Error: &ErrorEventData{Layer: LayerTransport, Message: "reset"}})
		require.NoError(t, fl.Sync())
		require.NoError(t, fl.Close())
	}

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	events := readAll(t, r)
	assert.Len(t, events, 4)
	for _, e := range events {
		assert.True(t, e.ConnectionID == "c1" || e.Error != nil, "session record returned as event")
	}

	sessions := r.Sessions()
	require.Len(t, sessions, 2)
	for _, s := range sessions {
		assert.Equal(t, version.Protocol, s.Protocol)
		assert.NotEmpty(t, s.Build)
		assert.False(t, s.Opened.IsZero())
	}
	assert.False(t, sessions[1].Opened.Before(sessions[0].Opened))
}

func TestReaderFilters(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []Event{
		{Timestamp: base, ConnectionID: "a", Direction: DirectionIn, Layer: LayerTransport, Category: CategoryMessage,
			Frame: &FrameEvent{Size: 20}},
		{Timestamp: base.Add(time.Second), ConnectionID: "a", Direction: DirectionIn, Layer: LayerWire, Category: CategoryMessage,
			Message: &MessageEvent{Type: MessageTypeRequest, TransactionID: 1, Function: wire.FuncPowerOn}},
		{Timestamp: base.Add(2 * time.Second), ConnectionID: "b", Direction: DirectionOut, Layer: LayerWire, Category: CategoryMessage,
			Message: &MessageEvent{Type: MessageTypeEvent, Function: wire.EventRemoteDeviceFound}, DeviceAddress: "AA:BB:CC:DD:EE:FF"},
		{Timestamp: base.Add(3 * time.Second), Layer: LayerManager, Category: CategoryState,
			StateChange: &StateChangeEvent{Entity: StateEntityPower, OldState: "DISABLED", NewState: "ENABLED"}},
	}
	path := writeCapture(t, events)

	fn := wire.EventRemoteDeviceFound
	out := DirectionOut
	state := CategoryState
	end := base.Add(2 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"connection", Filter{ConnectionID: "a"}, 2},
		{"direction", Filter{Direction: &out}, 1},
		{"function", Filter{Function: &fn}, 1},
		{"device", Filter{DeviceAddress: "AA:BB:CC:DD:EE:FF"}, 1},
		{"category", Filter{Category: &state}, 1},
		{"time window", Filter{TimeStart: &base, TimeEnd: &end}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewFilteredReader(path, tt.filter)
			require.NoError(t, err)
			defer r.Close()
			assert.Len(t, readAll(t, r), tt.want)
		})
	}
}

func TestMultiLoggerFansOut(t *testing.T) {
	a, b := &captureLogger{}, &captureLogger{}
	m := NewMultiLogger(a, nil, b)
	assert.Equal(t, 2, m.Len())

	m.Log(Event{ConnectionID: "x"})

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestStateChangeHelper(t *testing.T) {
	c := &captureLogger{}
	StateChange(c, StateEntityJob, "SCHEDULED", "ACTIVE", "radio free")
	StateChange(nil, StateEntityJob, "", "ACTIVE", "")

	require.Len(t, c.events, 1)
	assert.Equal(t, CategoryState, c.events[0].Category)
	assert.Equal(t, "ACTIVE", c.events[0].StateChange.NewState)
	assert.Equal(t, NoopLogger{}, OrNoop(nil))
}

func TestLogrusAdapter(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	a := NewLogrusAdapter(logger)

	status := wire.StatusSuccess
	a.Log(Event{
		ConnectionID: "c9",
		Layer:        LayerWire,
		Message:      &MessageEvent{Type: MessageTypeResponse, TransactionID: 4, Function: wire.FuncPowerOn, Status: &status},
	})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, "protocol", entry.Message)
	assert.Equal(t, "PowerOn", entry.Data["function"])
	assert.Equal(t, "SUCCESS", entry.Data["status"])
	assert.Equal(t, "c9", entry.Data["conn_id"])
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "OUT", DirectionOut.String())
	assert.Equal(t, "MANAGER", LayerManager.String())
	assert.Equal(t, "EVENT", MessageTypeEvent.String())
	assert.Equal(t, "PAIRING", StateEntityPairing.String())
	assert.Equal(t, "CLIENT", RoleClient.String())
	assert.Equal(t, "UNKNOWN", Category(9).String())
}
