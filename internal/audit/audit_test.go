package audit

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"
)

// Tests use logger.Close() to drain entries instead of time.Sleep,
// ensuring deterministic behavior with the race detector.

func TestLogAndQuery(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{BufferSize: 100, Out: &buf})

	logger.Log(Entry{Operation: "GenerateKey", Slot: "0xe0f0", Kind: "ecc", Status: StatusOK})
	logger.Log(Entry{Operation: "Sign", Slot: "0xe0f0", Kind: "ecc", Status: StatusOK})
	logger.Log(Entry{Operation: "GenerateKey", Slot: "0xe0fc", Kind: "rsa", Status: StatusOK})

	// Close drains the channel and waits for the loop to finish.
	logger.Close()

	entries := logger.Query(Filter{Slot: "0xe0f0"})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for 0xe0f0, got %d", len(entries))
	}
	if entries[0].Operation != "Sign" {
		t.Fatalf("expected newest first, got %s", entries[0].Operation)
	}

	entries = logger.Query(Filter{Operation: "Sign"})
	if len(entries) != 1 {
		t.Fatalf("expected 1 Sign entry, got %d", len(entries))
	}

	// Safe to read buf now - processLoop has exited.
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 json lines, got %d", len(lines))
	}
	var first Entry
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("output is not json: %v", err)
	}
	if first.Operation != "GenerateKey" || first.Slot != "0xe0f0" {
		t.Fatalf("unexpected first line: %+v", first)
	}
}

func TestQueryLimit(t *testing.T) {
	logger := NewLogger(Config{BufferSize: 100})

	for i := range 10 {
		logger.Log(Entry{Operation: "Sign", Slot: "0xe0f1", Status: StatusOK, Metadata: map[string]string{"i": string(rune('0' + i))}})
	}
	logger.Close()

	entries := logger.Query(Filter{Limit: 3})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Metadata["i"] != "9" {
		t.Fatalf("expected newest entry first, got %s", entries[0].Metadata["i"])
	}
}

func TestQueryTimeRange(t *testing.T) {
	logger := NewLogger(Config{})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		logger.Log(Entry{Operation: "Random", Status: StatusOK, Timestamp: base.Add(time.Duration(i) * time.Hour)})
	}
	logger.Close()

	entries := logger.Query(Filter{Since: base.Add(time.Hour), Until: base.Add(3 * time.Hour)})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries in range, got %d", len(entries))
	}
}

func TestRetentionDropsOldest(t *testing.T) {
	logger := NewLogger(Config{BufferSize: 100, Retention: 4})
	for i := range 10 {
		logger.Log(Entry{Operation: "Sign", Metadata: map[string]string{"i": string(rune('0' + i))}})
	}
	logger.Close()

	entries := logger.Query(Filter{})
	if len(entries) != 4 {
		t.Fatalf("expected 4 retained entries, got %d", len(entries))
	}
	if entries[3].Metadata["i"] != "6" {
		t.Fatalf("expected oldest retained entry 6, got %s", entries[3].Metadata["i"])
	}
}

func TestSubscribeReceivesEntries(t *testing.T) {
	logger := NewLogger(Config{BufferSize: 100})
	defer logger.Close()

	sub := logger.Subscribe()
	defer logger.Unsubscribe(sub)

	logger.Log(Entry{Operation: "Sign", Slot: "0xe0f0", Status: StatusFault, FaultCode: "0x8001"})

	select {
	case entry := <-sub.C:
		if entry.Operation != "Sign" || entry.FaultCode != "0x8001" {
			t.Fatalf("unexpected entry %+v", entry)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive entry")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	logger := NewLogger(Config{})
	defer logger.Close()

	sub := logger.Subscribe()
	logger.Unsubscribe(sub)
	logger.Unsubscribe(sub)

	// Channel should be closed
	_, ok := <-sub.C
	if ok {
		t.Fatal("expected closed channel")
	}
}

func TestCloseReleasesSubscribers(t *testing.T) {
	logger := NewLogger(Config{})
	sub := logger.Subscribe()
	logger.Close()
	logger.Close()

	if _, ok := <-sub.C; ok {
		t.Fatal("expected subscriber channel closed after Close")
	}
	// Unsubscribing after close must not double close.
	logger.Unsubscribe(sub)
}

func TestLogEntryHasID(t *testing.T) {
	logger := NewLogger(Config{})

	logger.Log(Entry{Operation: "GenerateKey", Slot: "0xe0fd"})
	logger.Close()

	entries := logger.Query(Filter{})
	if len(entries) != 1 {
		t.Fatal("expected 1 entry")
	}
	if entries[0].ID == "" {
		t.Fatal("entry should have an ID")
	}
	if entries[0].Timestamp.IsZero() {
		t.Fatal("entry should have a timestamp")
	}
}

func TestLogAfterCloseIsDropped(t *testing.T) {
	logger := NewLogger(Config{})
	logger.Log(Entry{Operation: "GenerateKey"})
	logger.Close()

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Log after Close panicked: %v", r)
		}
	}()
	logger.Log(Entry{Operation: "Sign"})

	entries := logger.Query(Filter{})
	if len(entries) != 1 || entries[0].Operation != "GenerateKey" {
		t.Fatalf("expected only the entry logged before Close, got %+v", entries)
	}
}

func TestRetentionWrapsManyTimes(t *testing.T) {
	logger := NewLogger(Config{BufferSize: 1000, Retention: 3})
	for i := range 500 {
		logger.Log(Entry{Operation: "Sign", Slot: strconv.Itoa(i)})
	}
	logger.Close()

	entries := logger.Query(Filter{})
	if len(entries) != 3 {
		t.Fatalf("expected 3 retained entries, got %d", len(entries))
	}
	for i, want := range []string{"499", "498", "497"} {
		if entries[i].Slot != want {
			t.Fatalf("entry %d: expected slot %s, got %s", i, want, entries[i].Slot)
		}
	}

	limited := logger.Query(Filter{Limit: 2})
	if len(limited) != 2 || limited[1].Slot != "498" {
		t.Fatalf("unexpected limited query %+v", limited)
	}
}
