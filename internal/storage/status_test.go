package storage

import (
	"encoding/json"
	"testing"
)

func TestDownloadStatusString(t *testing.T) {
	cases := []struct {
		status DownloadStatus
		want   string
	}{
		{NotStarted, "NOT_STARTED"},
		{InProgress, "IN_PROGRESS"},
		{Failed, "FAILED"},
		{Done, "DONE"},
		{DownloadStatus(42), "DownloadStatus(42)"},
	}

	for _, tc := range cases {
		if got := tc.status.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestParseStatusRoundTrip(t *testing.T) {
	for _, status := range []DownloadStatus{NotStarted, InProgress, Failed, Done} {
		parsed, err := ParseStatus(status.String())
		if err != nil {
			t.Fatalf("ParseStatus(%q) returned error: %v", status, err)
		}

		if parsed != status {
			t.Errorf("ParseStatus(%q) = %v, want %v", status, parsed, status)
		}
	}
}

func TestParseStatusUnknown(t *testing.T) {
	if _, err := ParseStatus("EXPLODED"); err == nil {
		t.Error("expected an error for an unknown status name")
	}
}

func TestDownloadStatusTerminal(t *testing.T) {
	if NotStarted.Terminal() || InProgress.Terminal() {
		t.Error("NOT_STARTED and IN_PROGRESS are not terminal")
	}

	if !Failed.Terminal() || !Done.Terminal() {
		t.Error("FAILED and DONE are terminal")
	}
}

func TestDownloadStatusJSON(t *testing.T) {
	data, err := json.Marshal(InProgress)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}

	if string(data) != `"IN_PROGRESS"` {
		t.Errorf("Marshal = %s, want %q", data, `"IN_PROGRESS"`)
	}

	var status DownloadStatus

	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}

	if status != InProgress {
		t.Errorf("Unmarshal = %v, want %v", status, InProgress)
	}

	if err := json.Unmarshal([]byte(`"EXPLODED"`), &status); err == nil {
		t.Error("expected an error for an unknown status name")
	}
}

func TestLockRegistrySameKeySameMutex(t *testing.T) {
	reg := NewLockRegistry()

	if reg.For("a") != reg.For("a") {
		t.Error("same key should return the same mutex")
	}

	if reg.For("a") == reg.For("b") {
		t.Error("different keys should return different mutexes")
	}
}

func TestLockRegistrySerializes(t *testing.T) {
	reg := NewLockRegistry()

	const workers = 8
	const rounds = 200

	counter := 0
	done := make(chan struct{})

	for i := 0; i < workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()

			for j := 0; j < rounds; j++ {
				mu := reg.For("record")
				mu.Lock()
				counter++
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < workers; i++ {
		<-done
	}

	if counter != workers*rounds {
		t.Errorf("counter = %d, want %d", counter, workers*rounds)
	}
}
