package storage

import (
	"encoding/json"
	"fmt"
)

// DownloadStatus is the lifecycle state of a ProductRecord.
type DownloadStatus int

const (
	NotStarted DownloadStatus = iota + 1
	InProgress
	Failed
	Done
)

func (s DownloadStatus) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case InProgress:
		return "IN_PROGRESS"
	case Failed:
		return "FAILED"
	case Done:
		return "DONE"
	}

	return fmt.Sprintf("DownloadStatus(%d)", int(s))
}

// Terminal reports whether the status is an end state of the lifecycle.
func (s DownloadStatus) Terminal() bool {
	return s == Failed || s == Done
}

// ParseStatus maps a stored status name back to its DownloadStatus.
func ParseStatus(name string) (DownloadStatus, error) {
	switch name {
	case "NOT_STARTED":
		return NotStarted, nil
	case "IN_PROGRESS":
		return InProgress, nil
	case "FAILED":
		return Failed, nil
	case "DONE":
		return Done, nil
	}

	return 0, fmt.Errorf("unknown download status %q", name)
}

func (s DownloadStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *DownloadStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}

	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}
