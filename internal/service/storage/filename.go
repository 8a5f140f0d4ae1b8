package storage

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"visionrelay/internal/model"
)

// SnapshotInfo is what a flushed snapshot's file name records.
type SnapshotInfo struct {
	Timestamp time.Time
	Camera    string
	Sequence  model.SequenceID
	Labels    []string
}

// ParseSnapshotFilename reverses the name written by FlushImages. Labels are
// never numeric, so the last all-digit field is the sequence id.
func ParseSnapshotFilename(name string) (SnapshotInfo, error) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if len(base) < len(timestampLayout)+2 {
		return SnapshotInfo{}, fmt.Errorf("name too short: %s", name)
	}

	ts, err := time.ParseInLocation(timestampLayout, base[:len(timestampLayout)], time.Local)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("invalid timestamp in %s: %w", name, err)
	}

	parts := strings.Split(strings.TrimPrefix(base[len(timestampLayout):], "_"), "_")
	seqIdx := -1
	for i := len(parts) - 1; i > 0; i-- {
		if isDigits(parts[i]) {
			seqIdx = i
			break
		}
	}
	if seqIdx < 0 {
		return SnapshotInfo{}, fmt.Errorf("missing sequence id in %s", name)
	}

	seq, err := strconv.ParseUint(parts[seqIdx], 10, 64)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("invalid sequence id in %s: %w", name, err)
	}

	var labels []string
	for _, l := range parts[seqIdx+1:] {
		if l != "" {
			labels = append(labels, l)
		}
	}
	return SnapshotInfo{
		Timestamp: ts,
		Camera:    strings.Join(parts[:seqIdx], "_"),
		Sequence:  model.SequenceID(seq),
		Labels:    labels,
	}, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
