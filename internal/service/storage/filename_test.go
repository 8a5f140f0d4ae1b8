package storage

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseSnapshotFilename(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 30, 15, 250e6, time.Local)

	tests := []struct {
		name    string
		file    string
		want    SnapshotInfo
		wantErr bool
	}{
		{
			name: "simple",
			file: "2024-05-01_10-30_15.250_cam1_4_person_car.jpg",
			want: SnapshotInfo{Timestamp: ts, Camera: "cam1", Sequence: 4, Labels: []string{"person", "car"}},
		},
		{
			name: "camera with underscores and digits",
			file: "2024-05-01_10-30_15.250_unknown_10.0.0.8_cam_2_17_traffic-light.jpg",
			want: SnapshotInfo{Timestamp: ts, Camera: "unknown_10.0.0.8_cam_2", Sequence: 17, Labels: []string{"traffic-light"}},
		},
		{
			name: "no labels",
			file: "2024-05-01_10-30_15.250_porch_9_.jpg",
			want: SnapshotInfo{Timestamp: ts, Camera: "porch", Sequence: 9},
		},
		{name: "bad timestamp", file: "yesterday_cam1_4_person.jpg", wantErr: true},
		{name: "no sequence", file: "2024-05-01_10-30_15.250_cam_person.jpg", wantErr: true},
		{name: "too short", file: "x.jpg", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSnapshotFilename(tt.file)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseSnapshotFilename() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseSnapshotFilename_MatchesFlushedName(t *testing.T) {
	at := time.Date(2023, 12, 24, 18, 0, 1, 0, time.Local)
	name := snapshotFilename(bufferedSnapshot{
		timestamp: at, camera: "back yard", sequence: 321, labels: []string{"dog", "cat"},
	})

	got, err := ParseSnapshotFilename(name)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := SnapshotInfo{Timestamp: at, Camera: "back-yard", Sequence: 321, Labels: []string{"dog", "cat"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
