package job

import (
	"strings"
	"testing"
)

func TestDefaultJobIsValid(t *testing.T) {
	if err := Default("nightly").Validate(); err != nil {
		t.Fatalf("default job invalid: %v", err)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name: "minimal",
			doc: `{"id":"j1","datasets":[{"name":"h","file":{"path":"h.csv"},"id_column":"ID","output":"out/h.csv"}],
				"evidence":[{"name":"dupes","file":{"path":"d.csv"},"mode":"group","dataset":"h","id_column":"ID"}]}`,
		},
		{
			name:    "malformed json",
			doc:     `{"id":`,
			wantErr: "decode",
		},
		{
			name:    "no datasets",
			doc:     `{"id":"j1","datasets":[]}`,
			wantErr: "Datasets",
		},
		{
			name:    "missing file path",
			doc:     `{"id":"j1","datasets":[{"name":"h","file":{},"id_column":"ID","output":"o.csv"}]}`,
			wantErr: "Path",
		},
		{
			name:    "bad format",
			doc:     `{"id":"j1","datasets":[{"name":"h","file":{"path":"h.dat","format":"parquet"},"id_column":"ID","output":"o.csv"}]}`,
			wantErr: "Format",
		},
		{
			name: "pair evidence without columns",
			doc: `{"id":"j1","datasets":[{"name":"h","file":{"path":"h.csv"},"id_column":"ID","output":"o.csv"}],
				"evidence":[{"name":"m","file":{"path":"m.csv"},"mode":"pair","left_dataset":"c"}]}`,
			wantErr: "LeftColumn",
		},
		{
			name: "duplicate dataset",
			doc: `{"id":"j1","datasets":[
				{"name":"h","file":{"path":"a.csv"},"id_column":"ID","output":"a.out"},
				{"name":"h","file":{"path":"b.csv"},"id_column":"ID","output":"b.out"}]}`,
			wantErr: "declared twice",
		},
		{
			name: "join without key",
			doc: `{"id":"j1","datasets":[{"name":"h","file":{"path":"h.csv"},"join":{"file":{"path":"c.csv"}},
				"id_column":"ID","output":"o.csv"}]}`,
			wantErr: "On",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, err := Parse([]byte(tt.doc))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if j.ID != "j1" {
					t.Fatalf("id = %q", j.ID)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
