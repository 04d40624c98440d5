package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"listing_scrooper/config"
	"listing_scrooper/models"
)

var exportTime = time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)

func TestJSONLExporter(t *testing.T) {
	dir := t.TempDir()
	e := NewJSONLExporter(dir)
	e.now = func() time.Time { return exportTime }

	recs := []models.PropertyRecord{*testRecord("a", 0.9), *testRecord("b", 0.5)}
	if err := e.Export(context.Background(), "npc", "run-1", recs); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "npc", "2026-05-02", "run-1.jsonl"))
	if err != nil {
		t.Fatalf("expected export file: %v", err)
	}
	defer f.Close()

	var rows []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var row map[string]any
		if err := json.Unmarshal(sc.Bytes(), &row); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		rows = append(rows, row)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(rows))
	}
	if rows[0]["price"] != "2500000.5" {
		t.Fatalf("expected price as decimal string, got %v", rows[0]["price"])
	}
	if rows[0]["bedrooms"] != float64(3) {
		t.Fatalf("expected bedrooms 3, got %v", rows[0]["bedrooms"])
	}
	if _, ok := rows[0]["description"]; ok {
		t.Fatalf("absent fields must be omitted")
	}
}

type fakePutter struct {
	key  string
	body []byte
	err  error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.key = *in.Key
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Exporter(t *testing.T) {
	putter := &fakePutter{}
	e := NewS3Exporter(NewS3UploaderWithClient(putter, "listings"), "exports")
	e.now = func() time.Time { return exportTime }

	if err := e.Export(context.Background(), "npc", "run-1", []models.PropertyRecord{*testRecord("a", 0.9)}); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if putter.key != "exports/npc/2026-05-02/run-1.jsonl" {
		t.Fatalf("unexpected key %s", putter.key)
	}
	if bytes.Count(putter.body, []byte("\n")) != 1 || !strings.Contains(string(putter.body), `"identity_hash":"a"`) {
		t.Fatalf("unexpected body %s", putter.body)
	}
}

func TestMultiExporter_JoinsErrors(t *testing.T) {
	failing := NewS3Exporter(NewS3UploaderWithClient(&fakePutter{err: errors.New("access denied")}, "listings"), "")
	local := NewJSONLExporter(t.TempDir())

	err := MultiExporter{failing, local}.Export(context.Background(), "npc", "run-1", []models.PropertyRecord{*testRecord("a", 0.9)})
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("expected joined s3 error, got %v", err)
	}
}

func TestPublicURL(t *testing.T) {
	got := PublicURL("npc/run.jsonl", config.S3Config{Bucket: "listings", Region: "eu-west-1"})
	if got != "https://listings.s3.eu-west-1.amazonaws.com/npc/run.jsonl" {
		t.Fatalf("unexpected url %s", got)
	}
}
