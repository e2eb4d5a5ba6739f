package files

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fleetdesk/config"
	"fleetdesk/core/store"
	"fleetdesk/core/utils"
)

func newTestService(t *testing.T) (*Service, store.IncidentsStore, int64) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.AppConfig{DBPath: filepath.Join(dir, "files.db")}
	logger := utils.NewLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	incidents := store.NewIncidentsStore(db)
	svc, err := NewService(config.IncidentsConfig{
		StorageDir:     filepath.Join(dir, "uploads"),
		EncryptionKey:  "files-test-key",
		MaxUploadBytes: 1024,
	}, incidents, logger)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	id, err := incidents.CreateIncident(context.Background(), &store.Incident{
		ReporterUserID: 3,
		VehicleID:      "VAN-12",
		OccurredAt:     time.Now().UTC().Add(-time.Hour),
		Description:    "Dented door.",
		Drivable:       true,
	}, "")
	if err != nil {
		t.Fatalf("create incident: %v", err)
	}
	return svc, incidents, id
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	svc, _, id := newTestService(t)
	ctx := context.Background()
	content := []byte("photo bytes")

	file, err := svc.Save(ctx, id, "front damage.jpg", "image/jpeg", bytes.NewReader(content), 3)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if file.Filename != "front_damage.jpg" {
		t.Fatalf("filename = %q", file.Filename)
	}
	if file.SizeBytes != int64(len(content)) {
		t.Fatalf("size = %d", file.SizeBytes)
	}

	// The blob on disk is encrypted, not the plaintext.
	raw, err := os.ReadFile(file.StoragePath)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if bytes.Contains(raw, content) {
		t.Fatalf("attachment stored unencrypted")
	}

	got, plain, err := svc.Load(ctx, id, file.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ID != file.ID || !bytes.Equal(plain, content) {
		t.Fatalf("round trip mismatch: %q", plain)
	}
}

func TestSaveRejectsOversized(t *testing.T) {
	svc, _, id := newTestService(t)
	big := strings.NewReader(strings.Repeat("x", 2048))
	if _, err := svc.Save(context.Background(), id, "big.bin", "application/octet-stream", big, 3); err != ErrTooLarge {
		t.Fatalf("err = %v", err)
	}
}

func TestSaveUnknownIncident(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Save(context.Background(), 9999, "a.jpg", "image/jpeg", bytes.NewReader([]byte("x")), 3)
	if err != ErrIncidentNotFound {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadDetectsTampering(t *testing.T) {
	svc, _, id := newTestService(t)
	ctx := context.Background()
	file, err := svc.Save(ctx, id, "a.jpg", "image/jpeg", bytes.NewReader([]byte("original")), 3)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := os.WriteFile(file.StoragePath, []byte("tampered blob"), 0o600); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if _, _, err := svc.Load(ctx, id, file.ID); err != ErrIntegrity {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadUnknownFile(t *testing.T) {
	svc, _, id := newTestService(t)
	if _, _, err := svc.Load(context.Background(), id, 555); err != ErrFileNotFound {
		t.Fatalf("err = %v", err)
	}
}

func TestSafeFilename(t *testing.T) {
	cases := map[string]string{
		"../../etc/passwd": "passwd",
		"   ":              "attachment",
		"my photo.png":     "my_photo.png",
	}
	for in, want := range cases {
		if got := safeFilename(in); got != want {
			t.Errorf("safeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
