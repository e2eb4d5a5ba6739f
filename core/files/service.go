// Package files stores incident attachments encrypted at rest. Each upload
// lands in a per-incident directory as an AES-GCM blob with plain and cipher
// checksums recorded for integrity verification on read.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"fleetdesk/config"
	"fleetdesk/core/store"
	"fleetdesk/core/utils"
)

var (
	ErrTooLarge         = errors.New("file too large")
	ErrIntegrity        = errors.New("integrity check failed")
	ErrFileNotFound     = errors.New("file not found")
	ErrIncidentNotFound = errors.New("incident not found")
)

type Service struct {
	cfg       config.IncidentsConfig
	incidents store.IncidentsStore
	encryptor *utils.Encryptor
	logger    *utils.Logger
}

func NewService(cfg config.IncidentsConfig, incidents store.IncidentsStore, logger *utils.Logger) (*Service, error) {
	if cfg.StorageDir == "" {
		cfg.StorageDir = "data/incidents"
	}
	enc, err := utils.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.StorageDir, 0o700); err != nil {
		return nil, err
	}
	return &Service{cfg: cfg, incidents: incidents, encryptor: enc, logger: logger}, nil
}

// Save encrypts and persists an upload, then records it on the incident.
func (s *Service) Save(ctx context.Context, incidentID int64, filename, contentType string, r io.Reader, uploadedBy int64) (*store.IncidentFile, error) {
	inc, err := s.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrIncidentNotFound
	}
	maxBytes := s.cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	content, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(content)) > maxBytes {
		return nil, ErrTooLarge
	}

	dir := filepath.Join(s.cfg.StorageDir, fmt.Sprintf("%d", incidentID))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	blob, err := s.encryptor.EncryptToBlob(content)
	if err != nil {
		return nil, err
	}
	token, err := utils.RandString(16)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, token+".enc")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return nil, err
	}

	file := &store.IncidentFile{
		IncidentID:   incidentID,
		Filename:     safeFilename(filename),
		ContentType:  strings.TrimSpace(contentType),
		StoragePath:  path,
		SizeBytes:    int64(len(content)),
		SHA256Plain:  utils.Sha256Hex(content),
		SHA256Cipher: utils.Sha256Hex(blob),
		UploadedBy:   uploadedBy,
	}
	if _, err := s.incidents.AddIncidentFile(ctx, file); err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	_, _ = s.incidents.AddIncidentTimeline(ctx, &store.IncidentTimelineEvent{
		IncidentID: incidentID,
		EventType:  "file_uploaded",
		Message:    "Attachment uploaded: " + file.Filename,
		CreatedBy:  uploadedBy,
	})
	return file, nil
}

// Load returns the decrypted content of an attachment after verifying both
// checksums.
func (s *Service) Load(ctx context.Context, incidentID, fileID int64) (*store.IncidentFile, []byte, error) {
	file, err := s.incidents.GetIncidentFile(ctx, incidentID, fileID)
	if err != nil {
		return nil, nil, err
	}
	if file == nil {
		return nil, nil, ErrFileNotFound
	}
	blob, err := os.ReadFile(file.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	if utils.Sha256Hex(blob) != file.SHA256Cipher {
		return nil, nil, ErrIntegrity
	}
	plain, err := s.encryptor.DecryptBlob(blob)
	if err != nil {
		return nil, nil, err
	}
	if utils.Sha256Hex(plain) != file.SHA256Plain {
		return nil, nil, ErrIntegrity
	}
	return file, plain, nil
}

func (s *Service) List(ctx context.Context, incidentID int64) ([]store.IncidentFile, error) {
	return s.incidents.ListIncidentFiles(ctx, incidentID)
}

func safeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "attachment"
	}
	replacer := strings.NewReplacer("/", "_", "\\", "_", " ", "_")
	return replacer.Replace(name)
}
