package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/presence/internal/biometric"
	"github.com/kozaktomas/presence/internal/constants"
	"github.com/kozaktomas/presence/internal/facematch"
)

// sampleRecord is one face sample in an import or verify file.
type sampleRecord struct {
	IdentityID       string                     `json:"identity_id"`
	Embedding        []float32                  `json:"embedding"`
	Landmarks        *facematch.LandmarkPayload `json:"landmarks"`
	LegacyHash       string                     `json:"legacy_hash"`
	DeviceKey        string                     `json:"device_key"`
	BiometricEnabled *bool                      `json:"biometric_enabled"`
	ApprovalStatus   string                     `json:"approval_status"`
}

// importFile is the document read by "profiles import".
type importFile struct {
	Profiles []sampleRecord `json:"profiles"`
}

func (s *sampleRecord) request() biometric.VerificationRequest {
	return biometric.VerificationRequest{
		IdentityID: s.IdentityID,
		Embedding:  s.Embedding,
		Landmarks:  s.Landmarks,
		LegacyHash: s.LegacyHash,
		DeviceKey:  s.DeviceKey,
	}
}

// check reports problems that would make the sample useless to the guard.
// Unusable signals are tolerated as long as one usable signal remains.
func (s *sampleRecord) check() error {
	usable := 0
	if len(s.Embedding) > 0 {
		if err := biometric.ValidateEmbedding(s.Embedding); err != nil {
			return fmt.Errorf("embedding: %w", err)
		}
		usable++
	}
	if s.Landmarks != nil {
		if _, err := s.Landmarks.Resolve(); err == nil {
			usable++
		}
	}
	if s.LegacyHash != "" {
		usable++
	}
	if usable == 0 {
		return errors.New("no usable biometric signal")
	}
	switch biometric.ApprovalStatus(s.ApprovalStatus) {
	case "", biometric.ApprovalPending, biometric.ApprovalApproved, biometric.ApprovalRejected:
	default:
		return fmt.Errorf("unknown approval status %q", s.ApprovalStatus)
	}
	return nil
}

// loadDocument reads a JSON or YAML file and returns it as JSON. YAML is
// converted so landmark payloads go through one decoder.
func loadDocument(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if info.Size() > constants.MaxImportFileSize {
		return nil, fmt.Errorf("%s is larger than %d bytes", path, constants.MaxImportFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("converting YAML: %w", err)
		}
	case ".json", "":
	default:
		return nil, fmt.Errorf("unsupported file type %q (want .json, .yaml or .yml)", filepath.Ext(path))
	}
	return data, nil
}

// readImportFile reads the records of an import file. A bare list is
// accepted as well as a document with a "profiles" key.
func readImportFile(path string) ([]sampleRecord, error) {
	data, err := loadDocument(path)
	if err != nil {
		return nil, err
	}

	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		var list []sampleRecord
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
		}
		return list, nil
	}

	var doc importFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return doc.Profiles, nil
}

// readSample reads the single sample of a verify file.
func readSample(path string) (*sampleRecord, error) {
	data, err := loadDocument(path)
	if err != nil {
		return nil, err
	}
	var s sampleRecord
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return &s, nil
}
