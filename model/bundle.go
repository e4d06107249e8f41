package model

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

const artifactFormatVersion = 1

// Bundle is the unit of persistence: a fitted scaler and forest plus the
// feature order both were fit with
type Bundle struct {
	ID           string
	FeatureNames []string
	Scaler       *Scaler
	Forest       *Forest
	TrainedAt    time.Time
}

// ArtifactNotFoundError reports a missing model or scaler file
type ArtifactNotFoundError struct {
	Path string
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("artifact not found at %s", e.Path)
}

func (e *ArtifactNotFoundError) Unwrap() error {
	return fs.ErrNotExist
}

type classifierArtifact struct {
	FormatVersion int
	BundleID      string
	FeatureNames  []string
	TrainedAt     time.Time
	Forest        Forest
}

type scalerArtifact struct {
	FormatVersion int    `yaml:"format_version"`
	BundleID      string `yaml:"bundle_id"`
	Scaler        Scaler `yaml:"scaler"`
}

// Save writes the classifier to modelPath and the scaler to scalerPath,
// creating parent directories as needed
func Save(b *Bundle, modelPath, scalerPath string) error {
	if b == nil || b.Scaler == nil || b.Forest == nil {
		return fmt.Errorf("cannot save: %w", ErrModelNotLoaded)
	}

	var model bytes.Buffer
	err := gob.NewEncoder(&model).Encode(classifierArtifact{
		FormatVersion: artifactFormatVersion,
		BundleID:      b.ID,
		FeatureNames:  b.FeatureNames,
		TrainedAt:     b.TrainedAt,
		Forest:        *b.Forest,
	})
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}

	scaler, err := yaml.Marshal(scalerArtifact{
		FormatVersion: artifactFormatVersion,
		BundleID:      b.ID,
		Scaler:        *b.Scaler,
	})
	if err != nil {
		return fmt.Errorf("failed to encode scaler: %w", err)
	}

	if err := writeArtifact(modelPath, model.Bytes()); err != nil {
		return err
	}
	return writeArtifact(scalerPath, scaler)
}

func writeArtifact(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Load reads a bundle written by Save. A missing file is reported as
// *ArtifactNotFoundError; artifacts from different training runs are rejected.
func Load(modelPath, scalerPath string) (*Bundle, error) {
	modelRaw, err := readArtifact(modelPath)
	if err != nil {
		return nil, err
	}
	scalerRaw, err := readArtifact(scalerPath)
	if err != nil {
		return nil, err
	}

	var ca classifierArtifact
	if err := gob.NewDecoder(bytes.NewReader(modelRaw)).Decode(&ca); err != nil {
		return nil, fmt.Errorf("failed to decode model %s: %w", modelPath, err)
	}
	var sa scalerArtifact
	if err := yaml.Unmarshal(scalerRaw, &sa); err != nil {
		return nil, fmt.Errorf("failed to decode scaler %s: %w", scalerPath, err)
	}

	if ca.FormatVersion != artifactFormatVersion || sa.FormatVersion != artifactFormatVersion {
		return nil, fmt.Errorf("unsupported artifact format: model v%d, scaler v%d", ca.FormatVersion, sa.FormatVersion)
	}
	if ca.BundleID != sa.BundleID {
		return nil, fmt.Errorf("model %s and scaler %s come from different training runs", ca.BundleID, sa.BundleID)
	}
	if !slices.Equal(ca.FeatureNames, sa.Scaler.FeatureNames) {
		return nil, fmt.Errorf("feature order mismatch: model %v, scaler %v", ca.FeatureNames, sa.Scaler.FeatureNames)
	}
	if err := sa.Scaler.validate(); err != nil {
		return nil, fmt.Errorf("invalid scaler %s: %w", scalerPath, err)
	}
	if err := ca.Forest.validate(); err != nil {
		return nil, fmt.Errorf("invalid model %s: %w", modelPath, err)
	}
	if ca.Forest.NFeatures != len(ca.FeatureNames) {
		return nil, fmt.Errorf("model expects %d features but records %d names", ca.Forest.NFeatures, len(ca.FeatureNames))
	}

	forest := ca.Forest
	scaler := sa.Scaler
	return &Bundle{
		ID:           ca.BundleID,
		FeatureNames: ca.FeatureNames,
		Scaler:       &scaler,
		Forest:       &forest,
		TrainedAt:    ca.TrainedAt,
	}, nil
}

func readArtifact(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &ArtifactNotFoundError{Path: path}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return raw, nil
}
