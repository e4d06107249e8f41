package main

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMigrator struct {
	upErr      error
	downErr    error
	version    uint
	dirty      bool
	versionErr error
	forced     int
	calls      []string
}

func (f *fakeMigrator) Up() error {
	f.calls = append(f.calls, "up")
	return f.upErr
}

func (f *fakeMigrator) Down() error {
	f.calls = append(f.calls, "down")
	return f.downErr
}

func (f *fakeMigrator) Version() (uint, bool, error) {
	f.calls = append(f.calls, "version")
	return f.version, f.dirty, f.versionErr
}

func (f *fakeMigrator) Force(v int) error {
	f.calls = append(f.calls, "force")
	f.forced = v
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun(t *testing.T) {
	tests := []struct {
		name    string
		m       *fakeMigrator
		command string
		args    []string
		wantErr bool
	}{
		{"up", &fakeMigrator{}, "up", nil, false},
		{"up no change", &fakeMigrator{upErr: migrate.ErrNoChange}, "up", nil, false},
		{"up failure", &fakeMigrator{upErr: errors.New("syntax error")}, "up", nil, true},
		{"down no change", &fakeMigrator{downErr: migrate.ErrNoChange}, "down", nil, false},
		{"version", &fakeMigrator{version: 1}, "version", nil, false},
		{"version none applied", &fakeMigrator{versionErr: migrate.ErrNilVersion}, "version", nil, false},
		{"force without version", &fakeMigrator{}, "force", nil, true},
		{"force bad version", &fakeMigrator{}, "force", []string{"one"}, true},
		{"unknown", &fakeMigrator{}, "sideways", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.m, tt.command, tt.args, quietLogger())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRun_Force(t *testing.T) {
	m := &fakeMigrator{}
	require.NoError(t, run(m, "force", []string{"1"}, quietLogger()))
	assert.Equal(t, 1, m.forced)
	assert.Equal(t, []string{"force"}, m.calls)
}
