package main

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMigrator struct {
	calls   []string
	steps   int
	forced  int
	upErr   error
	version uint
}

func (f *fakeMigrator) Up() error {
	f.calls = append(f.calls, "up")
	return f.upErr
}

func (f *fakeMigrator) Steps(n int) error {
	f.calls = append(f.calls, "steps")
	f.steps = n
	return nil
}

func (f *fakeMigrator) Down() error {
	f.calls = append(f.calls, "down")
	return nil
}

func (f *fakeMigrator) Force(version int) error {
	f.calls = append(f.calls, "force")
	f.forced = version
	return nil
}

func (f *fakeMigrator) Version() (uint, bool, error) {
	f.calls = append(f.calls, "version")
	return f.version, false, nil
}

func TestRunDefaultsToUp(t *testing.T) {
	m := &fakeMigrator{upErr: migrate.ErrNoChange}
	require.NoError(t, run(m, nil))
	assert.Equal(t, []string{"up"}, m.calls)
}

func TestRunUpPropagatesErrors(t *testing.T) {
	m := &fakeMigrator{upErr: errors.New("dirty database")}
	assert.ErrorContains(t, run(m, []string{"up"}), "dirty database")
}

func TestRunDownSteps(t *testing.T) {
	m := &fakeMigrator{}
	require.NoError(t, run(m, []string{"down", "2"}))
	assert.Equal(t, -2, m.steps)

	m = &fakeMigrator{}
	require.NoError(t, run(m, []string{"down"}))
	assert.Equal(t, []string{"down"}, m.calls)

	assert.Error(t, run(&fakeMigrator{}, []string{"down", "zero"}))
}

func TestRunForce(t *testing.T) {
	m := &fakeMigrator{}
	require.NoError(t, run(m, []string{"force", "3"}))
	assert.Equal(t, 3, m.forced)

	assert.Error(t, run(&fakeMigrator{}, []string{"force"}))
	assert.Error(t, run(&fakeMigrator{}, []string{"force", "x"}))
}

func TestRunUnknownCommand(t *testing.T) {
	assert.ErrorContains(t, run(&fakeMigrator{}, []string{"sideways"}), "usage")
}
