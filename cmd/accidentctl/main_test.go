package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/accident-engine/generic"
	"github.com/warp/accident-engine/lagging"
	"github.com/warp/accident-engine/store/sqlite"
)

// run executes the root command against a database in dir.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{
		"--db", filepath.Join(dir, "accidents.db"),
		"--config", filepath.Join(dir, "missing.yaml"),
	}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCodeFormat(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "code", "format", "global", "--company", "ACME", "--year", "2025", "--seq", "7")
	require.NoError(t, err)
	assert.Equal(t, "ACME-2025-007\n", out)

	out, err = run(t, dir, "code", "format", "site", "--company", "ACME", "--site", "P1", "--seq", "12", "--date", "2025-03-14")
	require.NoError(t, err)
	assert.Equal(t, "ACME-P1-012-20250314\n", out)

	_, err = run(t, dir, "code", "format", "global", "--company", "ACME", "--year", "2025", "--seq", "1000")
	assert.Error(t, err)

	_, err = run(t, dir, "code", "format", "regional", "--company", "ACME")
	assert.Error(t, err)
}

func TestCodeParse(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "code", "parse", "ACME-P1-012-20250314")
	require.NoError(t, err)
	assert.Contains(t, out, "site:    P1")
	assert.Contains(t, out, "key:     site:ACME/P1/2025")

	_, err = run(t, dir, "code", "parse", "ACME-2025-07")
	assert.ErrorIs(t, err, generic.ErrMalformedCode)
}

func TestSequenceNextSetShow(t *testing.T) {
	// GIVEN a fresh database
	dir := t.TempDir()
	key := []string{"--scope", "site", "--company", "ACME", "--site", "P1", "--year", "2025"}

	// WHEN two seqs are allocated, then the counter is moved
	out, err := run(t, dir, append([]string{"sequence", "next"}, key...)...)
	require.NoError(t, err)
	assert.Equal(t, "001\n", out)
	out, err = run(t, dir, append([]string{"sequence", "next"}, key...)...)
	require.NoError(t, err)
	assert.Equal(t, "002\n", out)

	out, err = run(t, dir, append([]string{"sequence", "set", "--seq", "40", "--reason", "paper backlog"}, key...)...)
	require.NoError(t, err)
	assert.Equal(t, "site:ACME/P1/2025: 002 -> 040\n", out)

	// THEN show reports the value and the audit entry, and next continues
	out, err = run(t, dir, append([]string{"sequence", "show"}, key...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "site:ACME/P1/2025: 040")
	assert.Contains(t, out, "002 -> 040  by accidentctl  paper backlog")

	out, err = run(t, dir, append([]string{"sequence", "next"}, key...)...)
	require.NoError(t, err)
	assert.Equal(t, "041\n", out)
}

func TestSequenceSet_RejectsBackwards(t *testing.T) {
	dir := t.TempDir()
	key := []string{"--company", "ACME", "--year", "2025"}
	_, err := run(t, dir, append([]string{"sequence", "set", "--seq", "10"}, key...)...)
	require.NoError(t, err)

	_, err = run(t, dir, append([]string{"sequence", "set", "--seq", "5"}, key...)...)
	assert.ErrorIs(t, err, generic.ErrInvalidSequence)
}

func TestSequenceShow_Empty(t *testing.T) {
	out, err := run(t, t.TempDir(), "sequence", "show", "--company", "ACME", "--year", "2025")
	require.NoError(t, err)
	assert.Equal(t, "global:ACME/2025: no codes issued\n", out)
}

func TestSummary(t *testing.T) {
	// GIVEN one stored report and working hours
	dir := t.TempDir()
	store, err := sqlite.New(filepath.Join(dir, "accidents.db"))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.SaveWorkingHours(ctx, generic.WorkingHours{Year: 2025, Total: 400_000}))
	require.NoError(t, store.SaveAccident(ctx, generic.AccidentRecord{
		ID: "ACME-P1-001-20250301", GlobalID: "ACME-2025-001", CompanyCode: "ACME", SiteCode: "P1",
		Year: 2025, OccurredAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), DirectDamageCost: 1000,
		Victims: []generic.VictimRecord{{InjuryLabel: "serious", InjuryCategory: generic.InjurySerious, LossDays: 10, EmployeeType: generic.EmployeeDirect}},
	}))
	require.NoError(t, store.Close())

	// WHEN the summary is printed
	out, err := run(t, dir, "summary", "--year", "2025")
	require.NoError(t, err)

	// THEN it is the JSON summary
	var s lagging.LaggingSummary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, 1, s.AccidentCount.Total)
	assert.Equal(t, 0.5, s.LTIR.Total)
	assert.Equal(t, int64(5000), s.PropertyDamage.Total)

	_, err = run(t, dir, "summary", "--year", "2025", "--constant", "7")
	assert.ErrorIs(t, err, generic.ErrInvalidConstant)
}

func TestSequenceCmdFlags(t *testing.T) {
	cmd := newSequenceSetCmd(&globalOpts{})
	for _, flag := range []string{"scope", "company", "site", "year", "seq", "actor", "reason"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), flag)
	}
	scope, _ := cmd.Flags().GetString("scope")
	assert.Equal(t, "global", scope)
}
