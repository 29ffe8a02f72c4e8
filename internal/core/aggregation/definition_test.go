package aggregation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeDefinition writes a single report YAML file into dir.
func writeDefinition(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const milkDefinition = `
name: milk_production
title: Milk production
source_kind: milk.session
headline: total
default_granularity: weekly
metrics:
  - name: morning
    field: morning_volume
  - name: evening
    field: evening_volume
  - name: total
    field: total_volume
record_schema: milk_session.proto
`

func TestFileSystemDefinitionRepository_LoadAndList(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "milk.yaml", milkDefinition)
	writeDefinition(t, dir, "nutrition.yml", `
name: nutrition
source_kind: feed.daily
`)
	writeDefinition(t, dir, "README.md", "not a report")
	writeDefinition(t, dir, "empty.yaml", "# nothing here\n")

	repo, err := NewFileSystemDefinitionRepository(dir)
	require.NoError(t, err)

	all, err := repo.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "milk_production", all[0].Name)
	require.Equal(t, "nutrition", all[1].Name)

	feed, err := repo.List(context.Background(), "feed.daily")
	require.NoError(t, err)
	require.Len(t, feed, 1)
	require.True(t, feed[0].Dynamic())
	require.Equal(t, GranularityDay, feed[0].DefaultGranularity)

	none, err := repo.List(context.Background(), "calving")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestFileSystemDefinitionRepository_Get(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "milk.yaml", milkDefinition)

	repo, err := NewFileSystemDefinitionRepository(dir)
	require.NoError(t, err)

	def, err := repo.Get(context.Background(), "milk_production")
	require.NoError(t, err)
	require.Equal(t, "Milk production", def.Title)
	require.Equal(t, "total", def.Headline)
	require.Equal(t, GranularityWeek, def.DefaultGranularity)
	require.Len(t, def.Metrics, 3)
	require.Equal(t, "morning_volume", def.Metrics[0].SourceField())
	require.Equal(t, filepath.Join(dir, "milk_session.proto"), def.RecordSchema)
	require.Len(t, def.Fingerprint, 64)

	q := def.Query(day("2024-01-01"), day("2024-01-31"), GranularityDay, "cow-7")
	require.Equal(t, "cow-7", q.GroupKey)
	require.Equal(t, "total", q.Headline)
	require.Len(t, q.Metrics, 3)

	_, err = repo.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrReportNotFound)
}

func TestFileSystemDefinitionRepository_MissingDir(t *testing.T) {
	repo, err := NewFileSystemDefinitionRepository(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)

	all, err := repo.List(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestFileSystemDefinitionRepository_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"missing kind", "name: a\n", "source_kind must not be empty"},
		{"bad operator", "name: a\nsource_kind: k\nmetrics:\n  - {name: x, operator: median}\n", "unsupported operator"},
		{"duplicate metric", "name: a\nsource_kind: k\nmetrics:\n  - {name: x}\n  - {name: x}\n", "duplicate metric"},
		{"unknown headline", "name: a\nsource_kind: k\nheadline: y\nmetrics:\n  - {name: x}\n", "headline"},
		{"unknown distribution", "name: a\nsource_kind: k\ndistribution: [y]\nmetrics:\n  - {name: x}\n", "distribution metric"},
		{"max headline", "name: a\nsource_kind: k\nheadline: x\nmetrics:\n  - {name: x, operator: max}\n", "headline metric must use sum or count"},
		{"min distribution", "name: a\nsource_kind: k\ndistribution: [x]\nmetrics:\n  - {name: x, operator: min}\n  - {name: y}\n", "must use sum"},
		{"bad granularity", "name: a\nsource_kind: k\ndefault_granularity: hourly\n", "invalid granularity"},
		{"malformed yaml", "name: [a\n", "parsing report file"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeDefinition(t, dir, "r.yaml", tc.content)
			_, err := NewFileSystemDefinitionRepository(dir)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestFileSystemDefinitionRepository_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "a.yaml", "name: dup\nsource_kind: k\n")
	writeDefinition(t, dir, "b.yaml", "name: dup\nsource_kind: k\n")

	_, err := NewFileSystemDefinitionRepository(dir)
	require.ErrorContains(t, err, "duplicate report name")
}

func TestFileSystemDefinitionRepository_Reload(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "a.yaml", "name: a\nsource_kind: k\n")

	repo, err := NewFileSystemDefinitionRepository(dir)
	require.NoError(t, err)

	writeDefinition(t, dir, "b.yaml", "name: b\nsource_kind: k\n")
	require.NoError(t, repo.Reload())
	all, _ := repo.List(context.Background(), "")
	require.Len(t, all, 2)

	// A broken file keeps the previous set.
	writeDefinition(t, dir, "c.yaml", "name: c\n")
	require.Error(t, repo.Reload())
	all, _ = repo.List(context.Background(), "")
	require.Len(t, all, 2)
}

func TestNewStaticDefinitionRepository(t *testing.T) {
	repo, err := NewStaticDefinitionRepository(ReportDefinition{Name: "a", SourceKind: "k"})
	require.NoError(t, err)
	def, err := repo.Get(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, GranularityDay, def.DefaultGranularity)

	_, err = NewStaticDefinitionRepository(ReportDefinition{Name: "a"})
	require.Error(t, err)
}

func TestFileSystemDefinitionRepository_ShippedDefinitions(t *testing.T) {
	repo, err := NewFileSystemDefinitionRepository(filepath.Join("..", "..", "..", "config", "reports"))
	require.NoError(t, err)
	require.Greater(t, repo.Len(), 0)

	sessions, err := repo.Get(context.Background(), "milk_sessions")
	require.NoError(t, err)
	require.Equal(t, "sessions", sessions.Headline)
}
