package dedupindex

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "master_index.csv")
	ix, err := Open(path)
	require.NoError(t, err)
	return ix
}

func TestOpenInitializesWithHeader(t *testing.T) {
	ix := openTestIndex(t)
	assert.Equal(t, 0, ix.Len())

	data, err := os.ReadFile(ix.Path())
	require.NoError(t, err)
	assert.Equal(t, Header+"\n", string(data))
}

func TestAppendAndMembership(t *testing.T) {
	ix := openTestIndex(t)

	rows := []Row{
		{ArchiveName: "SETD6_2026_08_24.tar.gz", JobName: "SETD6-A", FileName: "SETD6-A_data.json", FileSize: 1000, DateArchived: "2026-08-24"},
		{ArchiveName: "SETD6_2026_08_24.tar.gz", JobName: "SETD6-C", FileName: "SETD6-C_data.json", FileSize: 2000, DateArchived: "2026-08-24"},
	}
	require.NoError(t, ix.Append(rows))

	t.Run("membership round-trip", func(t *testing.T) {
		assert.True(t, ix.IsArchived("SETD6-A", "SETD6-A_data.json"))
		assert.True(t, ix.IsArchived("SETD6-C", "SETD6-C_data.json"))
		assert.False(t, ix.IsArchived("SETD6-B", "SETD6-B_data.json"))

		name, ok := ix.LookupArchive("SETD6-A", "SETD6-A_data.json")
		require.True(t, ok)
		assert.Equal(t, "SETD6_2026_08_24.tar.gz", name)
	})

	t.Run("persisted across reopen", func(t *testing.T) {
		reopened, err := Open(ix.Path())
		require.NoError(t, err)
		assert.Equal(t, 2, reopened.Len())
		assert.True(t, reopened.IsArchived("SETD6-A", "SETD6-A_data.json"))
	})

	t.Run("append of nothing is an error", func(t *testing.T) {
		assert.ErrorIs(t, ix.Append(nil), ErrNoRows)
	})
}

func TestOpenReadOnly(t *testing.T) {
	t.Run("missing file is not created", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "master_index.csv")

		ix, err := OpenReadOnly(path)
		require.NoError(t, err)
		assert.Equal(t, 0, ix.Len())

		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("existing file is loaded", func(t *testing.T) {
		ix := openTestIndex(t)
		require.NoError(t, ix.Append([]Row{
			{ArchiveName: "a.tar.gz", JobName: "FAM-1", FileName: "FAM-1_data.json", FileSize: 10, DateArchived: "2026-08-24"},
		}))

		ro, err := OpenReadOnly(ix.Path())
		require.NoError(t, err)
		assert.Equal(t, 1, ro.Len())
		assert.True(t, ro.IsArchived("FAM-1", "FAM-1_data.json"))
	})

	t.Run("append is rejected", func(t *testing.T) {
		ro, err := OpenReadOnly(filepath.Join(t.TempDir(), "master_index.csv"))
		require.NoError(t, err)

		err = ro.Append([]Row{
			{ArchiveName: "a.tar.gz", JobName: "FAM-1", FileName: "FAM-1_data.json", FileSize: 10, DateArchived: "2026-08-24"},
		})
		assert.ErrorIs(t, err, ErrReadOnly)
	})
}

func TestReloadPicksUpExternalAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master_index.csv")

	first, err := Open(path)
	require.NoError(t, err)

	// A second handle on the same file stands in for another process.
	second, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, second.Append([]Row{
		{ArchiveName: "SETD6_2026_08_24.tar.gz", JobName: "SETD6-A", FileName: "SETD6-A_data.json", FileSize: 1000, DateArchived: "2026-08-24"},
	}))

	// The first handle is stale until it reloads.
	assert.False(t, first.IsArchived("SETD6-A", "SETD6-A_data.json"))
	require.NoError(t, first.Reload())
	assert.True(t, first.IsArchived("SETD6-A", "SETD6-A_data.json"))
	assert.Equal(t, 1, first.Len())

	t.Run("vanished file reloads as empty", func(t *testing.T) {
		require.NoError(t, os.Remove(path))
		require.NoError(t, first.Reload())
		assert.Equal(t, 0, first.Len())
	})
}

func TestOpenToleratesDanglingPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master_index.csv")
	content := Header + "\n" +
		"SETD6_2026_08_24.tar.gz,SETD6-A,SETD6-A_data.json,1000,2026-08-24\n" +
		"SETD6_2026_08_24.tar.gz,SETD6-C,SETD6" // truncated mid-write
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ix, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 1, ix.Len())
	assert.True(t, ix.IsArchived("SETD6-A", "SETD6-A_data.json"))
	assert.False(t, ix.IsArchived("SETD6-C", "SETD6-C_data.json"))
}

func TestOpenSkipsMalformedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master_index.csv")
	content := Header + "\n" +
		"arch.tar.gz,job-1,job-1_data.json,notanumber,2026-08-24\n" +
		"arch.tar.gz,job-2,job-2_data.json,500,2026-08-24\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ix, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 1, ix.Len())
	assert.True(t, ix.IsArchived("job-2", "job-2_data.json"))
}

func TestAppendIsAtomicOnDisk(t *testing.T) {
	ix := openTestIndex(t)
	require.NoError(t, ix.Append([]Row{
		{ArchiveName: "a.tar.gz", JobName: "FAM-1", FileName: "FAM-1_data.json", FileSize: 10, DateArchived: "2026-08-24"},
	}))

	// No stray staging files left behind.
	entries, err := os.ReadDir(filepath.Dir(ix.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(ix.Path()), entries[0].Name())

	// The published file ends with a complete line.
	data, err := os.ReadFile(ix.Path())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "2026-08-24\n"))
}

func TestQueryAndSummarize(t *testing.T) {
	ix := openTestIndex(t)
	require.NoError(t, ix.Append([]Row{
		{ArchiveName: "SETD6_2026_08_23.tar.gz", JobName: "SETD6-A", FileName: "SETD6-A_data.json", FileSize: 1000, DateArchived: "2026-08-23"},
		{ArchiveName: "SETD6_2026_08_24.tar.gz", JobName: "SETD6-C", FileName: "SETD6-C_data.json", FileSize: 2000, DateArchived: "2026-08-24"},
		{ArchiveName: "EZH2_2026_08_24.tar.gz", JobName: "EZH2-X", FileName: "EZH2-X_data.json", FileSize: 4000, DateArchived: "2026-08-24"},
	}))

	t.Run("query by job substring", func(t *testing.T) {
		rows := ix.Query("SETD6-C")
		require.Len(t, rows, 1)
		assert.Equal(t, "SETD6_2026_08_24.tar.gz", rows[0].ArchiveName)
	})

	t.Run("query by archive substring", func(t *testing.T) {
		assert.Len(t, ix.Query("EZH2_"), 1)
		assert.Len(t, ix.Query(".tar.gz"), 3)
		assert.Empty(t, ix.Query("nomatch"))
	})

	t.Run("summarize", func(t *testing.T) {
		st := ix.Summarize()
		assert.Equal(t, 3, st.Rows)
		assert.Equal(t, 3, st.DistinctArchives)
		assert.Equal(t, 3, st.DistinctJobs)
		assert.Equal(t, int64(7000), st.TotalBytes)
		assert.Equal(t, "2026-08-23", st.FirstDate)
		assert.Equal(t, "2026-08-24", st.LastDate)
	})
}
