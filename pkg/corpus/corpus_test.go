package corpus

import (
	"archive/zip"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	entryA = `<alpino_ds><node rel="top"><node rel="su" word="Jan"/></node><sentence>Jan slaapt</sentence></alpino_ds>`
	entryB = `<alpino_ds><node rel="top"><node rel="hd" word="loopt"/></node><sentence>loopt</sentence></alpino_ds>`
)

const sentenceStylesheet = `<xsl:stylesheet version="1.0" xmlns:xsl="http://www.w3.org/1999/XSL/Transform">
  <xsl:output method="text"/>
  <xsl:template match="/"><xsl:value-of select="//sentence"/></xsl:template>
</xsl:stylesheet>`

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func dirCorpus(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.xml"), entryA)
	writeFile(t, filepath.Join(root, "notes.txt"), "not an entry")
	writeFile(t, filepath.Join(root, "sub", "b.xml"), entryB)
	return root
}

func zipCorpus(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, m := range []struct{ name, data string }{
		{"sub/b.xml", entryB},
		{"readme.txt", "skip"},
		{"a.xml", entryA},
	} {
		w, err := zw.Create(m.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(m.data))
		require.NoError(t, err)
	}
	_, err = zw.Create("empty/")
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func sqliteCorpus(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "corpus.sqlite")
	w, err := CreateSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, w.Add(ctx, Entry{Name: "sub/b.xml", Contents: []byte(entryB)}))
	require.NoError(t, w.Add(ctx, Entry{Name: "a.xml", Contents: []byte(entryA)}))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())
	return path
}

func open(t *testing.T, path string) Reader {
	t.Helper()
	r, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func collect(t *testing.T, it EntryIterator) []Entry {
	t.Helper()
	defer it.Close()
	var out []Entry
	for it.Next() {
		e := it.Entry()
		out = append(out, Entry{Name: e.Name, Contents: append([]byte(nil), e.Contents...)})
	}
	require.NoError(t, it.Err())
	return out
}

func names(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func backends(t *testing.T) map[string]string {
	return map[string]string{
		"dir":    dirCorpus(t),
		"zip":    zipCorpus(t),
		"sqlite": sqliteCorpus(t),
	}
}

func TestBackendsListAndRead(t *testing.T) {
	ctx := context.Background()
	for kind, path := range backends(t) {
		t.Run(kind, func(t *testing.T) {
			r := open(t, path)

			it, err := r.Entries(ctx, false)
			require.NoError(t, err)
			entries := collect(t, it)
			if diff := cmp.Diff([]string{"a.xml", "sub/b.xml"}, names(entries)); diff != "" {
				t.Fatalf("entry names mismatch (-want +got):\n%s", diff)
			}
			for _, e := range entries {
				assert.Empty(t, e.Contents)
			}

			it, err = r.Entries(ctx, true)
			require.NoError(t, err)
			entries = collect(t, it)
			require.Len(t, entries, 2)
			assert.Equal(t, entryA, string(entries[0].Contents))
			assert.Equal(t, entryB, string(entries[1].Contents))

			data, err := r.Read(ctx, "sub/b.xml")
			require.NoError(t, err)
			assert.Equal(t, entryB, string(data))

			_, err = r.Read(ctx, "missing.xml")
			assert.ErrorIs(t, err, ErrEntryNotFound)
		})
	}
}

func TestOpenRejectsUnknownFormats(t *testing.T) {
	dir := t.TempDir()
	blob := filepath.Join(dir, "cdb.bin")
	writeFile(t, blob, "\x00\x06\x15\x61 unknown")
	_, err := Open(context.Background(), blob)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Open(context.Background(), filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestSQLitePathWithURIMetacharacters(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cdb?v=1#x%20.sqlite")
	w, err := CreateSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, w.Add(ctx, Entry{Name: "a.xml", Contents: []byte(entryA)}))
	require.NoError(t, w.Commit())

	_, err = os.Stat(path)
	require.NoError(t, err, "database must be created under its literal name")

	r := open(t, path)
	data, err := r.Read(ctx, "a.xml")
	require.NoError(t, err)
	assert.Equal(t, entryA, string(data))
}

func TestSQLiteWriterCloseDiscardsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.sqlite")
	w, err := CreateSQLite(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, w.Add(context.Background(), Entry{Name: "a.xml", Contents: []byte(entryA)}))
	require.NoError(t, w.Close())
	// The schema is created outside the entries transaction.
	r, err := Open(context.Background(), path)
	require.NoError(t, err)
	n, err := Count(context.Background(), r)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, r.Close())
}

func TestDirReadRejectsEscapingNames(t *testing.T) {
	r := open(t, dirCorpus(t))
	for _, name := range []string{"../a.xml", "/etc/passwd", "notes.txt", ""} {
		_, err := r.Read(context.Background(), name)
		assert.ErrorIs(t, err, ErrEntryNotFound, name)
	}
}

func TestQueryFiltersEntries(t *testing.T) {
	ctx := context.Background()
	r := open(t, dirCorpus(t))

	it, err := r.Query(ctx, `//node[@word='Jan']`)
	require.NoError(t, err)
	got := collect(t, it)
	require.Equal(t, []string{"a.xml"}, names(got))
	assert.Equal(t, entryA, string(got[0].Contents))

	it, err = r.Query(ctx, `//node`)
	require.NoError(t, err)
	all, err := r.Entries(ctx, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, names(collect(t, all)), names(collect(t, it)))

	it, err = r.Query(ctx, `count(//node[@word='Jan']) > 0`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.xml"}, names(collect(t, it)))

	it, err = r.Query(ctx, `//node[@word='nobody']`)
	require.NoError(t, err)
	assert.Empty(t, collect(t, it))
}

func TestQueryValidation(t *testing.T) {
	r := open(t, dirCorpus(t))
	_, err := r.Query(context.Background(), `//node[`)
	assert.ErrorIs(t, err, ErrInvalidQuery)
	_, err = r.Query(context.Background(), ``)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	assert.True(t, r.ValidQuery(`//node[@cat='np']`))
	assert.False(t, r.ValidQuery(`//node[`))
	assert.False(t, r.ValidQuery(``))
}

func TestQuerySurfacesMalformedEntries(t *testing.T) {
	root := dirCorpus(t)
	writeFile(t, filepath.Join(root, "broken.xml"), "<alpino_ds><node>")
	r := open(t, root)
	it, err := r.Query(context.Background(), `//node`)
	require.NoError(t, err)
	defer it.Close()
	require.True(t, it.Next())
	assert.Equal(t, "a.xml", it.Entry().Name)
	assert.False(t, it.Next())
	assert.Error(t, it.Err())
}

func TestReadMarked(t *testing.T) {
	ctx := context.Background()
	r := open(t, dirCorpus(t))

	out, err := r.ReadMarked(ctx, "a.xml", []MarkerQuery{{Query: `//node[@rel='su']`, Attr: "active", Value: "1"}})
	require.NoError(t, err)
	assert.Contains(t, string(out), `<node rel="su" word="Jan" active="1">`)
	assert.NotContains(t, string(out), `<node rel="top" active="1">`)

	out, err = r.ReadMarked(ctx, "a.xml", []MarkerQuery{{Query: `//@word`, Attr: "hit", Value: "yes"}})
	require.NoError(t, err)
	assert.Contains(t, string(out), `word="Jan" hit="yes"`)

	out, err = r.ReadMarked(ctx, "a.xml", nil)
	require.NoError(t, err)
	assert.Equal(t, entryA, string(out))

	_, err = r.ReadMarked(ctx, "a.xml", []MarkerQuery{{Query: `//node[`, Attr: "a", Value: "b"}})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = r.ReadMarked(ctx, "missing.xml", []MarkerQuery{{Query: `//node`, Attr: "a", Value: "b"}})
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestEntriesWithTransform(t *testing.T) {
	ctx := context.Background()
	r := open(t, sqliteCorpus(t))

	it, err := r.EntriesWithTransform(ctx, []byte(sentenceStylesheet), nil)
	require.NoError(t, err)
	want := []Entry{
		{Name: "a.xml", Contents: []byte("Jan slaapt")},
		{Name: "sub/b.xml", Contents: []byte("loopt")},
	}
	if diff := cmp.Diff(want, collect(t, it)); diff != "" {
		t.Fatalf("transformed entries mismatch (-want +got):\n%s", diff)
	}
}

func TestTransformRunsAfterMarkers(t *testing.T) {
	ctx := context.Background()
	r := open(t, dirCorpus(t))
	stylesheet := `<xsl:stylesheet version="1.0" xmlns:xsl="http://www.w3.org/1999/XSL/Transform">
  <xsl:output method="text"/>
  <xsl:template match="/"><xsl:value-of select="count(//node[@m='x'])"/></xsl:template>
</xsl:stylesheet>`
	markers := []MarkerQuery{{Query: `//node[@word]`, Attr: "m", Value: "x"}}

	it, err := r.QueryWithTransform(ctx, `//node[@word='loopt']`, []byte(stylesheet), markers)
	require.NoError(t, err)
	got := collect(t, it)
	require.Equal(t, []string{"sub/b.xml"}, names(got))
	assert.Equal(t, "1", string(got[0].Contents))
}

func TestTransformRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	r := open(t, dirCorpus(t))

	_, err := r.EntriesWithTransform(ctx, []byte(`<not-a-stylesheet/>`), nil)
	assert.ErrorIs(t, err, ErrInvalidStylesheet)

	_, err = r.QueryWithTransform(ctx, `//[`, []byte(sentenceStylesheet), nil)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = r.EntriesWithTransform(ctx, []byte(sentenceStylesheet), []MarkerQuery{{Query: "//node", Attr: "", Value: "x"}})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestTransformSupportsXSLT10(t *testing.T) {
	ctx := context.Background()
	r := open(t, dirCorpus(t))
	stylesheet := `<xsl:stylesheet version="1.0" xmlns:xsl="http://www.w3.org/1999/XSL/Transform">
  <xsl:output method="text"/>
  <xsl:param name="prefix" select="'#'"/>
  <xsl:template name="words">
    <xsl:for-each select="//node[@word]"><xsl:sort select="@word" order="descending"/><xsl:value-of select="@word"/></xsl:for-each>
  </xsl:template>
  <xsl:template match="/">
    <xsl:variable name="w"><xsl:call-template name="words"/></xsl:variable>
    <xsl:value-of select="concat($prefix, $w)"/>
  </xsl:template>
</xsl:stylesheet>`

	it, err := r.EntriesWithTransform(ctx, []byte(stylesheet), nil)
	require.NoError(t, err)
	want := []Entry{
		{Name: "a.xml", Contents: []byte("#Jan")},
		{Name: "sub/b.xml", Contents: []byte("#loopt")},
	}
	if diff := cmp.Diff(want, collect(t, it)); diff != "" {
		t.Fatalf("transformed entries mismatch (-want +got):\n%s", diff)
	}
}

func TestIteratorStopsWhenContextIsCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := open(t, sqliteCorpus(t))
	it, err := r.Entries(ctx, true)
	require.NoError(t, err)
	defer it.Close()

	require.True(t, it.Next())
	cancel()
	assert.False(t, it.Next())
	assert.True(t, errors.Is(it.Err(), context.Canceled))
}

func TestImportIntoSQLite(t *testing.T) {
	ctx := context.Background()
	src := open(t, zipCorpus(t))
	dst := filepath.Join(t.TempDir(), "imported.sqlite")

	w, err := CreateSQLite(ctx, dst)
	require.NoError(t, err)
	n, err := Import(ctx, src, w)
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	assert.EqualValues(t, 2, n)

	r := open(t, dst)
	it, err := r.Entries(ctx, true)
	require.NoError(t, err)
	want := []Entry{
		{Name: "a.xml", Contents: []byte(entryA)},
		{Name: "sub/b.xml", Contents: []byte(entryB)},
	}
	if diff := cmp.Diff(want, collect(t, it)); diff != "" {
		t.Fatalf("imported entries mismatch (-want +got):\n%s", diff)
	}

	_, err = CreateSQLite(ctx, dst)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestCount(t *testing.T) {
	r := open(t, dirCorpus(t))
	n, err := Count(context.Background(), r)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestClosedReader(t *testing.T) {
	r, err := Open(context.Background(), dirCorpus(t))
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	_, err = r.Entries(context.Background(), false)
	assert.ErrorIs(t, err, ErrClosed)
}
