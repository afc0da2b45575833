//go:build dbxml

package corpus

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pebbe/dbxml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dactCorpus(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cdb.dact")
	db, err := dbxml.OpenReadWrite(path)
	require.NoError(t, err)
	require.NoError(t, db.PutXml("a.xml", entryA, false))
	require.NoError(t, db.PutXml("sub/b.xml", entryB, false))
	db.Close()
	return path
}

func TestDactCorpus(t *testing.T) {
	ctx := context.Background()
	r := open(t, dactCorpus(t))

	it, err := r.Entries(ctx, true)
	require.NoError(t, err)
	got := collect(t, it)
	assert.ElementsMatch(t, []string{"a.xml", "sub/b.xml"}, names(got))

	data, err := r.Read(ctx, "sub/b.xml")
	require.NoError(t, err)
	assert.Equal(t, entryB, string(data))

	_, err = r.Read(ctx, "missing.xml")
	assert.ErrorIs(t, err, ErrEntryNotFound)

	it, err = r.Query(ctx, `//node[@word='Jan']`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.xml"}, names(collect(t, it)))
}
