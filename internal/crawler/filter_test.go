package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterAllow(t *testing.T) {
	t.Parallel()

	f, err := NewFilter([]string{"*.txt", "https://example.com/docs/*"}, []string{"*/tmp/*", "*secret*"})
	require.NoError(t, err)

	require.True(t, f.Allow("/srv/a/readme.txt"))
	require.True(t, f.Allow("https://example.com/docs/guide.html"))
	require.False(t, f.Allow("/srv/tmp/readme.txt"))
	require.False(t, f.Allow("/srv/secret.txt"))
	require.False(t, f.Allow("/srv/a/image.png"))
}

func TestFilterEmptyIncludeAdmitsAll(t *testing.T) {
	t.Parallel()

	f, err := NewFilter(nil, []string{"*.bak"})
	require.NoError(t, err)
	require.True(t, f.Allow("anything"))
	require.False(t, f.Allow("old.bak"))

	var none *Filter
	require.True(t, none.Allow("x"))
}

func TestFilterQuotesMeta(t *testing.T) {
	t.Parallel()

	f, err := NewFilter([]string{"file?.(v1)"}, nil)
	require.NoError(t, err)
	require.True(t, f.Allow("file1.(v1)"))
	require.False(t, f.Allow("file1x(v1)"))
}

func TestJobCountersProcessed(t *testing.T) {
	t.Parallel()

	c := JobCounters{DocumentsIngested: 2, DocumentsSkipped: 1, DocumentsDeleted: 1, DocumentsFailed: 3, Retries: 9}
	require.Equal(t, 7, c.Processed())
	require.True(t, JobStatusCanceled.IsTerminal())
	require.False(t, JobStatusRunning.IsTerminal())
}
