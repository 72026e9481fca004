package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprintRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fp   Fingerprint
	}{
		{name: "size only", fp: Fingerprint{Modified: 1700000000000, Length: 42}},
		{name: "path", fp: Fingerprint{Path: "file:///srv/docs/a+b.txt", Modified: 1, Length: 2}},
		{name: "escapes", fp: Fingerprint{Path: `C:\share\x+y`, Tag: `"W/\"abc+\""`, Modified: 3, Length: 4}},
		{name: "acls", fp: Fingerprint{ACLs: []string{"group:eng", "user:ann"}, DenyToken: "DEAD_AUTHORITY", Modified: 5, Length: 6}},
		{name: "empty acls", fp: Fingerprint{ACLs: []string{}, Modified: 7, Length: 8}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			encoded := tc.fp.String()
			decoded, err := Parse(encoded)
			require.NoError(t, err)
			require.Equal(t, tc.fp, decoded)
			require.Equal(t, encoded, decoded.String())
		})
	}
}

func TestFingerprintLayout(t *testing.T) {
	t.Parallel()

	require.Equal(t, "---10:20", Fingerprint{Modified: 10, Length: 20}.String())
	require.Equal(t, `-+a\+b+-1:2`, Fingerprint{Path: "a+b", Modified: 1, Length: 2}.String())
	require.Equal(t, "+2+x+y+deny+--0:0", Fingerprint{ACLs: []string{"y", "x"}, DenyToken: "deny"}.String())
}

func TestFingerprintACLOrderIgnored(t *testing.T) {
	t.Parallel()

	a := Fingerprint{ACLs: []string{"b", "a"}, Length: 1}.String()
	b := Fingerprint{ACLs: []string{"a", "b"}, Length: 1}.String()
	require.Equal(t, a, b)
}

func TestParseRejectsMalformed(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "x--1:2", "---12", "---a:2", "+z+"} {
		_, err := Parse(in)
		require.Error(t, err, in)
	}
}

func TestNeedsProcessing(t *testing.T) {
	t.Parallel()

	require.True(t, NeedsProcessing("", "---1:1"))
	require.True(t, NeedsProcessing("---1:1", "---2:1"))
	require.False(t, NeedsProcessing("---1:1", "---1:1"))
}

func FuzzFingerprintPath(f *testing.F) {
	f.Add("plain", "etag")
	f.Add(`back\slash+plus`, `+\+`)
	f.Fuzz(func(t *testing.T, path, tag string) {
		fp := Fingerprint{Path: path, Tag: tag, Modified: 9, Length: 9}
		decoded, err := Parse(fp.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", fp.String(), err)
		}
		if decoded.Path != path || decoded.Tag != tag {
			t.Fatalf("round trip mismatch: %+v", decoded)
		}
	})
}
