package ablage

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeRFC5987(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "report.zip", "report.zip"},
		{"space", "My Report.zip", "My%20Report.zip"},
		{"umlaut", "Bücher.zip", "B%C3%BCcher.zip"},
		{"quotes", `a"b".zip`, "a%22b%22.zip"},
		{"semicolon", "a;b.zip", "a%3Bb.zip"},
		{"attr-chars kept", "a-b_c.d!e#f.zip", "a-b_c.d!e#f.zip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, encodeRFC5987(tt.in))
		})
	}
}

// The percent-encoding must round-trip: a client decoding the ext-value
// recovers exactly the stored name.
func TestEncodeRFC5987RoundTrip(t *testing.T) {
	t.Parallel()

	names := []string{
		"My Report.zip",
		"Bücher und Fotos (2026).zip",
		"日本語ファイル.tar.gz",
		"100%.zip",
	}

	for _, name := range names {
		encoded := encodeRFC5987(name)
		decoded, err := url.PathUnescape(encoded)
		require.NoError(t, err, "decode %q", encoded)
		require.Equal(t, name, decoded)
	}
}

func TestStripHeaderControls(t *testing.T) {
	t.Parallel()

	require.Equal(t, "evil.zip", stripHeaderControls("evil\r\n.zip"))
	require.Equal(t, "ab.zip", stripHeaderControls("a\tb.zip"))
	require.Equal(t, "clean.zip", stripHeaderControls("clean.zip"))
}

func TestContentDisposition(t *testing.T) {
	t.Parallel()

	require.Equal(t, "attachment; filename*=UTF-8''report.zip", contentDisposition("report.zip"))

	// Header injection attempts collapse into a single safe line.
	got := contentDisposition("x.zip\r\nSet-Cookie: pwned=1")
	require.NotContains(t, got, "\r")
	require.NotContains(t, got, "\n")
	require.Equal(t, "attachment; filename*=UTF-8''x.zipSet-Cookie:%20pwned=1", got)
}
