package utils

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLooksTunneled(t *testing.T) {
	lan := &net.IPNet{IP: net.ParseIP("192.168.1.20"), Mask: net.CIDRMask(24, 32)}
	cgnat := &net.IPNet{IP: net.ParseIP("100.72.3.4"), Mask: net.CIDRMask(10, 32)}

	assert.False(t, looksTunneled("eth0", []net.Addr{lan}))
	assert.True(t, looksTunneled("wg0", []net.Addr{lan}))
	assert.True(t, looksTunneled("CloudflareWARP", nil))
	assert.True(t, looksTunneled("en0", []net.Addr{cgnat}))
	assert.True(t, looksTunneled("en0", []net.Addr{&net.IPAddr{IP: net.ParseIP("100.100.0.1")}}))
	assert.False(t, looksTunneled("en0", []net.Addr{&net.IPAddr{IP: net.ParseIP("100.128.0.1")}}))
}

func TestFormatTimeDuration(t *testing.T) {
	assert.Equal(t, "42s", FormatTimeDuration(42*time.Second))
	assert.Equal(t, "3m 5s", FormatTimeDuration(3*time.Minute+5*time.Second))
	assert.Equal(t, "2h 0m 1s", FormatTimeDuration(2*time.Hour+time.Second))
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.50 KB", FormatSize(1536))
	assert.Equal(t, "2.00 MB", FormatSize(2*1024*1024))
}

func TestGetUniqueFilename(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "rec.ogg")
	assert.Equal(t, name, GetUniqueFilename(name))

	require.NoError(t, os.WriteFile(name, nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "rec (1).ogg"), GetUniqueFilename(name))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "rec (1).ogg"), nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "rec (2).ogg"), GetUniqueFilename(name))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", TruncateString("abc", 5))
	assert.Equal(t, "ab...", TruncateString("abcdefgh", 5))
	assert.Equal(t, "ab", TruncateString("abcdefgh", 2))
}
