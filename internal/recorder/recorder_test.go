package recorder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petems/heartloop/internal/waveform"
)

func TestRecordingRoundTrip(t *testing.T) {
	format := waveform.Format{SampleRate: 8000, BitDepth: 16, Channels: 2}
	rec, err := New(filepath.Join(t.TempDir(), "nested"), format)
	require.NoError(t, err)

	first := []int{0, 0, 1000, 1000, -32767, -32767}
	second := []int{32767, 32767, 5, 5}
	require.NoError(t, rec.Append(first))
	require.NoError(t, rec.Append(second))
	assert.Equal(t, 5, rec.Frames())
	require.NoError(t, rec.Close())

	f, err := os.Open(rec.Path())
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())

	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, uint32(8000), dec.SampleRate)
	assert.Equal(t, uint16(16), dec.BitDepth)
	assert.Equal(t, uint16(2), dec.NumChans)
	assert.Equal(t, append(first, second...), buf.Data)
}

func TestRecordingFileName(t *testing.T) {
	dir := t.TempDir()
	rec, err := New(dir, waveform.DefaultFormat)
	require.NoError(t, err)
	defer rec.Close()

	assert.Equal(t, dir, filepath.Dir(rec.Path()))

	name := strings.TrimSuffix(filepath.Base(rec.Path()), ".wav")
	parts := strings.Split(name, "-")
	require.Len(t, parts, 4)
	assert.Equal(t, "heartloop", parts[0])
	assert.Len(t, parts[3], 8)

	other, err := New(dir, waveform.DefaultFormat)
	require.NoError(t, err)
	defer other.Close()
	assert.NotEqual(t, rec.Path(), other.Path())

	// Session IDs are the leading group of a UUID
	_, err = uuid.Parse(parts[3] + "-0000-0000-0000-000000000000")
	assert.NoError(t, err)
}

func TestAppendAfterClose(t *testing.T) {
	rec, err := New(t.TempDir(), waveform.DefaultFormat)
	require.NoError(t, err)
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	assert.ErrorIs(t, rec.Append([]int{1, 1}), ErrClosed)
}

func TestNewRejectsBadFormat(t *testing.T) {
	_, err := New(t.TempDir(), waveform.Format{SampleRate: 8000, BitDepth: 20, Channels: 1})
	assert.ErrorIs(t, err, waveform.ErrUnsupportedBitDepth)
}
