package manifest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/repro-backtest/internal/models"
)

func digestOf(b byte) models.Digest {
	var d models.Digest
	for i := range d {
		d[i] = b
	}
	return d
}

func TestEncodeDecodeListing(t *testing.T) {
	records := []models.FileRecord{
		{RelativePath: "data/MES_2023.csv", Fingerprint: digestOf(0xab)},
		{RelativePath: "src/strategies/sma cross.yaml", Fingerprint: digestOf(0x01)},
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, records))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Repeat("ab", 32)+"  data/MES_2023.csv", lines[0])

	entries, err := Decode(&buf)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "src/strategies/sma cross.yaml", entries[1].RelativePath)
	assert.Equal(t, digestOf(0x01), entries[1].Fingerprint)
}

func TestEncodeRejectsNewlineInPath(t *testing.T) {
	err := Encode(&bytes.Buffer{}, []models.FileRecord{{RelativePath: "a\nb"}})
	assert.Error(t, err)
}

func TestDecodeErrors(t *testing.T) {
	valid := strings.Repeat("0", 64)

	tests := []struct {
		name  string
		input string
	}{
		{"missing separator", valid + " data/a.csv\n"},
		{"short digest", "abc  data/a.csv\n"},
		{"non-hex digest", strings.Repeat("z", 64) + "  data/a.csv\n"},
		{"empty path", valid + "  \n"},
		{"duplicate path", valid + "  a\n" + valid + "  a\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestDecodeSkipsBlankLines(t *testing.T) {
	input := "\n" + strings.Repeat("1", 64) + "  a.csv\r\n\n"
	entries, err := Decode(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.csv", entries[0].RelativePath)
}
