package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want ByteSize
	}{
		{"0", 0},
		{"4096", 4096},
		{"512B", 512},
		{"1Ki", KiB},
		{"1KiB", KiB},
		{"64Mi", 64 * MiB},
		{"10Gi", 10 * GiB},
		{"10gib", 10 * GiB},
		{"1Ti", TiB},
		{"1K", KB},
		{"100MB", 100 * MB},
		{"2G", 2 * GB},
		{" 1 Gi ", GiB},
		{"1.5Mi", MiB + MiB/2},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "Gi", "12Qi", "-1Gi", "one gig"} {
		_, err := Parse(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("256Mi")))
	assert.Equal(t, 256*MiB, b)
	assert.Error(t, b.UnmarshalText([]byte("lots")))
}

func TestString(t *testing.T) {
	assert.Equal(t, "1.0 GiB", GiB.String())
	assert.Equal(t, "512 B", ByteSize(512).String())
	assert.Equal(t, uint64(1<<40), TiB.Uint64())
}

func TestMustParse(t *testing.T) {
	assert.Equal(t, 4*KiB, MustParse("4Ki"))
	assert.Panics(t, func() { MustParse("bogus") })
}
