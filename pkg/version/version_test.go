package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    ProtocolVersion
		wantErr bool
	}{
		{in: "1.0", want: ProtocolVersion{1, 0}},
		{in: "2.13", want: ProtocolVersion{2, 13}},
		{in: "1", wantErr: true},
		{in: "1.", wantErr: true},
		{in: ".1", wantErr: true},
		{in: "1.2.3", wantErr: true},
		{in: "70000.0", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestCurrentProtocolParses(t *testing.T) {
	v, err := Parse(Protocol)
	require.NoError(t, err)
	assert.True(t, v.Compatible(ProtocolVersion{Major: v.Major, Minor: v.Minor + 1}))
	assert.False(t, v.Compatible(ProtocolVersion{Major: v.Major + 1}))
}

func TestString(t *testing.T) {
	assert.Contains(t, String(), "protocol "+Protocol)
}
