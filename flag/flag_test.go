package flag_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmi/flatkvm/flag"
)

func TestParseSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		s       string
		unit    string
		want    int
		wantErr bool
	}{
		{name: "bare number no unit", s: "4096", unit: "", want: 4096},
		{name: "bare number default m", s: "1", unit: "m", want: 1 << 20},
		{name: "explicit k", s: "4k", unit: "m", want: 4 << 10},
		{name: "explicit m", s: "2M", unit: "", want: 2 << 20},
		{name: "explicit g", s: "1g", unit: "", want: 1 << 30},
		{name: "hex", s: "0x1000", unit: "", want: 0x1000},
		{name: "empty", s: "", unit: "m", wantErr: true},
		{name: "unit only", s: "g", unit: "", wantErr: true},
		{name: "garbage", s: "1x2", unit: "", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := flag.ParseSize(tt.s, tt.unit)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
