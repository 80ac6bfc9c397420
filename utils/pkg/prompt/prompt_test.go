package prompt

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("tty closed") }

func TestInsights_Prompt_Confirm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  bool
	}{
		{"yes\n", true},
		{"  YES \n", true},
		{"yes", true},
		{"y\n", false},
		{"no\n", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			ok, err := Confirm(strings.NewReader(tt.input), &out, "Delete 3 records?")
			require.NoError(t, err)
			require.Equal(t, tt.want, ok)
			require.Contains(t, out.String(), "Delete 3 records?\nType 'yes' to confirm: ")
		})
	}

	_, err := Confirm(failingReader{}, &bytes.Buffer{}, "")
	require.ErrorContains(t, err, "tty closed")
}
