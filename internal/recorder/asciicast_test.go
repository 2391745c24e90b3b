package recorder

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderWritesHeaderAndEvents(t *testing.T) {
	var buf bytes.Buffer
	r, err := New(&buf, 80, 30)
	require.NoError(t, err)

	require.NoError(t, r.Input([]byte("echo hi\n")))
	require.NoError(t, r.Output([]byte("\x1b[32mhi\x1b[0m\r\n")))
	require.NoError(t, r.Close())
	require.NoError(t, r.Output([]byte("ignored")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var header Header
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &header))
	assert.Equal(t, 2, header.Version)
	assert.Equal(t, 80, header.Width)
	assert.Equal(t, 30, header.Height)

	var in, out Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &in))
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &out))
	assert.Equal(t, "i", in.Kind)
	assert.Equal(t, "echo hi\n", in.Data)
	assert.Equal(t, "o", out.Kind)
	assert.Equal(t, "\x1b[32mhi\x1b[0m\r\n", out.Data)
	assert.GreaterOrEqual(t, out.Offset, in.Offset)
}

func TestCreateWritesFile(t *testing.T) {
	dir := t.TempDir()
	r, err := Create(dir, "abc", 120, 40)
	require.NoError(t, err)
	require.NoError(t, r.Output([]byte("data")))
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	f, err := os.Open(Path(dir, "abc"))
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		count++
	}
	assert.Equal(t, 2, count)
}

func TestEventUnmarshalRejectsBadShape(t *testing.T) {
	var e Event
	assert.Error(t, json.Unmarshal([]byte(`[1.0, "o"]`), &e))
	assert.Error(t, json.Unmarshal([]byte(`["x", "o", "d"]`), &e))
	assert.Error(t, json.Unmarshal([]byte(`{}`), &e))
}
