package intercept

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExternalEditor(t *testing.T) {
	if _, err := exec.LookPath("sed"); err != nil {
		t.Skip("sed not available")
	}
	e := &ExternalEditor{Command: `sed -i "s/bobo/momo/"`}
	out, err := e.Edit(context.Background(), []byte("GET /bobo HTTP/1.1\nHost: example.com\n\n"))
	require.NoError(t, err)
	assert.Equal(t, "GET /momo HTTP/1.1\nHost: example.com\n\n", string(out))
}

func TestExternalEditorFailure(t *testing.T) {
	e := &ExternalEditor{Command: "false"}
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false not available")
	}
	_, err := e.Edit(context.Background(), []byte("x"))
	assert.Error(t, err)

	_, err = (&ExternalEditor{}).Edit(context.Background(), []byte("x"))
	assert.Error(t, err)
}
