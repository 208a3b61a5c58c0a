package docker

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDecodeBuildStream_Success verifies stream text is both captured and
// forwarded, and that the image ID is taken from the aux message.
func TestDecodeBuildStream_Success(t *testing.T) {
	stream := strings.Join([]string{
		`{"stream":"Step 1/9 : FROM debian:bookworm-slim\n"}`,
		`{"status":"Pulling fs layer","id":"a1b2c3"}`,
		`{"stream":" ---> 5d1f2c\n"}`,
		`{"aux":{"ID":"sha256:deadbeef"}}`,
		`{"stream":"Successfully tagged asiaq:latest\n"}`,
	}, "\n")

	var live bytes.Buffer
	id, captured, err := decodeBuildStream(strings.NewReader(stream), &live)

	require.NoError(t, err)
	assert.Equal(t, "sha256:deadbeef", id)
	assert.Contains(t, captured, "Step 1/9 : FROM debian:bookworm-slim")
	assert.Contains(t, captured, "a1b2c3: Pulling fs layer")
	assert.Contains(t, captured, "Successfully tagged asiaq:latest")
	assert.Equal(t, captured, live.String(), "live output should mirror the capture")
}

// TestDecodeBuildStream_Error verifies a daemon error stops decoding and
// the log up to and including the error is captured.
func TestDecodeBuildStream_Error(t *testing.T) {
	stream := strings.Join([]string{
		`{"stream":"Step 4/9 : RUN python-build 9.9.9 /opt/python\n"}`,
		`{"stream":"python-build: definition not found: 9.9.9\n"}`,
		`{"errorDetail":{"code":1,"message":"The command '/bin/sh -c python-build' returned a non-zero code: 2"},"error":"The command '/bin/sh -c python-build' returned a non-zero code: 2"}`,
		`{"stream":"never reached\n"}`,
	}, "\n")

	_, captured, err := decodeBuildStream(strings.NewReader(stream), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned a non-zero code: 2")
	assert.Contains(t, captured, "definition not found: 9.9.9")
	assert.Contains(t, captured, "returned a non-zero code: 2")
	assert.NotContains(t, captured, "never reached")
}

// TestDecodeBuildStream_Malformed treats garbage from the daemon as failure.
func TestDecodeBuildStream_Malformed(t *testing.T) {
	stream := `{"stream":"Step 1/9\n"}` + "\n" + `{"stream":`

	_, captured, err := decodeBuildStream(strings.NewReader(stream), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed build output")
	assert.Contains(t, captured, "Step 1/9")
}

func TestDecodeBuildStream_Empty(t *testing.T) {
	id, captured, err := decodeBuildStream(strings.NewReader(""), nil)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Empty(t, captured)
}
