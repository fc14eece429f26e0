package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hscHeric/kambo-hive-lib/pkg/types"
)

type loopback struct {
	bytes.Buffer
}

func TestConnWritesOneMessagePerLine(t *testing.T) {
	var buf loopback
	conn := NewConn(&buf)
	worker := uuid.New()

	require.NoError(t, conn.WriteRequest(NewRequestTask(worker)))
	require.NoError(t, conn.WriteRequest(NewHeartbeat(worker)))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"RequestTask"`)
	assert.Contains(t, lines[1], `"Heartbeat"`)
}

func TestConnRoundTrip(t *testing.T) {
	var buf loopback
	conn := NewConn(&buf)
	task := types.NewTask("g", 0, "cfg")

	require.NoError(t, conn.WriteResponse(NewAssignTask(task)))
	require.NoError(t, conn.WriteResponse(NewNoTaskAvailable()))
	require.NoError(t, conn.WriteResponse(NewAck()))

	resp, err := conn.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, AssignTask, resp.Kind)
	assert.Equal(t, task.ID, resp.Task.ID)

	resp, err = conn.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, NoTaskAvailable, resp.Kind)

	resp, err = conn.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, Ack, resp.Kind)

	_, err = conn.ReadResponse()
	assert.ErrorIs(t, err, io.EOF)
}

func TestConnUnterminatedFinalLine(t *testing.T) {
	buf := &loopback{}
	buf.WriteString(`"Ack"`)
	conn := NewConn(buf)

	resp, err := conn.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, Ack, resp.Kind)

	_, err = conn.ReadResponse()
	assert.ErrorIs(t, err, io.EOF)
}

func TestConnDecodeFailure(t *testing.T) {
	buf := &loopback{}
	buf.WriteString("{broken\n")
	conn := NewConn(buf)

	_, err := conn.ReadRequest()
	assert.ErrorIs(t, err, ErrDecode)
}

func TestConnLineTooLong(t *testing.T) {
	buf := &loopback{}
	buf.Write(bytes.Repeat([]byte("a"), MaxLineSize+2))
	buf.WriteByte('\n')
	conn := NewConn(buf)

	_, err := conn.ReadRequest()
	assert.ErrorIs(t, err, ErrLineTooLong)
}
