package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// MaxLineSize bounds a single message. A larger line is a protocol error.
const MaxLineSize = 16 << 20

// ErrLineTooLong is returned when a line exceeds MaxLineSize.
var ErrLineTooLong = errors.New("protocol: line too long")

// Conn frames messages over a byte stream. It is not safe for concurrent
// use; each side alternates one write and one read.
type Conn struct {
	r *bufio.Reader
	w *bufio.Writer
}

// NewConn wraps rw with line buffering.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{
		r: bufio.NewReader(rw),
		w: bufio.NewWriter(rw),
	}
}

// ReadRequest reads one request line. It returns io.EOF when the peer
// closed the stream between messages.
func (c *Conn) ReadRequest() (Request, error) {
	var req Request
	line, err := c.readLine()
	if err != nil {
		return req, err
	}
	if err := req.UnmarshalJSON(line); err != nil {
		return req, err
	}
	return req, nil
}

// ReadResponse reads one response line.
func (c *Conn) ReadResponse() (Response, error) {
	var resp Response
	line, err := c.readLine()
	if err != nil {
		return resp, err
	}
	if err := resp.UnmarshalJSON(line); err != nil {
		return resp, err
	}
	return resp, nil
}

// WriteRequest writes req followed by a newline and flushes.
func (c *Conn) WriteRequest(req Request) error {
	data, err := req.MarshalJSON()
	if err != nil {
		return err
	}
	return c.writeLine(data)
}

// WriteResponse writes resp followed by a newline and flushes.
func (c *Conn) WriteResponse(resp Response) error {
	data, err := resp.MarshalJSON()
	if err != nil {
		return err
	}
	return c.writeLine(data)
}

func (c *Conn) writeLine(data []byte) error {
	if bytes.IndexByte(data, '\n') >= 0 {
		return fmt.Errorf("protocol: encoded message contains a newline")
	}
	if _, err := c.w.Write(data); err != nil {
		return err
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return err
	}
	return c.w.Flush()
}

// readLine returns one line without its terminator. A final unterminated
// line is returned as is; the following call reports io.EOF.
func (c *Conn) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := c.r.ReadSlice('\n')
		if len(line)+len(chunk) > MaxLineSize+1 {
			return nil, ErrLineTooLong
		}
		line = append(line, chunk...)

		switch {
		case err == nil:
			return bytes.TrimRight(line, "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(bytes.TrimSpace(line)) == 0 {
				return nil, io.EOF
			}
			return line, nil
		default:
			return nil, err
		}
	}
}
