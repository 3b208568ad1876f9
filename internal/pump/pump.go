// Package pump copies bodies between the client and the tunnel without buffering them whole.
package pump

import (
	"errors"
	"io"
	"net/http"
	"sync"
)

// BufferSize is the chunk size bodies are relayed in.
const BufferSize = 32 * 1024

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, BufferSize)
		return &b
	},
}

// Copy relays src to dst chunk by chunk until src is exhausted or either side
// fails. When dst can flush, each chunk is flushed as soon as it is written so
// streamed responses reach the client promptly. It returns the bytes written.
func Copy(dst io.Writer, src io.Reader) (int64, error) {
	bp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bp)
	buf := *bp

	flusher, _ := dst.(http.Flusher)

	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			if nw < 0 || nr < nw {
				nw = 0
				if werr == nil {
					werr = errors.New("invalid write result")
				}
			}
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, nil
			}
			return written, rerr
		}
	}
}

// Result is the outcome of a background copy.
type Result struct {
	Bytes int64
	Err   error
}

// Stream is a body being pumped in the background. Reading from it yields the
// bytes of the source; Done reports how the source side ended.
type Stream struct {
	pr   *io.PipeReader
	done chan Result
}

// Start pumps src in its own goroutine into the returned Stream.
// The pump stops when src ends or fails, or when the Stream is closed.
func Start(src io.Reader) *Stream {
	pr, pw := io.Pipe()
	s := &Stream{pr: pr, done: make(chan Result, 1)}

	go func() {
		n, err := Copy(pw, src)
		if err != nil {
			_ = pw.CloseWithError(err)
		} else {
			_ = pw.Close()
		}
		s.done <- Result{Bytes: n, Err: err}
	}()

	return s
}

func (s *Stream) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

// Close stops the reader side. A pump blocked writing to the stream
// returns io.ErrClosedPipe; one blocked reading its source keeps waiting
// until the source is unblocked.
func (s *Stream) Close() error {
	return s.pr.Close()
}

// Done delivers the pump result exactly once.
func (s *Stream) Done() <-chan Result {
	return s.done
}
