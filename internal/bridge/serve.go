package bridge

import (
	"errors"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Handler answers one request. Returning an error produces a failed response.
type Handler func(method string, params msgpack.RawMessage) (any, error)

// Serve answers requests read from r until EOF. It is the peer side of Conn
// and backs in-process fakes of the bridge daemon and worker.
func Serve(r io.Reader, w io.Writer, h Handler) error {
	for {
		var req Request
		if err := ReadFrame(r, &req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}

		resp := Response{ID: req.ID, OK: true}
		result, err := h(req.Method, req.Params)
		if err != nil {
			resp.OK = false
			resp.Error = err.Error()
		} else if result != nil {
			b, err := msgpack.Marshal(result)
			if err != nil {
				resp.OK = false
				resp.Error = err.Error()
			} else {
				resp.Result = b
			}
		}

		if err := WriteFrame(w, &resp); err != nil {
			return err
		}
	}
}
