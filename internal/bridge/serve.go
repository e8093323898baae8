package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mesh-intelligence/xlbricks/pkg/types"
)

// Request is one line of the host protocol.
type Request struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Op      string          `json:"op"`
	Front   string          `json:"front,omitempty"`
	Path    string          `json:"path,omitempty"`
	Subpath []string        `json:"subpath,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`

	// Store options. Persist defaults to true.
	Persist *bool  `json:"persist,omitempty"`
	Force   bool   `json:"force,omitempty"`
	DType   string `json:"dtype,omitempty"`
	Crop    bool   `json:"crop,omitempty"`
	Headers string `json:"headers,omitempty"`
	Layout  string `json:"layout,omitempty"` // "", "grid", "list" or "nested"

	// Arguments of structural operations.
	To      string   `json:"to,omitempty"`      // move destination, rename key, alias or lookup target
	Sources []string `json:"sources,omitempty"` // merge sources
	Purge   bool     `json:"purge,omitempty"`
}

// Response is one line written back to the host.
type Response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	OK     bool            `json:"ok"`
	Ref    string          `json:"ref,omitempty"`
	Result any             `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody carries the taxonomy code of a failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Calm    bool   `json:"calm,omitempty"`
}

func failure(id json.RawMessage, err error) Response {
	return Response{
		ID: id,
		Error: &ErrorBody{
			Code:    types.Code(err),
			Message: err.Error(),
			Calm:    IsCalm(err),
		},
	}
}

// DefaultMaxLine bounds a single request line unless WithMaxLine says
// otherwise.
const DefaultMaxLine = 64 << 20

// WithMaxLine sets the longest request line Serve accepts, in bytes.
// Longer lines are answered with a BadRequest response.
func WithMaxLine(n int) Option {
	return func(b *Bridge) { b.maxLine = n }
}

// Serve reads requests from r, one JSON object per line, and writes one
// response line per request to w. Requests run one at a time in arrival
// order. A line that is too long or not a request gets a BadRequest
// response and the loop goes on. Serve returns when r is exhausted, when
// ctx is done, or when reading or writing fails.
func (b *Bridge) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	br := bufio.NewReaderSize(r, 64*1024)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	served := 0
	for {
		line, tooLong, err := readLine(br, b.maxLine)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading requests: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !tooLong && len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var resp Response
		if tooLong {
			b.log.Warn("request line too long", "limit", b.maxLine)
			resp = failure(nil, fmt.Errorf("%w: request line exceeds %d bytes", types.ErrBadRequest, b.maxLine))
		} else {
			var req Request
			if err := json.Unmarshal(line, &req); err != nil {
				resp = failure(nil, fmt.Errorf("%w: %v", types.ErrBadRequest, err))
			} else {
				resp = b.Handle(ctx, req)
			}
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
		served++
	}
	b.log.Debug("serve finished", "requests", served)
	return nil
}

// readLine returns the next line of br without its line ending. A line
// longer than limit bytes is read to its end and dropped; tooLong reports
// it. io.EOF is returned only when no line is left.
func readLine(br *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			line = append(line, chunk...)
			if len(bytes.TrimRight(line, "\r\n")) > limit {
				line, tooLong = nil, true
			}
		}
		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err == io.EOF:
			if len(line) == 0 && !tooLong {
				return nil, false, io.EOF
			}
		case err != nil:
			return nil, false, err
		}
		return bytes.TrimRight(line, "\r\n"), tooLong, nil
	}
}

// Handle runs a single request.
func (b *Bridge) Handle(ctx context.Context, req Request) Response {
	result, ref, err := b.Do(ctx, req)
	if err != nil {
		if !IsCalm(err) {
			b.log.Warn("request failed", "op", req.Op, "front", req.Front, "code", types.Code(err), "error", err)
		}
		return failure(req.ID, err)
	}
	b.log.Debug("request", "op", req.Op, "front", req.Front, "ref", ref)
	return Response{ID: req.ID, OK: true, Ref: ref, Result: result}
}

// Do runs req and returns its result, the front reference after a change,
// and the error unconverted. Handle wraps it for the line protocol; the
// command line calls it directly.
func (b *Bridge) Do(ctx context.Context, req Request) (any, string, error) {
	fromAck := func(a Ack, err error) (any, string, error) {
		if err != nil {
			return nil, "", err
		}
		return a, a.Ref, nil
	}

	switch req.Op {
	case "store":
		return fromAck(b.storeRequest(ctx, req))
	case "retrieve":
		n, err := b.Retrieve(ctx, req.Front, req.Path, req.Subpath...)
		if err != nil {
			return nil, "", err
		}
		return n, "", nil
	case "erase":
		return fromAck(b.Erase(ctx, req.Front, req.Path))
	case "undo":
		return fromAck(b.Undo(ctx, req.Front))
	case "redo":
		return fromAck(b.Redo(ctx, req.Front))
	case "keys":
		keys, err := b.Keys(ctx, req.Front, req.Path)
		if err != nil {
			return nil, "", err
		}
		if keys == nil {
			keys = []string{}
		}
		return keys, "", nil
	case "rename":
		return fromAck(b.Rename(ctx, req.Front, req.Path, req.To))
	case "move":
		return fromAck(b.Move(ctx, req.Front, req.Path, req.To, req.Force))
	case "merge":
		return fromAck(b.Merge(ctx, req.Front, req.Sources...))
	case "alias":
		return fromAck(b.Alias(ctx, req.Front, req.To))
	case "lookup":
		return fromAck(b.Lookup(ctx, req.Front, req.Path, req.To))
	case "fronts":
		fronts, err := b.Fronts(ctx)
		if err != nil {
			return nil, "", err
		}
		if fronts == nil {
			fronts = []FrontInfo{}
		}
		return fronts, "", nil
	case "remove":
		return nil, "", b.RemoveFront(ctx, req.Front, req.Purge)
	case "clear":
		return nil, "", b.Clear(ctx, req.Purge)
	case "dump":
		n, err := b.Dump(ctx)
		if err != nil {
			return nil, "", err
		}
		return n, "", nil
	case "":
		return nil, "", fmt.Errorf("%w: missing op", types.ErrBadRequest)
	}
	return nil, "", fmt.Errorf("%w: unknown op %q", types.ErrBadRequest, req.Op)
}

// StoreOptionsFrom reads the store options of a request.
func StoreOptionsFrom(req Request) (StoreOptions, error) {
	opts := DefaultStoreOptions()
	if req.Persist != nil {
		opts.Persist = *req.Persist
	}
	opts.Force = req.Force
	opts.Crop = req.Crop
	if req.DType != "" {
		dt, err := types.ParseDType(req.DType)
		if err != nil {
			return opts, fmt.Errorf("%w: %w", types.ErrBadRequest, err)
		}
		opts.DType = dt
	}
	h, err := ParseHeaderMode(req.Headers)
	if err != nil {
		return opts, err
	}
	opts.Headers = h
	return opts, nil
}

func (b *Bridge) storeRequest(ctx context.Context, req Request) (Ack, error) {
	opts, err := StoreOptionsFrom(req)
	if err != nil {
		return Ack{}, err
	}
	if len(req.Data) == 0 {
		return Ack{}, fmt.Errorf("%w: store needs data", types.ErrBadRequest)
	}
	if req.Layout == "nested" {
		var n types.Nested
		if err := n.UnmarshalJSON(req.Data); err != nil {
			return Ack{}, err
		}
		return b.StoreNested(ctx, req.Front, req.Path, &n, opts)
	}
	grid, err := types.GridFromJSON(req.Data)
	if err != nil {
		return Ack{}, err
	}
	switch req.Layout {
	case "":
		return b.Store(ctx, req.Front, req.Path, grid, opts)
	case "grid":
		return b.StoreGrid(ctx, req.Front, req.Path, grid, opts)
	case "list":
		return b.StoreList(ctx, req.Front, req.Path, grid, opts)
	}
	return Ack{}, fmt.Errorf("%w: unknown layout %q", types.ErrBadRequest, req.Layout)
}
