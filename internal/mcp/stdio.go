// ABOUTME: Line-delimited stdio transport: one JSON-RPC request per input line.
// ABOUTME: Strictly sequential; each response is written and flushed before the next read.

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ServeStdio reads requests from in until end of input and writes responses
// to out. Blank lines are skipped. A line that does not decode is answered
// with a parse error that carries no id.
func ServeStdio(ctx context.Context, d *Dispatcher, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	writer := bufio.NewWriter(out)

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("read request: %w", readErr)
		}

		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var resp *Response
			req, err := DecodeRequest(trimmed)
			if err != nil {
				d.logger.Debug("stdio parse error", "error", err)
				resp = NewErrorResponse(nil, JSONRPCParseError, "Parse error: "+err.Error())
			} else {
				resp = d.Handle(ctx, req)
			}

			if resp != nil {
				if err := writeLine(writer, resp); err != nil {
					return err
				}
			}
		}

		if errors.Is(readErr, io.EOF) {
			return nil
		}
	}
}

func writeLine(w *bufio.Writer, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush response: %w", err)
	}
	return nil
}
