package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// MaxStdioMessageBytes caps one line read by ServeStdio.
const MaxStdioMessageBytes = 8 << 20

// ServeStdio answers newline-delimited JSON-RPC messages read from in and
// writes responses to out. It blocks until in is exhausted or ctx is
// cancelled.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxStdioMessageBytes)
	encoder := json.NewEncoder(out)

	s.log.Info().Msg("serving over stdio")
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal(line, &req); err != nil {
			resp := errorResponse(nil, ErrCodeParseError, "parse error")
			if err := encoder.Encode(resp); err != nil {
				return fmt.Errorf("failed to encode error response: %w", err)
			}
			continue
		}

		resp := s.HandleRequest(ctx, req)
		if req.IsNotification() {
			continue
		}
		if err := encoder.Encode(resp); err != nil {
			return fmt.Errorf("failed to encode response: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}
	return nil
}
