package gateway

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// maxBodyBytes bounds how much of an upstream response is read.
const maxBodyBytes = 16 << 20

// decodeError is a body the upstream sent in full but that cannot be
// decoded with its declared Content-Encoding.
type decodeError struct {
	encoding string
	err      error
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("decode %s body: %v", e.encoding, e.err)
}

func (e *decodeError) Unwrap() error {
	return e.err
}

// connReader remembers the last error returned by the connection so read
// failures can be told apart from decoding failures.
type connReader struct {
	r   io.Reader
	err error
}

func (c *connReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		c.err = err
	}
	return n, err
}

// readBody reads the whole response body, undoing any Content-Encoding the
// upstream applied. Failures to read from the connection are returned as is;
// failures to decode are *decodeError.
func readBody(resp *http.Response) ([]byte, error) {
	conn := &connReader{r: resp.Body}
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))

	reader, err := decompressReader(encoding, conn)
	if err != nil {
		return nil, bodyError(conn, encoding, err)
	}

	if gzipReader, ok := reader.(*gzip.Reader); ok {
		defer gzipReader.Close()
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBodyBytes))
	if err != nil {
		return nil, bodyError(conn, encoding, err)
	}

	return body, nil
}

func bodyError(conn *connReader, encoding string, err error) error {
	if conn.err != nil {
		return err
	}
	return &decodeError{encoding: encoding, err: err}
}

func decompressReader(encoding string, body io.Reader) (io.Reader, error) {
	switch encoding {
	case "gzip":
		gzipReader, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gzipReader, nil
	case "br":
		return brotli.NewReader(body), nil
	default:
		return body, nil
	}
}
