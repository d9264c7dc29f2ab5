// Package protocol implements the length-prefixed frame exchange spoken
// over stdin and stdout: each request is a 4-byte little-endian length
// followed by that many bytes of compressed image, and each response is
// one JSON line.
package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Angelo-oinv/imx415-detector/models"
)

// MaxFrameSize caps a single request payload. A corrupt length prefix
// would otherwise turn into an attempt to allocate gigabytes.
const MaxFrameSize = 64 << 20

const readyLine = "READY\n"

// Handler processes one frame payload and returns the record to emit.
// A non-nil error stops the loop after the record has been written.
type Handler func(payload []byte) (*models.Result, error)

// Run writes the readiness line, then serves frames from in until the
// stream ends. Every complete frame produces exactly one JSON line on
// out, flushed immediately, in request order. A short read of either the
// length prefix or the payload means the peer is gone and ends the loop
// with a nil error. Oversized frames are skipped in full, keeping the
// stream in sync, and reported as error records.
func Run(in io.Reader, out io.Writer, handle Handler) error {
	bw := bufio.NewWriter(out)
	enc := json.NewEncoder(bw)

	if _, err := bw.WriteString(readyLine); err != nil {
		return fmt.Errorf("write readiness line: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush readiness line: %w", err)
	}

	br := bufio.NewReaderSize(in, 64<<10)
	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(br, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("read frame header: %w", err)
		}
		size := binary.LittleEndian.Uint32(header)

		if size > MaxFrameSize {
			if _, err := io.CopyN(io.Discard, br, int64(size)); err != nil {
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					return nil
				}
				return fmt.Errorf("skip oversized frame: %w", err)
			}
			oversize := models.ErrorResult(fmt.Errorf("frame of %d bytes exceeds %d byte limit", size, MaxFrameSize))
			if err := emit(enc, bw, oversize); err != nil {
				return err
			}
			continue
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(br, payload); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("read frame payload: %w", err)
		}

		record, handleErr := handle(payload)
		if err := emit(enc, bw, record); err != nil {
			return err
		}
		if handleErr != nil {
			return handleErr
		}
	}
}

func emit(enc *json.Encoder, bw *bufio.Writer, record *models.Result) error {
	if err := enc.Encode(record); err != nil {
		// Encode marshals the whole record before touching the writer,
		// so a value error leaves the stream clean and the frame is
		// still owed its line. Anything else means the peer is gone.
		var valErr *json.UnsupportedValueError
		if !errors.As(err, &valErr) {
			return fmt.Errorf("encode record: %w", err)
		}
		if err := enc.Encode(models.ErrorResult(valErr)); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush record: %w", err)
	}
	return nil
}
