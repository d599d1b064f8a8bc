package entry

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/cockroachdb/errors"
)

// Frame layout: [type:1][seq:8][time:8][len:4][payload][crc:4]. The CRC
// covers header and payload.
const (
	headerSize = 21
	crcSize    = 4

	// maxPayload bounds a single record so a corrupt length cannot
	// trigger a huge allocation.
	maxPayload = 16 << 20
)

var (
	ErrCorrupt       = errors.New("journal frame checksum mismatch")
	ErrTorn          = errors.New("journal frame truncated")
	ErrNonMonotonic  = errors.New("journal sequence not increasing")
	ErrPayloadTooBig = errors.New("journal payload too large")
	// ErrBroken is returned once a failed append could not be cut back off
	// the active segment. The journal refuses further appends.
	ErrBroken = errors.New("journal segment left with a partial frame")
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func checksum(b []byte) uint32 { return crc32.Checksum(b, castagnoli) }

func encodeFrame(r *Record) []byte {
	n := len(r.Data)
	buf := make([]byte, headerSize+n+crcSize)
	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[17:21], uint32(n))
	copy(buf[headerSize:], r.Data)
	binary.BigEndian.PutUint32(buf[headerSize+n:], checksum(buf[:headerSize+n]))
	return buf
}

// readFrame returns io.EOF at a clean frame boundary and ErrTorn when the
// stream ends inside a frame.
func readFrame(r *bufio.Reader) (*Record, int, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		return nil, 0, torn(err)
	}
	n := binary.BigEndian.Uint32(header[17:21])
	if n > maxPayload {
		return nil, 0, errors.Wrapf(ErrCorrupt, "payload length %d", n)
	}
	body := make([]byte, int(n)+crcSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, 0, torn(err)
	}
	sum := binary.BigEndian.Uint32(body[n:])
	if checksum(append(header, body[:n]...)) != sum {
		return nil, 0, ErrCorrupt
	}
	return &Record{
		Type: RecordType(header[0]),
		Seq:  binary.BigEndian.Uint64(header[1:9]),
		Time: int64(binary.BigEndian.Uint64(header[9:17])),
		Data: body[:n],
	}, headerSize + int(n) + crcSize, nil
}

func torn(err error) error {
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return ErrTorn
	}
	return err
}
