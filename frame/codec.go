package frame

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/grailbio/base/errors"
	"github.com/spaolacci/murmur3"
)

// checksumLen is the width, in bytes, of the murmur3-32 checksum that
// prefixes every encoded frame.
const checksumLen = 4

// Encode gob-encodes v (one of the frame types in this package) and
// prepends a murmur3 checksum of the encoded bytes. The result is
// ready to hand to a Transport's send as the message body.
func Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(make([]byte, checksumLen))
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.E(errors.Fatal, err, "frame: encode")
	}
	b := buf.Bytes()
	sum := murmur3.Sum32(b[checksumLen:])
	binary.BigEndian.PutUint32(b[:checksumLen], sum)
	return b, nil
}

// Decode verifies the checksum prepended by Encode and gob-decodes the
// remainder into v, which must be a pointer to one of the frame types
// in this package. A checksum mismatch is reported as an
// errors.Integrity error, a fatal protocol violation (spec.md §7):
// the frame is corrupt or the
// category tag it arrived under does not match its actual contents.
func Decode(b []byte, v interface{}) error {
	if len(b) < checksumLen {
		return errors.E(errors.Fatal, "frame: decode: message too short for checksum")
	}
	want := binary.BigEndian.Uint32(b[:checksumLen])
	got := murmur3.Sum32(b[checksumLen:])
	if want != got {
		return errors.E(errors.Integrity, "frame: decode: checksum mismatch (corrupt frame or mislabeled category)")
	}
	if err := gob.NewDecoder(bytes.NewReader(b[checksumLen:])).Decode(v); err != nil {
		return errors.E(errors.Fatal, err, "frame: decode")
	}
	return nil
}
