package aotcache

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/vmcore/exec/ir"
)

// Magic marks a file as an ahead-of-time artifact ("VMAT").
const Magic uint32 = 0x564D4154

// FormatVersion is the current on-disk format version. Files written by
// other versions load as misses, never as errors.
const FormatVersion uint32 = 1

// Artifact header: magic(4) version(4) start(8) digest(8) codeLen(4).
const headerSize = 28

func encodeArtifact(id ir.BlockID, code []byte) []byte {
	buf := make([]byte, headerSize+len(code))
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], FormatVersion)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(id.Start))
	binary.LittleEndian.PutUint64(buf[16:24], id.Digest)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(len(code)))
	copy(buf[headerSize:], code)
	return buf
}

// decodeArtifact validates the header against the identity the caller
// expects and returns the embedded code.
func decodeArtifact(id ir.BlockID, buf []byte) ([]byte, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("artifact truncated: %d bytes", len(buf))
	}
	if m := binary.LittleEndian.Uint32(buf[0:4]); m != Magic {
		return nil, fmt.Errorf("bad magic %#x", m)
	}
	if v := binary.LittleEndian.Uint32(buf[4:8]); v != FormatVersion {
		return nil, fmt.Errorf("format version %d, want %d", v, FormatVersion)
	}

	start := binary.LittleEndian.Uint64(buf[8:16])
	digest := binary.LittleEndian.Uint64(buf[16:24])
	if start != uint64(id.Start) || digest != id.Digest {
		return nil, fmt.Errorf(
			"identity mismatch: file %#x/%016x, want %#x/%016x",
			start, digest, id.Start, id.Digest)
	}

	codeLen := binary.LittleEndian.Uint32(buf[24:28])
	if int(codeLen) != len(buf)-headerSize {
		return nil, fmt.Errorf("code length %d, have %d bytes",
			codeLen, len(buf)-headerSize)
	}
	return buf[headerSize:], nil
}

func fileName(id ir.BlockID) string {
	return fmt.Sprintf("%016x-%016x.aot", uint64(id.Start), id.Digest)
}
