package mrl

// COBS (Consistent Overhead Byte Stuffing) framing with an optional
// trailing CRC8, as used on the DATA_READ/DATA_WRITE characteristics.
// Wire shape: 0x00 <cobs-encoded payload + crc8> 0x00.

const (
	frameChar              byte = 0x00
	cobsMaxDataBytes            = 63  // 2^6 - 1
	cobsFrameByteCountLSB       = 64  // 2^6
	cobsMaxCompressedBytes      = 192 // 255 - 63
	cobsMaxBuffer               = 382
)

// cobsDecoder is a stateful byte-by-byte COBS decoder with CRC8
// verification, fed one notification byte at a time.
type cobsDecoder struct {
	useCRC     bool
	minPayload int
	buf        [cobsMaxBuffer]byte
	dst        int
	code       int
}

// newCOBSDecoder returns a decoder. When useCRC is true, the trailing byte
// of every decoded frame is checked against crc8 of the remaining payload
// and stripped before the frame is returned.
func newCOBSDecoder(useCRC bool) *cobsDecoder {
	d := &cobsDecoder{useCRC: useCRC}
	if useCRC {
		d.minPayload = 1
	}
	return d
}

// reset clears decoder state without altering the useCRC configuration.
// A reset mid-frame is always safe: the decoder never desynchronizes on
// arbitrary garbage because every framing violation resets it.
func (d *cobsDecoder) reset() {
	d.dst = 0
	d.code = 0
}

// decodeByte processes a single incoming byte. It returns (frame, true)
// when b completes a frame, or (nil, false) otherwise. The returned slice
// is a fresh copy safe to retain past the next call.
func (d *cobsDecoder) decodeByte(b byte) ([]byte, bool) {
	if b == frameChar {
		if d.code != 0 {
			d.reset()
			return nil, false
		}
		if d.dst <= d.minPayload {
			d.reset()
			return nil, false
		}

		n := d.dst
		if d.useCRC {
			receivedCRC := d.buf[n-1]
			n--
			if crc8(d.buf[:n], defaultCRC8Init) != receivedCRC {
				d.reset()
				return nil, false
			}
		}

		out := make([]byte, n)
		copy(out, d.buf[:n])
		d.reset()
		return out, true
	}

	if d.code <= 0 {
		d.code = int(b)
	} else {
		d.code--
		if d.dst < cobsMaxBuffer {
			d.buf[d.dst] = b
			d.dst++
		}
	}

	// A code block that's a multiple of 64 means an implicit run of zeros
	// was compressed on the wire; expand it back out.
	if d.code&cobsMaxDataBytes == 0 {
		for d.code > 0 {
			if d.dst < cobsMaxBuffer {
				d.buf[d.dst] = frameChar
				d.dst++
			}
			d.code -= cobsFrameByteCountLSB
		}
	}

	return nil, false
}

// cobsEncode COBS-encodes data into a wire-ready byte string. When
// prependStart is true a leading 0x00 is emitted so the decoder can
// resynchronize after garbage. When useCRC is true, a CRC8 over data is
// appended as a virtual final source byte before framing.
func cobsEncode(data []byte, prependStart, useCRC bool) []byte {
	out := make([]byte, 0, cobsMaxBuffer)

	if prependStart {
		out = append(out, frameChar)
	}

	if len(data) == 0 {
		return append(out, frameChar)
	}

	srcLen := len(data)
	total := srcLen
	if useCRC {
		total++
	}
	crcVal := defaultCRC8Init
	srcIdx := 0

	for srcIdx < total {
		codeIdx := len(out)
		out = append(out, 0xFF) // placeholder, patched below
		code := 0

		for srcIdx < total {
			var bval byte
			if srcIdx < srcLen {
				bval = data[srcIdx]
				if bval == frameChar {
					break
				}
				crcVal = crc8Update(crcVal, bval)
			} else {
				bval = crcVal
				if bval == frameChar {
					break
				}
			}

			srcIdx++
			out = append(out, bval)
			code++

			if code >= cobsMaxDataBytes {
				break
			}
		}

		for srcIdx < total {
			var bval byte
			if srcIdx < srcLen {
				bval = data[srcIdx]
			} else {
				bval = crcVal
			}
			if bval != frameChar {
				break
			}
			if srcIdx < srcLen {
				crcVal = crc8Update(crcVal, frameChar)
			}
			srcIdx++
			code += cobsFrameByteCountLSB
			if code >= cobsMaxCompressedBytes {
				break
			}
		}

		out[codeIdx] = byte(code)
	}

	out = append(out, frameChar)
	return out
}
