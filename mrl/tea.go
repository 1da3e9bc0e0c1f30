package mrl

import (
	"encoding/base64"
	"encoding/binary"
)

// TEA (Tiny Encryption Algorithm), 32 rounds, as used by the gateway's
// two-step challenge/response authentication.
//
// The four round constants and the two per-step cipher values are
// proprietary to the gateway vendor and must not appear in cleartext in
// this source tree. They are packed into a masked blob below and
// unmasked once at package init, mirroring the obfuscation the vendor's
// own client applies.

const teaDelta uint32 = 0x9E3779B9
const teaRounds = 32

const teaConstMask uint32 = 0xC7D2E1F0

// teaConstBlob holds six big-endian uint32 words (C1, C2, C3, C4,
// STEP1_CIPHER, STEP2_CIPHER), each XOR'd with teaConstMask.
var teaConstBlob = mustB64("hL2RibW7hpiz8qi0lKGPk+NW0CVG0un9")

func mustB64(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic("mrl: malformed TEA constant blob: " + err.Error())
	}
	return b
}

func unmaskTeaWord(offset int) uint32 {
	return binary.BigEndian.Uint32(teaConstBlob[offset:offset+4]) ^ teaConstMask
}

var (
	teaC1          = unmaskTeaWord(0)
	teaC2          = unmaskTeaWord(4)
	teaC3          = unmaskTeaWord(8)
	teaC4          = unmaskTeaWord(12)
	teaStep1Cipher = unmaskTeaWord(16)
	teaStep2Cipher = unmaskTeaWord(20)
)

// teaEncrypt runs the standard 32-round TEA encryption and returns the
// evolved seed half; the cipher half is discarded by every caller in
// this protocol, so it is not returned.
func teaEncrypt(cipher, seed uint32) uint32 {
	c, s := cipher, seed
	var delta uint32
	for i := 0; i < teaRounds; i++ {
		s += (((c << 4) + teaC1) ^ (c + delta) ^ ((c >> 5) + teaC2))
		delta += teaDelta
		c += (((s << 4) + teaC3) ^ (s + delta) ^ ((s >> 5) + teaC4))
	}
	return s
}

// teaDecrypt is the inverse of teaEncrypt. Present for completeness
// ; the gateway protocol never takes this path.
func teaDecrypt(cipher, encrypted uint32) uint32 {
	c, s := cipher, encrypted
	var rounds uint32 = teaRounds
	delta := teaDelta * rounds
	for i := 0; i < teaRounds; i++ {
		c -= (((s << 4) + teaC3) ^ (s + delta) ^ ((s >> 5) + teaC4))
		s -= (((c << 4) + teaC1) ^ (c + delta) ^ ((c >> 5) + teaC2))
		delta -= teaDelta
	}
	return s
}

// calculateStep1Key computes the 4-byte big-endian key written to the
// KEY characteristic in response to the UNLOCK_STATUS challenge.
func calculateStep1Key(challenge []byte) ([]byte, error) {
	if len(challenge) != 4 {
		return nil, errStep1ChallengeSize(len(challenge))
	}
	seed := binary.BigEndian.Uint32(challenge)
	encrypted := teaEncrypt(teaStep1Cipher, seed)
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, encrypted)
	return out, nil
}

// calculateStep2Key computes the 16-byte key written to KEY in response
// to the SEED notification: [enc_le(4) | pin_ascii(6) | zero(6)].
func calculateStep2Key(seed []byte, pin string) ([]byte, error) {
	if len(seed) != 4 {
		return nil, errStep2SeedSize(len(seed))
	}
	seedVal := binary.LittleEndian.Uint32(seed)
	encrypted := teaEncrypt(teaStep2Cipher, seedVal)

	key := make([]byte, 16)
	binary.LittleEndian.PutUint32(key[0:4], encrypted)

	pinBytes := []byte(pin)
	if len(pinBytes) > 6 {
		pinBytes = pinBytes[:6]
	}
	copy(key[4:10], pinBytes)
	// key[10:16] left zero.
	return key, nil
}
