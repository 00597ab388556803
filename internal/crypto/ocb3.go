package crypto

import (
	"crypto/cipher"
	"crypto/subtle"
	"errors"
)

// ocbBlock implements AES-128-OCB3 (RFC 7253) with a full 128-bit tag, the
// AEAD mode mosh's wire protocol is built on. No library in the Go
// ecosystem implements OCB3 — it shares OCB's patent history, which kept
// it out of crypto/cipher and every AEAD package in the examined corpus
// (the teacher uses ChaCha20-Poly1305 instead). This is a from-scratch
// implementation against the RFC, the same way the reference mosh
// implementations hand-roll their own OCB3 rather than depending on one.
type ocbBlock struct {
	cipher  cipher.Block
	lStar   [16]byte
	lDollar [16]byte
	l       [][16]byte
}

const ocbPrecomputedL = 64

func newOCBBlock(block cipher.Block) ocbBlock {
	var zero [16]byte
	var lStar [16]byte
	block.Encrypt(lStar[:], zero[:])
	lDollar := gfDouble(lStar)

	l := make([][16]byte, ocbPrecomputedL)
	l[0] = gfDouble(lDollar)
	for i := 1; i < ocbPrecomputedL; i++ {
		l[i] = gfDouble(l[i-1])
	}
	return ocbBlock{cipher: block, lStar: lStar, lDollar: lDollar, l: l}
}

func (o *ocbBlock) lookupL(i int) [16]byte {
	if i < len(o.l) {
		return o.l[i]
	}
	cur := o.l[len(o.l)-1]
	for k := len(o.l); k <= i; k++ {
		cur = gfDouble(cur)
	}
	return cur
}

// initOffset computes Offset_0 from a (here, always 12-byte) nonce per
// RFC 7253 §4, specialized for a full 128-bit tag: the nonce block is
// 0x00 0x00 0x00 0x01 || N, bottom is its low 6 bits, Ktop is the cipher
// block of the nonce with those 6 bits cleared, and Offset_0 is the top
// 128 bits of (Ktop || Ktop[0:8]^Ktop[1:9]) shifted left by bottom bits.
func (o *ocbBlock) initOffset(nonce [NonceSize]byte) [16]byte {
	var nonceBlock [16]byte
	nonceBlock[3] = 0x01
	copy(nonceBlock[4:], nonce[:])

	bottom := nonceBlock[15] & 0x3F

	ktopInput := nonceBlock
	ktopInput[15] &= 0xC0

	var ktop [16]byte
	o.cipher.Encrypt(ktop[:], ktopInput[:])

	stretch := make([]byte, 24)
	copy(stretch[:16], ktop[:])
	for i := 0; i < 8; i++ {
		stretch[16+i] = ktop[i] ^ ktop[i+1]
	}

	shifted := shiftLeft(stretch, int(bottom))
	var offset0 [16]byte
	copy(offset0[:], shifted[:16])
	return offset0
}

// seal encrypts plaintext under nonce/aad into a newly allocated slice and
// appends a 16-byte tag; plaintext itself is left unchanged.
func (o *ocbBlock) seal(nonce [NonceSize]byte, plaintext, aad []byte) ([]byte, error) {
	offset := o.initOffset(nonce)
	var checksum [16]byte

	full := len(plaintext) / 16
	rem := len(plaintext) % 16

	ciphertext := make([]byte, len(plaintext)+TagSize)

	for i := 1; i <= full; i++ {
		offset = xorBlock(offset, o.lookupL(ntz(i)))

		var pBlock, tmp, cBlock [16]byte
		copy(pBlock[:], plaintext[(i-1)*16:i*16])
		tmp = xorBlock(pBlock, offset)
		o.cipher.Encrypt(cBlock[:], tmp[:])
		cBlock = xorBlock(cBlock, offset)

		copy(ciphertext[(i-1)*16:i*16], cBlock[:])
		checksum = xorBlock(checksum, pBlock)
	}

	if rem > 0 {
		offsetStar := xorBlock(offset, o.lStar)
		var pad [16]byte
		o.cipher.Encrypt(pad[:], offsetStar[:])

		var pStar [16]byte
		copy(pStar[:], plaintext[full*16:])
		for i := 0; i < rem; i++ {
			ciphertext[full*16+i] = pStar[i] ^ pad[i]
		}

		pStar[rem] = 0x80
		checksum = xorBlock(checksum, pStar)
		offset = offsetStar
	}

	tagInput := xorBlock(xorBlock(checksum, offset), o.lDollar)
	var tag [16]byte
	o.cipher.Encrypt(tag[:], tagInput[:])
	tag = xorBlock(tag, o.hash(aad))

	copy(ciphertext[len(plaintext):], tag[:])
	return ciphertext, nil
}

// open verifies and decrypts a ciphertext produced by seal, returning an
// error if the trailing tag does not match.
func (o *ocbBlock) open(nonce [NonceSize]byte, ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < TagSize {
		return nil, errors.New("crypto: ciphertext shorter than tag")
	}
	tagGot := ciphertext[len(ciphertext)-TagSize:]
	body := ciphertext[:len(ciphertext)-TagSize]

	offset := o.initOffset(nonce)
	var checksum [16]byte

	full := len(body) / 16
	rem := len(body) % 16

	plaintext := make([]byte, len(body))

	for i := 1; i <= full; i++ {
		offset = xorBlock(offset, o.lookupL(ntz(i)))

		var cBlock, tmp, pBlock [16]byte
		copy(cBlock[:], body[(i-1)*16:i*16])
		tmp = xorBlock(cBlock, offset)
		o.cipher.Decrypt(pBlock[:], tmp[:])
		pBlock = xorBlock(pBlock, offset)

		copy(plaintext[(i-1)*16:i*16], pBlock[:])
		checksum = xorBlock(checksum, pBlock)
	}

	if rem > 0 {
		offsetStar := xorBlock(offset, o.lStar)
		var pad [16]byte
		o.cipher.Encrypt(pad[:], offsetStar[:])

		var pStar [16]byte
		for i := 0; i < rem; i++ {
			pStar[i] = body[full*16+i] ^ pad[i]
		}
		copy(plaintext[full*16:], pStar[:rem])

		pStar[rem] = 0x80
		checksum = xorBlock(checksum, pStar)
		offset = offsetStar
	}

	tagInput := xorBlock(xorBlock(checksum, offset), o.lDollar)
	var tagCalc [16]byte
	o.cipher.Encrypt(tagCalc[:], tagInput[:])
	tagCalc = xorBlock(tagCalc, o.hash(aad))

	if subtle.ConstantTimeCompare(tagCalc[:], tagGot) != 1 {
		return nil, errors.New("crypto: tag mismatch")
	}
	return plaintext, nil
}

// hash implements OCB3's HASH(K, A) over associated data. Unused with the
// empty AAD this carrier always passes (HASH of the empty string is the
// all-zero block) but kept general rather than special-cased, matching a
// real AEAD implementation's shape.
func (o *ocbBlock) hash(aad []byte) [16]byte {
	var sum, offset [16]byte

	full := len(aad) / 16
	rem := len(aad) % 16

	for i := 1; i <= full; i++ {
		offset = xorBlock(offset, o.lookupL(ntz(i)))
		var aBlock, tmp, enc [16]byte
		copy(aBlock[:], aad[(i-1)*16:i*16])
		tmp = xorBlock(aBlock, offset)
		o.cipher.Encrypt(enc[:], tmp[:])
		sum = xorBlock(sum, enc)
	}

	if rem > 0 {
		offsetStar := xorBlock(offset, o.lStar)
		var aStar [16]byte
		copy(aStar[:], aad[full*16:])
		aStar[rem] = 0x80
		tmp := xorBlock(aStar, offsetStar)
		var enc [16]byte
		o.cipher.Encrypt(enc[:], tmp[:])
		sum = xorBlock(sum, enc)
	}

	return sum
}

// gfDouble doubles a 128-bit string in GF(2^128) under the OCB/PMAC
// reduction polynomial x^128 + x^7 + x^2 + x + 1.
func gfDouble(b [16]byte) [16]byte {
	var out [16]byte
	msb := b[0] & 0x80
	for i := 0; i < 15; i++ {
		out[i] = (b[i] << 1) | (b[i+1] >> 7)
	}
	out[15] = b[15] << 1
	if msb != 0 {
		out[15] ^= 0x87
	}
	return out
}

func xorBlock(a, b [16]byte) [16]byte {
	var out [16]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// ntz returns the number of trailing zero bits of n, used to select
// L_{ntz(i)} for the i-th block offset.
func ntz(n int) int {
	if n == 0 {
		return 0
	}
	count := 0
	for n&1 == 0 {
		n >>= 1
		count++
	}
	return count
}

// shiftLeft shifts a big-endian bit string left by bits, zero-filling from
// the right, preserving the input length.
func shiftLeft(b []byte, bits int) []byte {
	n := len(b)
	out := make([]byte, n)
	byteShift := bits / 8
	bitShift := uint(bits % 8)

	for i := 0; i < n; i++ {
		srcIdx := i + byteShift
		var cur, next byte
		if srcIdx < n {
			cur = b[srcIdx]
		}
		if srcIdx+1 < n {
			next = b[srcIdx+1]
		}
		if bitShift == 0 {
			out[i] = cur
		} else {
			out[i] = (cur << bitShift) | (next >> (8 - bitShift))
		}
	}
	return out
}
