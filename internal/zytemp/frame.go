package zytemp

import "fmt"

// plaintextMarker in byte 4 of a raw report means the device did not
// obfuscate it.
const plaintextMarker = 0x0d

// ChecksumError reports a frame whose byte 3 does not match the sum of
// bytes 0..2. The frame should be dropped; the session continues.
type ChecksumError struct {
	Frame Frame
	Got   byte
	Want  byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: got 0x%02X want 0x%02X (frame % x)", e.Got, e.Want, e.Frame[:])
}

// Plaintext reports whether a raw report was sent unobfuscated.
func (f Frame) Plaintext() bool {
	return f[4] == plaintextMarker
}

// Checksum returns the expected value of byte 3.
func Checksum(f Frame) byte {
	return f[0] + f[1] + f[2]
}

// Validate turns a raw device report into a checked plaintext frame.
func Validate(raw Frame, key Key) (Frame, error) {
	f := raw
	if !raw.Plaintext() {
		f = Decrypt(key, raw)
	}
	if want := Checksum(f); f[3] != want {
		return Frame{}, &ChecksumError{Frame: f, Got: f[3], Want: want}
	}
	return f, nil
}
