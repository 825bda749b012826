package zytemp

// The device obfuscates every report with a fixed block transform keyed by
// whatever the host sent as the feature report at session start.
//
// Reference:
// https://hackaday.io/project/5301-reverse-engineering-a-low-cost-usb-co-monitor

// FrameSize is the fixed size of every report exchanged with the device.
const FrameSize = 8

type Key [FrameSize]byte

type Frame [FrameSize]byte

// DefaultKey is sent to the device at session start and used to decrypt
// every report that follows.
var DefaultKey = Key{0xc4, 0xc6, 0xc0, 0x92, 0x40, 0x23, 0xdc, 0x96}

var shuffle = [FrameSize]int{2, 4, 0, 7, 1, 6, 5, 3}

// Nibble-swapped "Htemp99e".
var cstate = func() [FrameSize]byte {
	in := [FrameSize]byte{0x48, 0x74, 0x65, 0x6d, 0x70, 0x39, 0x39, 0x65}
	var out [FrameSize]byte
	for i, c := range in {
		out[i] = c>>4 | c<<4
	}
	return out
}()

// Decrypt recovers a plaintext frame from an obfuscated device report.
func Decrypt(key Key, in Frame) Frame {
	var shuffled Frame
	for i, o := range shuffle {
		shuffled[o] = in[i]
	}

	var xored Frame
	for i := range xored {
		xored[i] = shuffled[i] ^ key[i]
	}

	// Each byte takes its high 3 bits from the low bits of its left
	// neighbour, so xored must be complete before this pass.
	var shifted Frame
	for i := range shifted {
		shifted[i] = xored[i]>>3 | xored[(i-1+FrameSize)%FrameSize]<<5
	}

	var out Frame
	for i := range out {
		out[i] = shifted[i] - cstate[i]
	}
	return out
}

// Encrypt is the inverse of Decrypt: Decrypt(key, Encrypt(key, f)) == f.
func Encrypt(key Key, in Frame) Frame {
	var shifted Frame
	for i := range shifted {
		shifted[i] = in[i] + cstate[i]
	}

	var xored Frame
	for i := range xored {
		xored[i] = shifted[i]<<3 | shifted[(i+1)%FrameSize]>>5
	}

	var out Frame
	for i, o := range shuffle {
		out[i] = xored[o] ^ key[o]
	}
	return out
}
