package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialDecoder_RawAcrossReads(t *testing.T) {
	d := newSerialDecoder(FramingRaw)
	rec1 := encodeSerialRecord(FramingRaw, SerialSample{Steer: -300, Speed: 700})
	rec2 := encodeSerialRecord(FramingRaw, SerialSample{Steer: 1, Speed: -1})

	stream := append(append([]byte{}, rec1...), rec2...)

	got := d.Feed(stream[:3])
	assert.Empty(t, got)

	got = d.Feed(stream[3:6])
	require.Len(t, got, 1)
	assert.Equal(t, SerialSample{Steer: -300, Speed: 700}, got[0])

	got = d.Feed(stream[6:])
	require.Len(t, got, 1)
	assert.Equal(t, SerialSample{Steer: 1, Speed: -1}, got[0])
}

func TestSerialDecoder_FramedResyncsOnGarbage(t *testing.T) {
	d := newSerialDecoder(FramingFramed)
	good := encodeSerialRecord(FramingFramed, SerialSample{Steer: 250, Speed: -1000})

	stream := []byte{0x00, 0x13, 0x37}
	stream = append(stream, good...)

	got := d.Feed(stream)
	require.Len(t, got, 1)
	assert.Equal(t, SerialSample{Steer: 250, Speed: -1000}, got[0])
	assert.Equal(t, 3, d.Dropped)
}

func TestSerialDecoder_FramedRejectsBadChecksum(t *testing.T) {
	d := newSerialDecoder(FramingFramed)
	bad := encodeSerialRecord(FramingFramed, SerialSample{Steer: 10, Speed: 20})
	bad[6] ^= 0xFF
	good := encodeSerialRecord(FramingFramed, SerialSample{Steer: 30, Speed: 40})

	got := d.Feed(append(bad, good...))
	require.Len(t, got, 1)
	assert.Equal(t, SerialSample{Steer: 30, Speed: 40}, got[0])
	assert.Positive(t, d.Dropped)
}

func TestSerialChecksum(t *testing.T) {
	assert.Equal(t, uint16(0xABCD), serialChecksum(0, 0))
	assert.Equal(t, uint16(0xABCD^0x0001^0xFFFF), serialChecksum(1, -1))
}
