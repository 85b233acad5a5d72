package ihex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	recData0   = ":0400000001020304F2"
	recData4   = ":02000400AABB95"
	recData8   = ":0100080055A2"
	recEOF     = ":00000001FF"
	recExtLin  = ":020000040800F2"
	recData30  = ":0300300002337A1E"
	recStartLA = ":0400000508000000EF"
)

func TestParseReader(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      []*Segment
		wantStart uint32
		wantErr   bool
		errMsg    string
	}{
		{
			name:  "single data record",
			input: recData0 + "\n" + recEOF + "\n",
			want: []*Segment{
				{Address: 0, Data: []byte{0x01, 0x02, 0x03, 0x04}},
			},
		},
		{
			name:  "adjacent records are merged",
			input: recData0 + "\n" + recData4 + "\n" + recEOF + "\n",
			want: []*Segment{
				{Address: 0, Data: []byte{0x01, 0x02, 0x03, 0x04, 0xAA, 0xBB}},
			},
		},
		{
			name:  "gap keeps separate segments",
			input: recData0 + "\n" + recData8 + "\n" + recEOF + "\n",
			want: []*Segment{
				{Address: 0, Data: []byte{0x01, 0x02, 0x03, 0x04}},
				{Address: 8, Data: []byte{0x55}},
			},
		},
		{
			name:  "out of order records are sorted",
			input: recData4 + "\n" + recData0 + "\n" + recEOF + "\n",
			want: []*Segment{
				{Address: 0, Data: []byte{0x01, 0x02, 0x03, 0x04, 0xAA, 0xBB}},
			},
		},
		{
			name:  "extended linear address",
			input: recExtLin + "\n" + recData30 + "\n" + recEOF + "\n",
			want: []*Segment{
				{Address: 0x08000030, Data: []byte{0x02, 0x33, 0x7A}},
			},
		},
		{
			name:      "start linear address",
			input:     recData0 + "\n" + recStartLA + "\n" + recEOF + "\n",
			want:      []*Segment{{Address: 0, Data: []byte{0x01, 0x02, 0x03, 0x04}}},
			wantStart: 0x08000000,
		},
		{
			name:  "with empty lines and CRLF",
			input: "\r\n" + recData0 + "\r\n\r\n" + recEOF + "\r\n",
			want:  []*Segment{{Address: 0, Data: []byte{0x01, 0x02, 0x03, 0x04}}},
		},
		{
			name:  "records after EOF are ignored",
			input: recData0 + "\n" + recEOF + "\ngarbage\n",
			want:  []*Segment{{Address: 0, Data: []byte{0x01, 0x02, 0x03, 0x04}}},
		},
		{
			name:    "empty file",
			input:   "",
			wantErr: true,
			errMsg:  "empty file",
		},
		{
			name:    "missing colon",
			input:   "0400000001020304F2\n" + recEOF,
			wantErr: true,
			errMsg:  "must start with ':'",
		},
		{
			name:    "bad checksum",
			input:   ":0400000001020304F3\n" + recEOF,
			wantErr: true,
			errMsg:  "checksum mismatch",
		},
		{
			name:    "invalid hex",
			input:   ":04000000010203ZZF2\n" + recEOF,
			wantErr: true,
			errMsg:  "invalid hex data",
		},
		{
			name:    "record too short",
			input:   ":000000\n",
			wantErr: true,
			errMsg:  "record too short",
		},
		{
			name:    "length mismatch",
			input:   ":05000000010203040A\n" + recEOF,
			wantErr: true,
			errMsg:  "data length mismatch",
		},
		{
			name:    "missing EOF",
			input:   recData0 + "\n",
			wantErr: true,
			errMsg:  "missing end of file record",
		},
		{
			name:    "no data",
			input:   recEOF + "\n",
			wantErr: true,
			errMsg:  "no data records",
		},
		{
			name:    "overlapping records",
			input:   recData0 + "\n" + recData0 + "\n" + recEOF + "\n",
			wantErr: true,
			errMsg:  "overlapping data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := ParseString(tt.input)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, img.Segments)
			assert.Equal(t, tt.wantStart, img.StartAddress)
			assert.Equal(t, tt.wantStart != 0, img.HasStartAddress)
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "firmware.hex")
	require.NoError(t, os.WriteFile(path, []byte(recData0+"\n"+recEOF+"\n"), 0o600))

	img, err := Parse(path)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Size())

	_, err = Parse(filepath.Join(t.TempDir(), "missing.hex"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open file")
}

func TestImageBytes(t *testing.T) {
	img, err := ParseString(recData0 + "\n" + recData4 + "\n" + recData8 + "\n" + recEOF)
	require.NoError(t, err)

	tests := []struct {
		name string
		base uint32
		want []byte
	}{
		{"from zero", 0, []byte{0x01, 0x02, 0x03, 0x04, 0xAA, 0xBB, 0xFF, 0xFF, 0x55}},
		{"from inside a segment", 2, []byte{0x03, 0x04, 0xAA, 0xBB, 0xFF, 0xFF, 0x55}},
		{"past the end", 9, []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := img.Bytes(tt.base, 64)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, 9, img.Size())

	empty := &Image{}
	got, err := empty.Bytes(0, 64)
	require.NoError(t, err)
	assert.Equal(t, []byte{}, got)
	assert.Equal(t, 0, empty.Size())
}

func TestImageBytesLimit(t *testing.T) {
	img, err := ParseString(recData0 + "\n" + recData4 + "\n" + recData8 + "\n" + recEOF)
	require.NoError(t, err)

	got, err := img.Bytes(0, 9)
	require.NoError(t, err)
	assert.Len(t, got, 9)

	_, err = img.Bytes(0, 8)
	require.ErrorIs(t, err, ErrImageTooLarge)

	// 4 bytes moved to 0x10000000 by an extended linear address record.
	high, err := ParseString(":020000041000EA\n" + recData0 + "\n" + recEOF)
	require.NoError(t, err)
	require.Len(t, high.Segments, 1)
	assert.Equal(t, uint32(0x10000000), high.Segments[0].Address)

	_, err = high.Bytes(0, 32*1024)
	require.ErrorIs(t, err, ErrImageTooLarge)

	got, err = high.Bytes(0x10000000, 32*1024)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, got)
}

func TestPad(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		pageSize int
		wantLen  int
	}{
		{name: "already aligned", size: 128, pageSize: 128, wantLen: 128},
		{name: "one byte over", size: 129, pageSize: 128, wantLen: 256},
		{name: "short", size: 3, pageSize: 128, wantLen: 128},
		{name: "empty", size: 0, pageSize: 128, wantLen: 0},
		{name: "no page size", size: 5, pageSize: 0, wantLen: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.size)
			for i := range data {
				data[i] = byte(i)
			}

			padded := Pad(data, tt.pageSize)
			require.Len(t, padded, tt.wantLen)
			assert.Equal(t, data, padded[:tt.size])
			for _, b := range padded[tt.size:] {
				assert.Equal(t, byte(FillByte), b)
			}
		})
	}
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, byte(0x1E), Checksum([]byte{0x03, 0x00, 0x30, 0x00, 0x02, 0x33, 0x7A}))
	assert.Equal(t, byte(0xFF), Checksum([]byte{0x00, 0x00, 0x00, 0x01}))
	assert.Equal(t, byte(0x00), Checksum(nil))
}
