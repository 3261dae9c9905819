package xbe

import (
	"math"
	"testing"
)

func TestCalculateEntropy(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		wantMin  float64
		wantMax  float64
		checkVal bool
		want     float64
	}{
		{
			name:     "Empty data",
			data:     []byte{},
			want:     0.0,
			checkVal: true,
		},
		{
			name:     "int3 padding",
			data:     []byte{0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC},
			want:     0.0,
			checkVal: true,
		},
		{
			name:     "Eight distinct bytes",
			data:     []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07},
			want:     3.0,
			checkVal: true,
		},
		{
			name:    "Every byte value",
			data:    make([]byte, 256),
			wantMin: 7.99,
			wantMax: 8.0,
		},
		{
			name:    "Section name text",
			data:    []byte(".text .rdata .data $$XTIMAGE XPP"),
			wantMin: 3.0,
			wantMax: 5.0,
		},
	}

	for i := 0; i < 256; i++ {
		tests[3].data[i] = byte(i)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateEntropy(tt.data)

			if tt.checkVal {
				if math.Abs(got-tt.want) > 0.01 {
					t.Errorf("CalculateEntropy() = %v, want %v", got, tt.want)
				}
			} else if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("CalculateEntropy() = %v, want between %v and %v", got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestGetSectionPermissions(t *testing.T) {
	tests := []struct {
		flags uint32
		want  string
	}{
		{0, "R--"},
		{SectionWritable, "RW-"},
		{SectionExecutable | SectionPreload, "R-X"},
		{SectionWritable | SectionExecutable, "RWX"},
	}

	for _, tt := range tests {
		if got := getSectionPermissions(tt.flags); got != tt.want {
			t.Errorf("getSectionPermissions(0x%X) = %q, want %q", tt.flags, got, tt.want)
		}
	}
}

func TestFormatTitleID(t *testing.T) {
	tests := []struct {
		id   uint32
		want string
	}{
		{0x54480021, "TH-033"},
		{0x4D530002, "MS-002"},
		{0x00000001, "00000001"},
	}

	for _, tt := range tests {
		if got := FormatTitleID(tt.id); got != tt.want {
			t.Errorf("FormatTitleID(0x%08X) = %q, want %q", tt.id, got, tt.want)
		}
	}
}
