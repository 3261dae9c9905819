package xbe

import (
	"errors"
	"testing"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name    string
		base    uint32
		addr    uint32
		want    uint32
		wantErr bool
	}{
		{name: "Base itself", base: 0x10000, addr: 0x10000, want: 0},
		{name: "Certificate", base: 0x10000, addr: 0x10178, want: 0x178},
		{name: "Zero base", base: 0, addr: 0x1234, want: 0x1234},
		{name: "Below base", base: 0x10000, addr: 0xFFFF, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Translate(tt.base, tt.addr)

			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Errorf("Translate() error = %v, want ErrInvalidAddress", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Translate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Translate() = 0x%X, want 0x%X", got, tt.want)
			}

			h := ImageHeader{BaseAddress: tt.base}
			if back := h.Address(got); back != tt.addr {
				t.Errorf("Address(Offset(0x%X)) = 0x%X", tt.addr, back)
			}
		})
	}
}

func TestAlignUp(t *testing.T) {
	tests := []struct {
		value, alignment, want uint32
	}{
		{0, PageSize, 0},
		{1, PageSize, PageSize},
		{PageSize, PageSize, PageSize},
		{0x1001, PageSize, 0x2000},
		{0x3B, 4, 0x3C},
		{7, 0, 7},
	}

	for _, tt := range tests {
		if got := alignUp(tt.value, tt.alignment); got != tt.want {
			t.Errorf("alignUp(0x%X, 0x%X) = 0x%X, want 0x%X", tt.value, tt.alignment, got, tt.want)
		}
	}
}

func TestImageBufferPadTo(t *testing.T) {
	var b imageBuffer
	b.cstring(".text")

	if err := b.padTo(0x10, "test"); err != nil {
		t.Fatalf("padTo() error = %v", err)
	}
	if b.pos() != 0x10 {
		t.Errorf("pos() = 0x%X, want 0x10", b.pos())
	}

	if err := b.padTo(0x8, "test"); !errors.Is(err, ErrLayout) {
		t.Errorf("padTo() behind cursor error = %v, want ErrLayout", err)
	}

	b.alignTo(PageSize)
	if b.pos() != PageSize {
		t.Errorf("alignTo() pos = 0x%X, want 0x%X", b.pos(), PageSize)
	}
}
