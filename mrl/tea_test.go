package mrl

import "testing"

func TestTEA_EncryptDecryptRoundTrip(t *testing.T) {
	seed := uint32(0x12345678)
	enc := teaEncrypt(teaStep1Cipher, seed)
	dec := teaDecrypt(teaStep1Cipher, enc)
	if dec != seed {
		t.Errorf("teaDecrypt(teaEncrypt(seed)) = 0x%08x, want 0x%08x", dec, seed)
	}
}

func TestTEA_Deterministic(t *testing.T) {
	a := teaEncrypt(teaStep2Cipher, 0xCAFEBABE)
	b := teaEncrypt(teaStep2Cipher, 0xCAFEBABE)
	if a != b {
		t.Errorf("teaEncrypt not deterministic: 0x%08x != 0x%08x", a, b)
	}
}

func TestTEA_DifferentCiphersDiffer(t *testing.T) {
	a := teaEncrypt(teaStep1Cipher, 0x11111111)
	b := teaEncrypt(teaStep2Cipher, 0x11111111)
	if a == b {
		t.Errorf("expected step1 and step2 ciphers to diverge, both gave 0x%08x", a)
	}
}

func TestCalculateStep1Key_RejectsWrongSize(t *testing.T) {
	if _, err := calculateStep1Key([]byte{0x01, 0x02, 0x03}); err == nil {
		t.Error("expected error for 3-byte challenge")
	}
}

func TestCalculateStep1Key_Size(t *testing.T) {
	key, err := calculateStep1Key([]byte{0xAA, 0xBB, 0xCC, 0xDD})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != 4 {
		t.Errorf("len(key) = %d, want 4", len(key))
	}
}

func TestCalculateStep2Key_RejectsWrongSize(t *testing.T) {
	if _, err := calculateStep2Key([]byte{0x01, 0x02}, "123456"); err == nil {
		t.Error("expected error for 2-byte seed")
	}
}

func TestCalculateStep2Key_Layout(t *testing.T) {
	key, err := calculateStep2Key([]byte{0x01, 0x02, 0x03, 0x04}, "090336")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != 16 {
		t.Fatalf("len(key) = %d, want 16", len(key))
	}
	if string(key[4:10]) != "090336" {
		t.Errorf("key[4:10] = %q, want %q", key[4:10], "090336")
	}
	for i, b := range key[10:16] {
		if b != 0 {
			t.Errorf("key[%d] = 0x%02x, want 0x00", 10+i, b)
		}
	}
}

func TestCalculateStep2Key_TruncatesLongPIN(t *testing.T) {
	key, err := calculateStep2Key([]byte{0x01, 0x02, 0x03, 0x04}, "1234567890")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(key[4:10]) != "123456" {
		t.Errorf("key[4:10] = %q, want truncated %q", key[4:10], "123456")
	}
}
