// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type samplePayload struct {
	Key  []byte `cbor:"1,keyasint"`
	Info string `cbor:"2,keyasint"`
}

// reorderedPayload declares the same schema fields in a different Go
// order. The encoding must not change.
type reorderedPayload struct {
	Info string `cbor:"2,keyasint"`
	Key  []byte `cbor:"1,keyasint"`
}

func TestSignableDeterministic(t *testing.T) {
	payload := samplePayload{Key: []byte{1, 2, 3}, Info: "tier:20"}

	first, err := Signable(payload)
	if err != nil {
		t.Fatalf("first Signable: %v", err)
	}
	second, err := Signable(payload)
	if err != nil {
		t.Fatalf("second Signable: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestSignableIndependentOfFieldOrder(t *testing.T) {
	first, err := Signable(samplePayload{Key: []byte{9}, Info: "x"})
	if err != nil {
		t.Fatalf("Signable: %v", err)
	}
	second, err := Signable(reorderedPayload{Info: "x", Key: []byte{9}})
	if err != nil {
		t.Fatalf("Signable: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("field order changed encoding: %x != %x", first, second)
	}
}

func TestSignableKnownBytes(t *testing.T) {
	// {1: h'01', 2: "a"}
	want := []byte{0xa2, 0x01, 0x41, 0x01, 0x02, 0x61, 'a'}
	got, err := Signable(samplePayload{Key: []byte{1}, Info: "a"})
	if err != nil {
		t.Fatalf("Signable: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Signable = %x, want %x", got, want)
	}
}

func TestUnmarshalRejectsUnknownField(t *testing.T) {
	// {1: h'01', 2: "a", 3: 0}
	data := []byte{0xa3, 0x01, 0x41, 0x01, 0x02, 0x61, 'a', 0x03, 0x00}
	var decoded samplePayload
	if err := Unmarshal(data, &decoded); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestUnmarshalRejectsDuplicateKey(t *testing.T) {
	// {1: h'01', 1: h'02'}
	data := []byte{0xa2, 0x01, 0x41, 0x01, 0x01, 0x41, 0x02}
	var decoded samplePayload
	if err := Unmarshal(data, &decoded); err == nil {
		t.Fatal("expected error for duplicate key, got nil")
	}
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := samplePayload{Key: []byte("public-key"), Info: "tier:50"}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded samplePayload
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Info != original.Info || !bytes.Equal(decoded.Key, original.Key) {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestStreamReadsOneValuePerDecode(t *testing.T) {
	var stream bytes.Buffer
	encoder := NewEncoder(&stream)
	for _, info := range []string{"tier:1", "tier:2"} {
		if err := encoder.Encode(samplePayload{Info: info}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&stream)
	for _, want := range []string{"tier:1", "tier:2"} {
		var decoded samplePayload
		if err := decoder.Decode(&decoded); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if decoded.Info != want {
			t.Errorf("Info = %q, want %q", decoded.Info, want)
		}
	}
	if stream.Len() != 0 {
		t.Errorf("%d bytes left unread", stream.Len())
	}
}
