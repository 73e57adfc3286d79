// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package armor

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/freenet/ghostkey/lib/codec"
	"github.com/freenet/ghostkey/lib/errkind"
)

// LineWidth is the number of base64 characters per body line.
const LineWidth = 64

const (
	beginPrefix = "-----BEGIN "
	endPrefix   = "-----END "
	fence       = "-----"
)

// ErrNoBlock is returned (wrapped in an Armor-kind error) when the
// input contains no block with any of the requested labels.
var ErrNoBlock = errors.New("armor: no block with expected label")

// Block is one BEGIN/END delimited section of armored text. Body holds
// the base64 text with line breaks removed.
type Block struct {
	Label string
	Body  string
}

// Label returns the armor label for T. See the package documentation
// for the derivation rules.
func Label[T any]() string {
	return labelForType(reflect.TypeFor[T]())
}

func labelForType(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := strings.TrimPrefix(t.Name(), "Serializable")

	var builder strings.Builder
	previous := rune(0)
	for index, r := range name {
		if index > 0 && unicode.IsUpper(r) && previous != '_' {
			builder.WriteByte('_')
		}
		builder.WriteRune(unicode.ToUpper(r))
		previous = r
	}
	upper := builder.String()
	if hasVersionSuffix(upper) {
		return upper
	}
	return upper + "_V1"
}

func hasVersionSuffix(label string) bool {
	index := strings.LastIndex(label, "_V")
	if index < 0 || index+2 == len(label) {
		return false
	}
	for _, r := range label[index+2:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Encode armors value under Label[T]().
func Encode[T any](value T) ([]byte, error) {
	return EncodeLabel(value, Label[T]())
}

// EncodeLabel armors value under an explicit label.
func EncodeLabel(value any, label string) ([]byte, error) {
	if label == "" || strings.Contains(label, fence) || strings.ContainsAny(label, "\r\n") {
		return nil, errkind.Errorf(errkind.Armor, "encode armor", "invalid label %q", label)
	}
	data, err := codec.Marshal(value)
	if err != nil {
		return nil, errkind.New(errkind.Serialization, "encode armor", err)
	}
	return wrap(label, data), nil
}

func wrap(label string, data []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(data)

	var out bytes.Buffer
	out.WriteString(beginPrefix + label + fence + "\n")
	for len(encoded) > LineWidth {
		out.WriteString(encoded[:LineWidth])
		out.WriteByte('\n')
		encoded = encoded[LineWidth:]
	}
	if len(encoded) > 0 {
		out.WriteString(encoded)
		out.WriteByte('\n')
	}
	out.WriteString(endPrefix + label + fence + "\n")
	return out.Bytes()
}

// Decode finds the first block labelled Label[T]() (or the same label
// without its "_V1" suffix) that decodes into a T.
func Decode[T any](data []byte) (T, error) {
	label := Label[T]()
	labels := []string{label}
	if trimmed := strings.TrimSuffix(label, "_V1"); trimmed != label {
		labels = append(labels, trimmed)
	}
	return DecodeLabel[T](data, labels...)
}

// DecodeLabel finds the first block whose label is one of labels and
// whose body decodes into a T.
//
// Blocks with other labels are ignored even when their framing is
// broken. A broken block with an accepted label counts as one failed
// candidate and scanning continues.
//
// When no block carries an accepted label the error has kind Armor.
// When matching blocks exist but none decodes, the error is the
// failure of the first candidate (Armor for broken framing,
// Base64Decode or Deserialization for a bad body).
func DecodeLabel[T any](data []byte, labels ...string) (T, error) {
	var zero T
	if len(labels) == 0 {
		return zero, errkind.Errorf(errkind.Armor, "decode armor", "no labels requested")
	}
	accepted := make(map[string]bool, len(labels))
	for _, label := range labels {
		accepted[label] = true
	}

	var firstFailure error
	for _, block := range scan(data) {
		if !accepted[block.Label] {
			continue
		}
		if block.broken != nil {
			if firstFailure == nil {
				firstFailure = block.broken
			}
			continue
		}
		value, err := decodeBody[T](block.Body)
		if err == nil {
			return value, nil
		}
		if firstFailure == nil {
			firstFailure = err
		}
	}
	if firstFailure != nil {
		return zero, firstFailure
	}
	return zero, errkind.New(errkind.Armor, "decode armor",
		fmt.Errorf("%w %s", ErrNoBlock, strings.Join(labels, " or ")))
}

func decodeBody[T any](body string) (T, error) {
	var value T
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return value, errkind.New(errkind.Base64Decode, "decode armor body", err)
	}
	if err := codec.Unmarshal(raw, &value); err != nil {
		return value, errkind.New(errkind.Deserialization, "decode armor body", err)
	}
	return value, nil
}

// Parse splits data into its well-formed armor blocks in input order.
// Text outside blocks is ignored. A block whose BEGIN line never reaches
// a matching END line is left out of the result, and the first such
// framing failure is returned as an Armor error alongside the blocks
// that did parse: truncated input is never silently treated as absent.
func Parse(data []byte) ([]Block, error) {
	var blocks []Block
	var firstBroken error
	for _, block := range scan(data) {
		if block.broken != nil {
			if firstBroken == nil {
				firstBroken = block.broken
			}
			continue
		}
		blocks = append(blocks, block.Block)
	}
	return blocks, firstBroken
}

// scannedBlock is a block as found in the input. broken is set when the
// block's framing failed; Body is then whatever was read before the
// failure.
type scannedBlock struct {
	Block
	broken error
}

// scan walks data once and returns every block it saw, broken ones
// included. A framing failure only ever breaks the block it occurs in:
// an END with the wrong label closes the open block as broken, and a
// BEGIN inside an open block breaks that block and starts the new one.
func scan(data []byte) []scannedBlock {
	var blocks []scannedBlock
	var current *scannedBlock
	var body strings.Builder

	closeCurrent := func(broken error) {
		current.Body = body.String()
		current.broken = broken
		blocks = append(blocks, *current)
		current = nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 4096), len(data)+1)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if current == nil {
			if label, ok := fenced(line, beginPrefix); ok {
				current = &scannedBlock{Block: Block{Label: label}}
				body.Reset()
			}
			continue
		}

		if label, ok := fenced(line, endPrefix); ok {
			if label != current.Label {
				closeCurrent(errkind.Errorf(errkind.Armor, "parse armor",
					"block %s closed by END %s", current.Label, label))
				continue
			}
			closeCurrent(nil)
			continue
		}
		if label, ok := fenced(line, beginPrefix); ok {
			closeCurrent(errkind.Errorf(errkind.Armor, "parse armor",
				"block %s opened inside block %s", label, current.Label))
			current = &scannedBlock{Block: Block{Label: label}}
			body.Reset()
			continue
		}
		body.WriteString(line)
	}
	if err := scanner.Err(); err != nil && current != nil {
		closeCurrent(errkind.New(errkind.Armor, "parse armor", err))
	}
	if current != nil {
		closeCurrent(errkind.Errorf(errkind.Armor, "parse armor",
			"block %s has no END line", current.Label))
	}
	return blocks
}

func fenced(line, prefix string) (string, bool) {
	if len(line) <= len(prefix)+len(fence) {
		return "", false
	}
	if !strings.HasPrefix(line, prefix) || !strings.HasSuffix(line, fence) {
		return "", false
	}
	return line[len(prefix) : len(line)-len(fence)], true
}

// Base64 returns the unwrapped base64 of value's canonical encoding.
// This is the single-line form exchanged at the issuance service
// boundary, where the armor framing would only be stripped again.
func Base64(value any) (string, error) {
	data, err := codec.Marshal(value)
	if err != nil {
		return "", errkind.New(errkind.Serialization, "encode base64", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// FromBase64 decodes the output of [Base64].
func FromBase64[T any](encoded string) (T, error) {
	return decodeBody[T](strings.TrimSpace(encoded))
}
