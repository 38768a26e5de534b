package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// NPY v1.0 container, the on-disk form of recorded slots. The format is a
// fixed magic, a version, a little-endian header length, a python dict
// literal padded so the array data starts on a 64-byte boundary, then the
// raw array bytes in C order.

var npyMagic = []byte("\x93NUMPY")

const npyAlign = 64

// npyShape renders a shape tuple the way numpy writes it, including the
// trailing comma for one-dimensional arrays.
func npyShape(shape []int) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return fmt.Sprintf("(%d,)", shape[0])
	}
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// WriteNPY writes one array as an NPY v1.0 file. data must hold exactly the
// bytes implied by dtype and shape.
func WriteNPY(w io.Writer, dtype string, shape []int, data []byte) error {
	elemSize, err := DTypeSize(dtype)
	if err != nil {
		return err
	}
	elements := 1
	for _, d := range shape {
		if d < 0 {
			return fmt.Errorf("negative dimension %d in shape", d)
		}
		elements *= d
	}
	if want := elements * elemSize; want != len(data) {
		return fmt.Errorf("array data is %d bytes, shape %v of %s requires %d", len(data), shape, dtype, want)
	}

	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", dtype, npyShape(shape))
	// Pad with spaces so the data section is 64-byte aligned, ending in \n.
	unpadded := len(npyMagic) + 2 + 2 + len(header) + 1
	padding := (npyAlign - unpadded%npyAlign) % npyAlign
	header = header + strings.Repeat(" ", padding) + "\n"
	if len(header) > 0xFFFF {
		return fmt.Errorf("npy header of %d bytes exceeds v1.0 limit", len(header))
	}

	var buf bytes.Buffer
	buf.Grow(len(npyMagic) + 4 + len(header))
	buf.Write(npyMagic)
	buf.WriteByte(1)
	buf.WriteByte(0)
	var hlen [2]byte
	binary.LittleEndian.PutUint16(hlen[:], uint16(len(header)))
	buf.Write(hlen[:])
	buf.WriteString(header)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write npy header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write npy data: %w", err)
	}
	return nil
}

// WriteSlot writes one captured slot as an NPY file.
func WriteSlot(w io.Writer, s Slot) error {
	return WriteNPY(w, s.DType, s.Shape, s.Data)
}

// ReadNPY parses an NPY v1.0 file back into dtype, shape and raw data.
// Fortran-ordered arrays are rejected; the pipeline never writes them.
func ReadNPY(r io.Reader) (dtype string, shape []int, data []byte, err error) {
	head := make([]byte, len(npyMagic)+2+2)
	if _, err = io.ReadFull(r, head); err != nil {
		return "", nil, nil, fmt.Errorf("failed to read npy preamble: %w", err)
	}
	if !bytes.Equal(head[:len(npyMagic)], npyMagic) {
		return "", nil, nil, fmt.Errorf("not an npy file")
	}
	major := head[len(npyMagic)]
	if major != 1 {
		return "", nil, nil, fmt.Errorf("unsupported npy version %d", major)
	}
	hlen := binary.LittleEndian.Uint16(head[len(npyMagic)+2:])
	headerBytes := make([]byte, hlen)
	if _, err = io.ReadFull(r, headerBytes); err != nil {
		return "", nil, nil, fmt.Errorf("failed to read npy header: %w", err)
	}
	header := string(headerBytes)

	dtype, err = npyHeaderString(header, "descr")
	if err != nil {
		return "", nil, nil, err
	}
	if strings.Contains(header, "'fortran_order': True") {
		return "", nil, nil, fmt.Errorf("fortran-ordered npy files are not supported")
	}
	shape, err = npyHeaderShape(header)
	if err != nil {
		return "", nil, nil, err
	}

	elemSize, err := DTypeSize(dtype)
	if err != nil {
		return "", nil, nil, err
	}
	elements := 1
	for _, d := range shape {
		elements *= d
	}
	data = make([]byte, elements*elemSize)
	if _, err = io.ReadFull(r, data); err != nil {
		return "", nil, nil, fmt.Errorf("failed to read npy data: %w", err)
	}
	return dtype, shape, data, nil
}

func npyHeaderString(header, key string) (string, error) {
	marker := "'" + key + "': '"
	start := strings.Index(header, marker)
	if start < 0 {
		return "", fmt.Errorf("npy header is missing %s", key)
	}
	rest := header[start+len(marker):]
	end := strings.IndexByte(rest, '\'')
	if end < 0 {
		return "", fmt.Errorf("npy header has unterminated %s", key)
	}
	return rest[:end], nil
}

func npyHeaderShape(header string) ([]int, error) {
	marker := "'shape': ("
	start := strings.Index(header, marker)
	if start < 0 {
		return nil, fmt.Errorf("npy header is missing shape")
	}
	rest := header[start+len(marker):]
	end := strings.IndexByte(rest, ')')
	if end < 0 {
		return nil, fmt.Errorf("npy header has unterminated shape")
	}
	var shape []int
	for _, part := range strings.Split(rest[:end], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid shape dimension %q", part)
		}
		shape = append(shape, d)
	}
	return shape, nil
}
