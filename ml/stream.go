package ml

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var ErrNotPersistent = errors.New("module does not implement Persistent")

// Persistent is implemented by modules that can write their parameters to a
// Stream and read them back. Save and Load must visit parameters in the same
// order.
type Persistent interface {
	Save(s *Stream) error
	Load(s *Stream) error
}

// Stream is an in-memory byte buffer with a fixed byte order. Matrices are
// written as raw float64 values without a shape header; the reader supplies
// destinations of the right shape.
type Stream struct {
	buf   bytes.Buffer
	order binary.ByteOrder
}

// SystemEndian returns the byte order of the running machine.
func SystemEndian() binary.ByteOrder { return binary.NativeEndian }

func NewStream(order binary.ByteOrder) *Stream {
	if order == nil {
		order = binary.LittleEndian
	}
	return &Stream{order: order}
}

func (s *Stream) Order() binary.ByteOrder { return s.order }
func (s *Stream) Len() int                { return s.buf.Len() }
func (s *Stream) Bytes() []byte           { return s.buf.Bytes() }

func (s *Stream) WriteFloat64(v float64) error {
	return binary.Write(&s.buf, s.order, v)
}

func (s *Stream) ReadFloat64() (float64, error) {
	var v float64
	if err := binary.Read(&s.buf, s.order, &v); err != nil {
		return 0, fmt.Errorf("read float64: %w", err)
	}
	return v, nil
}

func (s *Stream) WriteMatrix(m *Matrix) error {
	return binary.Write(&s.buf, s.order, m.data)
}

// ReadMatrix fills dst with the next dst.Size() values.
func (s *Stream) ReadMatrix(dst *Matrix) error {
	if s.buf.Len() < 8*dst.Size() {
		return fmt.Errorf("read [%d, %d] matrix: %d bytes left: %w",
			dst.rows, dst.cols, s.buf.Len(), io.ErrUnexpectedEOF)
	}
	if err := binary.Read(&s.buf, s.order, dst.data); err != nil {
		return fmt.Errorf("read [%d, %d] matrix: %w", dst.rows, dst.cols, err)
	}
	return nil
}

func (s *Stream) WriteMatrices(ms ...*Matrix) error {
	for _, m := range ms {
		if err := s.WriteMatrix(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stream) ReadMatrices(ms ...*Matrix) error {
	for _, m := range ms {
		if err := s.ReadMatrix(m); err != nil {
			return err
		}
	}
	return nil
}

// WriteTo drains the stream into w.
func (s *Stream) WriteTo(w io.Writer) (int64, error) {
	return s.buf.WriteTo(w)
}

// ReadStream loads everything from r into a new stream.
func ReadStream(r io.Reader, order binary.ByteOrder) (*Stream, error) {
	s := NewStream(order)
	if _, err := s.buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	return s, nil
}

func (s *Stream) SaveFile(path string) error {
	if err := os.WriteFile(path, s.buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("save stream: %w", err)
	}
	return nil
}

func LoadFile(path string, order binary.ByteOrder) (*Stream, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load stream: %w", err)
	}
	s := NewStream(order)
	s.buf.Write(data)
	return s, nil
}

// WriteModule saves each module in order.
func WriteModule(s *Stream, ms ...Module) error {
	for _, m := range ms {
		p, ok := m.(Persistent)
		if !ok {
			return fmt.Errorf("%T: %w", m, ErrNotPersistent)
		}
		if err := p.Save(s); err != nil {
			return fmt.Errorf("save %T: %w", m, err)
		}
	}
	return nil
}

// ReadModule loads each module in order.
func ReadModule(s *Stream, ms ...Module) error {
	for _, m := range ms {
		p, ok := m.(Persistent)
		if !ok {
			return fmt.Errorf("%T: %w", m, ErrNotPersistent)
		}
		if err := p.Load(s); err != nil {
			return fmt.Errorf("load %T: %w", m, err)
		}
	}
	return nil
}

func saveAll(s *Stream, ps ...Persistent) error {
	for _, p := range ps {
		if err := p.Save(s); err != nil {
			return err
		}
	}
	return nil
}

func loadAll(s *Stream, ps ...Persistent) error {
	for _, p := range ps {
		if err := p.Load(s); err != nil {
			return err
		}
	}
	return nil
}
