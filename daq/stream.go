package daq

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Stream reads one sample per text line from an acquisition front end: the
// voltages of inputs ai0, ai1, ... separated by spaces, tabs or commas. Lines
// that do not parse (banners, headers, a partial first line) are skipped.
//
// A live Stream treats io.EOF as "no data yet" and keeps reading until the
// acquisition timeout. A replay Stream treats io.EOF as the end of the data.
type Stream struct {
	mu     sync.Mutex
	src    io.ReadCloser
	rd     *bufio.Reader
	device DeviceInfo
	finite bool
	// Retry is the pause after an empty read on a live Stream.
	Retry time.Duration
}

func NewStream(src io.ReadCloser, device DeviceInfo) *Stream {
	return &Stream{src: src, rd: bufio.NewReader(src), device: device, Retry: 2 * time.Millisecond}
}

// NewReplay reads recorded samples, for example a capture file.
func NewReplay(src io.ReadCloser, device DeviceInfo) *Stream {
	s := NewStream(src, device)
	s.finite = true
	return s
}

func (s *Stream) Devices() ([]DeviceInfo, error) { return []DeviceInfo{s.device}, nil }

func (s *Stream) ReadMean(ctx context.Context, acq Acquisition) ([]float64, error) {
	if acq.Samples <= 0 {
		return nil, fmt.Errorf("samples must be > 0")
	}
	idx := make([]int, len(acq.Channels))
	need := 0
	for i, name := range acq.Channels {
		n, err := ChannelIndex(name)
		if err != nil {
			return nil, err
		}
		idx[i] = n
		need = max(need, n+1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := time.Now().Add(acq.Timeout())
	sum := make([]float64, len(idx))
	got := 0
	var partial strings.Builder
	for got < acq.Samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := s.rd.ReadString('\n')
		partial.WriteString(chunk)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%s: read: %w", acq.Task, err)
			}
			switch {
			case s.finite && partial.Len() == 0:
				return nil, fmt.Errorf("%s: %w after %d of %d samples", acq.Task, io.ErrUnexpectedEOF, got, acq.Samples)
			case s.finite:
				// last line without a newline
			case time.Now().After(deadline):
				return nil, fmt.Errorf("%s: timed out after %d of %d samples", acq.Task, got, acq.Samples)
			default:
				time.Sleep(s.Retry)
				continue
			}
		}
		line := partial.String()
		partial.Reset()
		vals, ok := parseVoltages(line)
		if !ok || len(vals) < need {
			continue
		}
		for i, n := range idx {
			sum[i] += vals[n]
		}
		got++
	}
	for i := range sum {
		sum[i] /= float64(got)
	}
	return sum, nil
}

func parseVoltages(line string) ([]float64, bool) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ',' || r == '\r' || r == '\n'
	})
	if len(fields) == 0 {
		return nil, false
	}
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func (s *Stream) Close() error { return s.src.Close() }
