// Package checkpoint persists critic parameters as a zstd stream holding a
// one-line JSON header followed by the gob-encoded weights.
package checkpoint

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/phillipinseoul/Cluster-MAAC/engine"
	"github.com/phillipinseoul/Cluster-MAAC/engine/critic"
)

// Version is the current on-disk format.
const Version = 1

// Header describes the critic shape a checkpoint was written for.
type Header struct {
	Version     int             `json:"version"`
	ID          uuid.UUID       `json:"id"`
	Created     time.Time       `json:"created"`
	HiddenDim   int             `json:"hidden_dim"`
	AttendHeads int             `json:"attend_heads"`
	NormIn      bool            `json:"norm_in"`
	SASizes     []engine.SASize `json:"sa_sizes"`
}

// NewHeader returns a fresh header for cfg.
func NewHeader(cfg critic.Config) Header {
	return Header{
		Version:     Version,
		ID:          uuid.New(),
		Created:     time.Now().UTC(),
		HiddenDim:   cfg.HiddenDim,
		AttendHeads: cfg.AttendHeads,
		NormIn:      cfg.NormIn,
		SASizes:     slices.Clone(cfg.SASizes),
	}
}

// Matches reports a configuration error when h was written for a
// different critic shape than cfg.
func (h Header) Matches(cfg critic.Config) error {
	if h.Version != Version {
		return engine.ConfigErrorf("checkpoint version %d, want %d", h.Version, Version)
	}
	if h.HiddenDim != cfg.HiddenDim || h.AttendHeads != cfg.AttendHeads || h.NormIn != cfg.NormIn {
		return engine.ConfigErrorf("checkpoint shape hidden=%d heads=%d norm_in=%v, config has hidden=%d heads=%d norm_in=%v",
			h.HiddenDim, h.AttendHeads, h.NormIn, cfg.HiddenDim, cfg.AttendHeads, cfg.NormIn)
	}
	if !slices.Equal(h.SASizes, cfg.SASizes) {
		return engine.ConfigErrorf("checkpoint sa_sizes %v, config has %v", h.SASizes, cfg.SASizes)
	}
	return nil
}

// Save writes p for cfg to path, replacing any existing file only once the
// new one is complete.
func Save(path string, cfg critic.Config, p *critic.Params) (Header, error) {
	if err := p.Check(cfg); err != nil {
		return Header{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Header{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return Header{}, err
	}
	defer os.Remove(tmp.Name())

	h := NewHeader(cfg)
	if err := write(tmp, h, p); err != nil {
		_ = tmp.Close()
		return Header{}, err
	}
	if err := tmp.Close(); err != nil {
		return Header{}, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Header{}, err
	}
	return h, nil
}

func write(f *os.File, h Header, p *critic.Params) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(h)
	if err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(p); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// ReadHeader returns only the header of the checkpoint at path.
func ReadHeader(path string) (Header, error) {
	var h Header
	err := read(path, func(br *bufio.Reader) error {
		var err error
		h, err = readHeader(br)
		return err
	})
	return h, err
}

// Load reads the checkpoint at path and checks it against cfg. A shape
// mismatch is an engine.ErrConfig.
func Load(path string, cfg critic.Config) (*critic.Params, Header, error) {
	var (
		h Header
		p critic.Params
	)
	err := read(path, func(br *bufio.Reader) error {
		var err error
		if h, err = readHeader(br); err != nil {
			return err
		}
		if err := h.Matches(cfg); err != nil {
			return err
		}
		if err := gob.NewDecoder(br).Decode(&p); err != nil {
			return fmt.Errorf("gob decode: %w", err)
		}
		return p.Check(cfg)
	})
	if err != nil {
		return nil, Header{}, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	return &p, h, nil
}

func read(path string, fn func(*bufio.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	return fn(bufio.NewReaderSize(dec, 256*1024))
}

func readHeader(br *bufio.Reader) (Header, error) {
	var h Header
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
