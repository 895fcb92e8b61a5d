// Package snapshot encodes self-contained entity snapshots: a JSON header
// line followed by the JSON entity body, zstd-compressed. Payloads are small
// enough to live as blobs in the game database, which keeps the snapshot
// write in the same transaction as the entity creation it backs.
package snapshot

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version  int    `json:"version"`
	Kind     string `json:"kind"`
	EntityID string `json:"entity_id"`
}

func Encode(kind, entityID string, v any) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}

	bw := bufio.NewWriter(enc)
	hb, _ := json.Marshal(Header{Version: Version, Kind: kind, EntityID: entityID})
	if _, err := bw.Write(hb); err != nil {
		return nil, err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return nil, err
	}
	if err := json.NewEncoder(bw).Encode(v); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Decode(b []byte, out any) (Header, error) {
	var h Header
	dec, err := zstd.NewReader(bytes.NewReader(b))
	if err != nil {
		return h, err
	}
	defer dec.Close()

	br := bufio.NewReader(dec)
	hb, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(hb, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != Version {
		return h, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	if err := json.NewDecoder(br).Decode(out); err != nil {
		return h, fmt.Errorf("decode body: %w", err)
	}
	return h, nil
}
