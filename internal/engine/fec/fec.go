// Package fec implements the optional Reed-Solomon parity extension noted
// in SPEC_FULL.md: an additive supplement, beyond spec.md's distilled wire
// format, that lets a host recover a lost Payload without waiting out an
// RTO. It is exercised through pkg/frame's Parity frame and is never
// required for engine correctness — the engine's core (window, timedqueue,
// scheduler, sockets, orchestrator) does not depend on this package.
//
// Unlike the engine core, this package is not subject to spec.md §5's
// single-threaded contract on its own: a host may run one Encoder/Decoder
// pair per engine instance, serialized the same way the host already
// serializes access to the engine.
package fec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"

	"github.com/aetherflow/qmux/pkg/frame"
)

const (
	// DefaultDataShards is the default number of payloads grouped per
	// parity generation.
	DefaultDataShards = 10

	// DefaultParityShards is the default number of parity shards
	// generated per group.
	DefaultParityShards = 3
)

// Config configures shard counts for both Encoder and Decoder.
type Config struct {
	DataShards   int
	ParityShards int
}

// DefaultConfig returns the default shard counts.
func DefaultConfig() *Config {
	return &Config{DataShards: DefaultDataShards, ParityShards: DefaultParityShards}
}

func newRSEncoder(config *Config) (reedsolomon.Encoder, *Config, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.DataShards < 1 || config.DataShards > 256 {
		return nil, nil, fmt.Errorf("invalid data shard count: %d (must be 1-256)", config.DataShards)
	}
	if config.ParityShards < 0 || config.ParityShards > 256 {
		return nil, nil, fmt.Errorf("invalid parity shard count: %d (must be 0-256)", config.ParityShards)
	}
	enc, err := reedsolomon.New(config.DataShards, config.ParityShards)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Reed-Solomon encoder: %w", err)
	}
	return enc, config, nil
}

// Encoder accumulates outbound payload bytes into fixed-size groups and
// emits Parity frames once a group fills.
type Encoder struct {
	dataShards   int
	parityShards int
	rs           reedsolomon.Encoder

	group   [][]byte
	count   int
	groupID uint32
}

// NewEncoder creates an Encoder with the given shard configuration.
func NewEncoder(config *Config) (*Encoder, error) {
	rs, config, err := newRSEncoder(config)
	if err != nil {
		return nil, err
	}
	return &Encoder{
		dataShards:   config.DataShards,
		parityShards: config.ParityShards,
		rs:           rs,
		group:        make([][]byte, config.DataShards),
		groupID:      1,
	}, nil
}

// AddPayload adds one outbound payload's bytes to the current group.
// Once the group reaches DataShards payloads, it returns the Parity
// frames to send alongside them; until then it returns nil.
func (e *Encoder) AddPayload(data []byte) ([]frame.Parity, error) {
	if e.count == 0 {
		e.group = make([][]byte, e.dataShards)
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	e.group[e.count] = dataCopy
	e.count++

	if e.count < e.dataShards {
		return nil, nil
	}

	parity, err := e.encodeGroup()
	if err != nil {
		return nil, fmt.Errorf("encode fec group %d: %w", e.groupID, err)
	}

	frames := make([]frame.Parity, len(parity))
	for i, shard := range parity {
		frames[i] = frame.Parity{
			Group:        e.groupID,
			ShardIndex:   uint8(i),
			DataShards:   uint8(e.dataShards),
			ParityShards: uint8(e.parityShards),
			Data:         shard,
		}
	}

	e.groupID++
	e.count = 0
	return frames, nil
}

func (e *Encoder) encodeGroup() ([][]byte, error) {
	maxLen := 0
	for _, shard := range e.group {
		if len(shard) > maxLen {
			maxLen = len(shard)
		}
	}
	for i := range e.group {
		if len(e.group[i]) < maxLen {
			padded := make([]byte, maxLen)
			copy(padded, e.group[i])
			e.group[i] = padded
		}
	}

	parity := make([][]byte, e.parityShards)
	for i := range parity {
		parity[i] = make([]byte, maxLen)
	}

	all := append(append([][]byte{}, e.group...), parity...)
	if err := e.rs.Encode(all); err != nil {
		return nil, fmt.Errorf("reed-solomon encode: %w", err)
	}
	return all[e.dataShards:], nil
}

// decodingGroup is the in-progress reconstruction state for one group.
type decodingGroup struct {
	data         [][]byte
	parity       [][]byte
	receivedData []bool
	received     int
	complete     bool
}

// Decoder reconstructs a group's missing payloads from whatever data and
// parity shards arrive, across however many groups are in flight.
type Decoder struct {
	dataShards   int
	parityShards int
	rs           reedsolomon.Encoder

	groups map[uint32]*decodingGroup

	recovered uint64
	failed    uint64
}

// NewDecoder creates a Decoder with the given shard configuration.
func NewDecoder(config *Config) (*Decoder, error) {
	rs, config, err := newRSEncoder(config)
	if err != nil {
		return nil, err
	}
	return &Decoder{
		dataShards:   config.DataShards,
		parityShards: config.ParityShards,
		rs:           rs,
		groups:       make(map[uint32]*decodingGroup),
	}, nil
}

func (d *Decoder) group(id uint32) *decodingGroup {
	g, ok := d.groups[id]
	if !ok {
		g = &decodingGroup{
			data:         make([][]byte, d.dataShards),
			parity:       make([][]byte, d.parityShards),
			receivedData: make([]bool, d.dataShards),
		}
		d.groups[id] = g
	}
	return g
}

// AddDataShard records a payload that arrived normally (not lost), for
// possible use in reconstructing the rest of its group.
func (d *Decoder) AddDataShard(groupID uint32, index int, data []byte) ([][]byte, error) {
	if index < 0 || index >= d.dataShards {
		return nil, fmt.Errorf("invalid data shard index %d", index)
	}
	g := d.group(groupID)
	if g.complete {
		return nil, nil
	}
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	g.data[index] = dataCopy
	if !g.receivedData[index] {
		g.receivedData[index] = true
		g.received++
	}
	return d.tryReconstruct(groupID, g)
}

// AddParityFrame records a parity shard carried by a Parity frame,
// attempting reconstruction once enough shards (of either kind) have
// arrived.
func (d *Decoder) AddParityFrame(p frame.Parity) ([][]byte, error) {
	if int(p.ShardIndex) >= d.parityShards {
		return nil, fmt.Errorf("invalid parity shard index %d", p.ShardIndex)
	}
	g := d.group(p.Group)
	if g.complete {
		return nil, nil
	}
	dataCopy := make([]byte, len(p.Data))
	copy(dataCopy, p.Data)
	g.parity[p.ShardIndex] = dataCopy
	g.received++
	return d.tryReconstruct(p.Group, g)
}

func (d *Decoder) tryReconstruct(groupID uint32, g *decodingGroup) ([][]byte, error) {
	if g.received < d.dataShards {
		return nil, nil
	}

	all := make([][]byte, d.dataShards+d.parityShards)
	copy(all, g.data)
	copy(all[d.dataShards:], g.parity)

	if err := d.rs.Reconstruct(all); err != nil {
		d.failed++
		return nil, fmt.Errorf("reed-solomon reconstruct group %d: %w", groupID, err)
	}
	ok, err := d.rs.Verify(all)
	if err != nil {
		d.failed++
		return nil, fmt.Errorf("verify reconstructed group %d: %w", groupID, err)
	}
	if !ok {
		d.failed++
		return nil, fmt.Errorf("reconstructed group %d failed verification", groupID)
	}

	for i := 0; i < d.dataShards; i++ {
		if g.data[i] == nil {
			g.data[i] = all[i]
		}
	}
	g.complete = true
	d.recovered += uint64(d.dataShards - countTrue(g.receivedData))

	return g.data, nil
}

func countTrue(mask []bool) int {
	n := 0
	for _, b := range mask {
		if b {
			n++
		}
	}
	return n
}

// CleanupOldGroups drops all but the keepLatest most recently created
// groups, bounding memory when the host's FEC groups never complete
// (e.g. every data shard in them is lost along with too much parity).
func (d *Decoder) CleanupOldGroups(keepLatest int) {
	if len(d.groups) <= keepLatest {
		return
	}
	ids := make([]uint32, 0, len(d.groups))
	for id := range d.groups {
		ids = append(ids, id)
	}
	for i := 0; i < len(ids)-1; i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[i] > ids[j] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	for _, id := range ids[:len(ids)-keepLatest] {
		delete(d.groups, id)
	}
}

// Statistics reports decoder counters for host-side metrics.
func (d *Decoder) Statistics() map[string]uint64 {
	return map[string]uint64{
		"recovered":     d.recovered,
		"failed":        d.failed,
		"active_groups": uint64(len(d.groups)),
	}
}

// Overhead returns the fractional bandwidth cost of parity shards.
func Overhead(dataShards, parityShards int) float64 {
	if dataShards == 0 {
		return 0
	}
	return float64(parityShards) / float64(dataShards)
}
