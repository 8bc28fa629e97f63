package fix

import (
	"fmt"
	"time"

	"flighttrace/internal/registry"
)

// decoder is implemented by each wire-format parser. It satisfies
// registry.Parser so sniffing (format tag absent or wrong) falls back
// to trying each registered decoder in priority order.
type decoder interface {
	registry.Parser
	decode(raw []byte, receivedAt time.Time) (*Fix, error)
}

// Normalizer turns a raw wire frame into a canonical Fix.
type Normalizer struct {
	byFormat map[Format]decoder
	reg      *registry.Registry

	Dropped int64 // frames that legitimately produced no fix
	Invalid int64 // parse failures and out-of-range coordinates
}

// NewNormalizer builds a Normalizer with the three built-in decoders.
func NewNormalizer() *Normalizer {
	n := &Normalizer{
		byFormat: make(map[Format]decoder),
		reg:      registry.New(),
	}
	n.register(FormatAPRS, &aprsDecoder{})
	n.register(FormatBeast, &beastDecoder{})
	n.register(FormatSBS, &sbsDecoder{})
	n.reg.Sort()
	return n
}

func (n *Normalizer) register(f Format, d decoder) {
	n.byFormat[f] = d
	n.reg.Register(d)
}

// Normalize parses a raw frame declared to be in the given format.
// Parse failures and out-of-range coordinates are counted, not
// propagated; the caller should drop the frame on a non-nil error.
func (n *Normalizer) Normalize(format Format, raw []byte, receivedAt time.Time) (*Fix, error) {
	d, ok := n.byFormat[format]
	if !ok {
		return n.sniff(raw, receivedAt)
	}
	return n.decodeWith(d, raw, receivedAt)
}

// sniff is used when the producer did not declare (or mis-declared) a
// format; it tries each registered decoder's QuickCheck in priority order.
func (n *Normalizer) sniff(raw []byte, receivedAt time.Time) (*Fix, error) {
	dropped := false
	for _, p := range n.reg.AllParsers() {
		d := p.(decoder)
		if !d.QuickCheck(raw) {
			continue
		}
		fx, err := d.decode(raw, receivedAt)
		if err == nil {
			if !fx.Valid() {
				n.Invalid++
				return nil, ErrInvalidCoordinate
			}
			return fx, nil
		}
		if err == ErrDropped {
			dropped = true
		}
	}
	if dropped {
		n.Dropped++
		return nil, ErrDropped
	}
	n.Invalid++
	return nil, fmt.Errorf("%w: no decoder claimed frame", ErrParse)
}

func (n *Normalizer) decodeWith(d decoder, raw []byte, receivedAt time.Time) (*Fix, error) {
	fx, err := d.decode(raw, receivedAt)
	switch {
	case err == ErrDropped:
		n.Dropped++
		return nil, err
	case err != nil:
		n.Invalid++
		return nil, err
	case !fx.Valid():
		n.Invalid++
		return nil, ErrInvalidCoordinate
	}
	return fx, nil
}
