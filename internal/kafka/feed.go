package kafka

import (
	"bytes"
	"io"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/anssi-fr/hijackd/internal/bgpmsg"
)

// RecordDecoder decodes one raw Kafka record value into InternalMessages.
// internal/decode.BMP satisfies this directly.
type RecordDecoder interface {
	Decode(collector string, r io.Reader, emit func(bgpmsg.InternalMessage) error) error
}

// Feed decodes every record in batch through dec, in order, calling
// emit for each resulting InternalMessage. A single record failing to
// decode is the decoder's own concern (internal/decode.BMP skips and
// warns rather than erroring); only a failing emit aborts the batch.
func Feed(dec RecordDecoder, collector string, batch []*kgo.Record, emit func(bgpmsg.InternalMessage) error) error {
	for _, rec := range batch {
		if err := dec.Decode(collector, bytes.NewReader(rec.Value), emit); err != nil {
			return err
		}
	}
	return nil
}
