package debug

import (
	"github.com/netsampler/ipfixcol/decoders/ipfix"
	"github.com/netsampler/ipfixcol/producer"
)

// PanicProducerWrapper recovers from panics of the wrapped producer.
type PanicProducerWrapper struct {
	wrapped producer.ProducerInterface
}

func (p *PanicProducerWrapper) Produce(msg interface{}, args *producer.ProduceArgs) (flowMessageSet []producer.ProducerMessage, err error) {
	defer func() {
		if pErr := recover(); pErr != nil {
			var header interface{}
			if packet, ok := msg.(*ipfix.Message); ok {
				header = packet.Header
			}
			flowMessageSet, err = nil, newPanicError(header, pErr)
		}
	}()
	return p.wrapped.Produce(msg, args)
}

// RemoveSource forwards to the wrapped producer when it tracks sources.
func (p *PanicProducerWrapper) RemoveSource(src ipfix.SourceKey) (flowMessageSet []producer.ProducerMessage, err error) {
	remover, ok := p.wrapped.(producer.SourceRemover)
	if !ok {
		return nil, nil
	}
	defer func() {
		if pErr := recover(); pErr != nil {
			flowMessageSet, err = nil, newPanicError(src, pErr)
		}
	}()
	return remover.RemoveSource(src)
}

func (p *PanicProducerWrapper) Close() {
	p.wrapped.Close()
}

func (p *PanicProducerWrapper) Commit(flowMessageSet []producer.ProducerMessage) {
	p.wrapped.Commit(flowMessageSet)
}

// WrapPanicProducer wraps a producer to recover panics as errors.
func WrapPanicProducer(wrapped producer.ProducerInterface) *PanicProducerWrapper {
	return &PanicProducerWrapper{
		wrapped: wrapped,
	}
}
