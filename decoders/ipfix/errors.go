package ipfix

import (
	"errors"
	"fmt"
)

var (
	ErrorTemplateNotFound = errors.New("template not found")
	ErrMalformedTemplate  = errors.New("malformed template")
	ErrTruncatedRecord    = errors.New("truncated record")
	ErrMapperMismatch     = errors.New("template content changed without withdrawal")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnknownVersion     = errors.New("unknown version")
)

// DecoderError wraps an error fatal to a whole Message.
type DecoderError struct {
	Decoder string
	Err     error
}

func (e *DecoderError) Error() string {
	return fmt.Sprintf("%s %s", e.Decoder, e.Err.Error())
}

func (e *DecoderError) Unwrap() error {
	return e.Err
}

// FlowError wraps a recoverable error local to one Set or record.
type FlowError struct {
	Type        string
	ObsDomainId uint32
	TemplateId  uint16
	Err         error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("[type:%s obsDomainId:%v templateId:%d] %s", e.Type, e.ObsDomainId, e.TemplateId, e.Err.Error())
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedTemplate, fmt.Sprintf(format, args...))
}
