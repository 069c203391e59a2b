package ipfix

import (
	"fmt"
	"net/netip"
)

const (
	// Version is the IPFIX version number carried in every Message Header.
	Version = 10

	MessageHeaderLength = 16
	SetHeaderLength     = 4

	TemplateSetID        = 2
	OptionsTemplateSetID = 3
	// MinDataSetID is the lowest Set ID (and Template ID) usable for Data Sets.
	MinDataSetID = 256

	// VarLength marks a variable-length Information Element in a Template.
	VarLength = 0xffff
	// EnterpriseBit flags a Field Specifier that carries an Enterprise Number.
	EnterpriseBit = 0x8000

	// MaxMessageLength bounds a Message (16-bit length field).
	MaxMessageLength = 0xffff
	// MaxSetsPerMessage is the protocol upper bound on Sets in one Message.
	MaxSetsPerMessage = (MaxMessageLength - MessageHeaderLength) / SetHeaderLength

	// withdrawalRecordLength is the size of a Template Withdrawal Record.
	withdrawalRecordLength = 4
)

// TemplateKind tells Template Records and Options Template Records apart.
type TemplateKind uint8

const (
	KindTemplate TemplateKind = iota
	KindOptionsTemplate
)

func (k TemplateKind) String() string {
	switch k {
	case KindTemplate:
		return "template"
	case KindOptionsTemplate:
		return "options_template"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// SetID returns the Set ID used to carry records of this kind.
func (k TemplateKind) SetID() uint16 {
	if k == KindOptionsTemplate {
		return OptionsTemplateSetID
	}
	return TemplateSetID
}

// SourceType is the transport a Message was received on.
type SourceType uint8

const (
	SourceUDP SourceType = iota
	SourceTCP
	SourceSCTP
	SourceFile
)

func (t SourceType) String() string {
	switch t {
	case SourceUDP:
		return "udp"
	case SourceTCP:
		return "tcp"
	case SourceSCTP:
		return "sctp"
	case SourceFile:
		return "file"
	}
	return "unknown"
}

// SourceStatus follows a Transport Session through its life.
type SourceStatus uint8

const (
	StatusNew SourceStatus = iota
	StatusOpened
	StatusClosed
)

func (s SourceStatus) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusOpened:
		return "opened"
	case StatusClosed:
		return "closed"
	}
	return "unknown"
}

// SourceInfo identifies the exporter a Message came from. Sequence is the
// collector-side message counter for the session; it is used for template
// lifetimes counted in messages.
type SourceInfo struct {
	Type        SourceType
	Status      SourceStatus
	Addr        netip.AddrPort
	Fingerprint uint32
	Sequence    uint32
}

// MessageHeader is the fixed 16-octet IPFIX Message Header.
type MessageHeader struct {
	Version             uint16 `json:"version"`
	Length              uint16 `json:"length"`
	ExportTime          uint32 `json:"export-time"`
	SequenceNumber      uint32 `json:"sequence-number"`
	ObservationDomainId uint32 `json:"observation-domain-id"`
}

// SetHeader is shared by all Sets (Template, Options Template and Data).
type SetHeader struct {
	// Set ID:
	//    2 for Template Set
	//    3 for Options Template Set
	//    256-65535 for Data Set (used as TemplateId)
	Id uint16 `json:"id"`

	// Total length of the Set in octets, including this header and padding.
	Length uint16 `json:"length"`
}

// Field is a single Field Specifier of a Template. Type holds the
// Information Element ID without the Enterprise bit.
type Field struct {
	PenProvided bool   `json:"pen-provided"`
	Type        uint16 `json:"type"`
	Length      uint16 `json:"length"`
	Pen         uint32 `json:"pen"`
}

// Variable reports whether the field length is carried in the Data Record.
func (f Field) Variable() bool {
	return f.Length == VarLength
}

// Is reports whether the field is the Information Element (enterprise, id).
func (f Field) Is(enterprise uint32, id uint16) bool {
	id &^= EnterpriseBit
	if f.Type != id {
		return false
	}
	if !f.PenProvided {
		return enterprise == 0
	}
	return f.Pen == enterprise
}

// wireLength is the size of the Field Specifier inside a Template Record.
func (f Field) wireLength() int {
	if f.PenProvided {
		return 8
	}
	return 4
}

// TemplateRecordEntry is one record of a (Options) Template Set as seen by
// the decoder. Template is nil for withdrawals and skipped records.
type TemplateRecordEntry struct {
	TemplateId uint16 `json:"template-id"`
	FieldCount uint16 `json:"field-count"`
	Withdrawal bool   `json:"withdrawal"`
	Raw        []byte `json:"-"`

	Template *Template `json:"-"`
}

// TemplateSet is a decoded Template Set or Options Template Set.
type TemplateSet struct {
	SetHeader

	Kind    TemplateKind          `json:"kind"`
	Records []TemplateRecordEntry `json:"records"`
}

// DataSet is a Data Set coupled with the Template that describes it. The
// reference is held until the owning Message is released.
type DataSet struct {
	SetHeader

	Payload []byte `json:"-"`
	ref     *TemplateRef
}

// Template returns the Template the Data Set was resolved against.
func (ds *DataSet) Template() *Template {
	if ds.ref == nil {
		return nil
	}
	return ds.ref.Template()
}

// Records returns an iterator over the Data Records of the set.
func (ds *DataSet) Records() *RecordIterator {
	return NewRecordIterator(ds.Payload, ds.Template())
}

// RecordMetadata points at one Data Record of a Message.
type RecordMetadata struct {
	Record   []byte
	Length   uint32
	SetIndex int
	Template *Template
}

// DecodeStats counts structures skipped while decoding a Message.
type DecodeStats struct {
	TemplateRecords        int `json:"template-records"`
	OptionsTemplateRecords int `json:"options-template-records"`
	DataRecords            int `json:"data-records"`

	SkippedTemplates int `json:"skipped-templates"`
	SkippedDataSets  int `json:"skipped-data-sets"`
	SkippedRecords   int `json:"skipped-records"`
	Withdrawals      int `json:"withdrawals"`
}

// Message is a decoded IPFIX Message.
type Message struct {
	Header MessageHeader `json:"header"`
	Source SourceInfo    `json:"-"`

	TemplateSets        []TemplateSet `json:"template-sets"`
	OptionsTemplateSets []TemplateSet `json:"options-template-sets"`
	DataSets            []DataSet     `json:"data-sets"`

	Metadata []RecordMetadata `json:"-"`
	Stats    DecodeStats      `json:"stats"`

	// Sets keeps the original order of every Set in the Message.
	Sets []SetRef `json:"-"`
}

// SetRef locates a Set of the Message in one of the typed slices.
type SetRef struct {
	Id    uint16
	Index int
}

// SourceKey returns the store key of the Message's Transport Session.
func (m *Message) SourceKey() SourceKey {
	return SourceKey{ODID: m.Header.ObservationDomainId, Fingerprint: m.Source.Fingerprint}
}

// Release drops the template references held by the Data Sets. The Message
// must not be used afterwards.
func (m *Message) Release() {
	for i := range m.DataSets {
		if m.DataSets[i].ref != nil {
			m.DataSets[i].ref.Release()
		}
	}
}
