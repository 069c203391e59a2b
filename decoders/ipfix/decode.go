package ipfix

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrUDPWithdrawal = errors.New("template withdrawal over UDP ignored")

// DecodeMessageHeader reads the Message Header and checks it against the
// received payload.
func DecodeMessageHeader(payload []byte) (MessageHeader, error) {
	var h MessageHeader
	if len(payload) < MessageHeaderLength {
		return h, fmt.Errorf("%w: %d bytes is shorter than a header", ErrMalformedMessage, len(payload))
	}
	h.Version = binary.BigEndian.Uint16(payload[0:2])
	h.Length = binary.BigEndian.Uint16(payload[2:4])
	h.ExportTime = binary.BigEndian.Uint32(payload[4:8])
	h.SequenceNumber = binary.BigEndian.Uint32(payload[8:12])
	h.ObservationDomainId = binary.BigEndian.Uint32(payload[12:16])

	if h.Version != Version {
		return h, fmt.Errorf("%w %d", ErrUnknownVersion, h.Version)
	}
	if int(h.Length) < MessageHeaderLength || int(h.Length) > len(payload) {
		return h, fmt.Errorf("%w: header length %d, received %d", ErrMalformedMessage, h.Length, len(payload))
	}
	return h, nil
}

type rawSet struct {
	header SetHeader
	body   []byte
}

// DecodeMessage decodes one IPFIX Message. Template Sets are applied to the
// template system before any Data Set of the Message is resolved. Errors on
// a single Set or record are joined into the returned error while decoding
// goes on; the Message is returned unless the header itself is invalid.
// The caller must Release the Message once done with its Data Sets.
func DecodeMessage(payload []byte, src SourceInfo, templates TemplateSystem) (*Message, error) {
	h, err := DecodeMessageHeader(payload)
	if err != nil {
		return nil, &DecoderError{"IPFIX", err}
	}
	payload = payload[:h.Length]

	msg := &Message{
		Header: h,
		Source: src,
	}
	source := msg.SourceKey()

	var errs []error
	var sets []rawSet
	for offset := MessageHeaderLength; offset < len(payload); {
		if len(payload)-offset < SetHeaderLength {
			errs = append(errs, fmt.Errorf("%w: %d trailing bytes", ErrMalformedMessage, len(payload)-offset))
			break
		}
		sh := SetHeader{
			Id:     binary.BigEndian.Uint16(payload[offset : offset+2]),
			Length: binary.BigEndian.Uint16(payload[offset+2 : offset+4]),
		}
		if sh.Length < SetHeaderLength || offset+int(sh.Length) > len(payload) {
			errs = append(errs, fmt.Errorf("%w: set %d length %d at offset %d", ErrMalformedMessage, sh.Id, sh.Length, offset))
			break
		}
		if len(sets) >= MaxSetsPerMessage {
			errs = append(errs, fmt.Errorf("%w: more than %d sets", ErrMalformedMessage, MaxSetsPerMessage))
			break
		}
		sets = append(sets, rawSet{header: sh, body: payload[offset+SetHeaderLength : offset+int(sh.Length)]})
		offset += int(sh.Length)
	}

	for _, set := range sets {
		switch set.header.Id {
		case TemplateSetID, OptionsTemplateSetID:
			kind := KindTemplate
			if set.header.Id == OptionsTemplateSetID {
				kind = KindOptionsTemplate
			}
			ts, setErrs := decodeTemplateSet(set, kind, src, source, templates, &msg.Stats)
			errs = append(errs, setErrs...)
			if kind == KindTemplate {
				msg.Sets = append(msg.Sets, SetRef{Id: set.header.Id, Index: len(msg.TemplateSets)})
				msg.TemplateSets = append(msg.TemplateSets, ts)
			} else {
				msg.Sets = append(msg.Sets, SetRef{Id: set.header.Id, Index: len(msg.OptionsTemplateSets)})
				msg.OptionsTemplateSets = append(msg.OptionsTemplateSets, ts)
			}
		}
	}

	for _, set := range sets {
		id := set.header.Id
		if id == TemplateSetID || id == OptionsTemplateSetID {
			continue
		}
		if id < MinDataSetID {
			msg.Stats.SkippedDataSets++
			errs = append(errs, &FlowError{"DataSet", h.ObservationDomainId, id, fmt.Errorf("%w: reserved set id", ErrMalformedMessage)})
			continue
		}
		t, err := templates.GetTemplate(source.Template(id))
		if err != nil {
			msg.Stats.SkippedDataSets++
			errs = append(errs, &FlowError{"DataSet", h.ObservationDomainId, id, err})
			continue
		}
		ds := DataSet{
			SetHeader: set.header,
			Payload:   set.body,
			ref:       templates.Acquire(t),
		}
		index := len(msg.DataSets)

		it := NewRecordIterator(set.body, t)
		for it.Next() {
			msg.Metadata = append(msg.Metadata, RecordMetadata{
				Record:   it.Record(),
				Length:   uint32(len(it.Record())),
				SetIndex: index,
				Template: t,
			})
		}
		msg.Stats.DataRecords += it.Count()
		if err := it.Err(); err != nil {
			msg.Stats.SkippedRecords++
			errs = append(errs, &FlowError{"DataSet", h.ObservationDomainId, id, err})
		}
		msg.Sets = append(msg.Sets, SetRef{Id: id, Index: index})
		msg.DataSets = append(msg.DataSets, ds)
	}

	return msg, errors.Join(errs...)
}

func decodeTemplateSet(set rawSet, kind TemplateKind, src SourceInfo, source SourceKey, templates TemplateSystem, stats *DecodeStats) (TemplateSet, []error) {
	ts := TemplateSet{SetHeader: set.header, Kind: kind}
	var errs []error
	flowErr := func(id uint16, err error) {
		errs = append(errs, &FlowError{kind.String(), source.ODID, id, err})
	}

	body := set.body
	for len(body) >= withdrawalRecordLength {
		id := binary.BigEndian.Uint16(body[0:2])
		count := binary.BigEndian.Uint16(body[2:4])
		if id == 0 && count == 0 && isPadding(body) {
			break
		}

		if count == 0 {
			entry := TemplateRecordEntry{TemplateId: id, Withdrawal: true, Raw: body[:withdrawalRecordLength]}
			body = body[withdrawalRecordLength:]
			ts.Records = append(ts.Records, entry)

			switch {
			case src.Type == SourceUDP:
				flowErr(id, ErrUDPWithdrawal)
			case id == set.header.Id:
				templates.RemoveSourceKind(source, kind)
				stats.Withdrawals++
			case id < MinDataSetID:
				stats.SkippedTemplates++
				flowErr(id, malformed("withdrawal of reserved id"))
			default:
				if _, err := templates.RemoveTemplate(source.Template(id)); err != nil {
					flowErr(id, err)
				} else {
					stats.Withdrawals++
				}
			}
			continue
		}

		size, err := TemplateRecordLength(body, kind)
		if err != nil {
			// the rest of the set cannot be delimited
			stats.SkippedTemplates++
			flowErr(id, err)
			break
		}
		entry := TemplateRecordEntry{TemplateId: id, FieldCount: count, Raw: body[:size]}
		body = body[size:]

		if id < MinDataSetID {
			stats.SkippedTemplates++
			flowErr(id, malformed("template id %d is reserved", id))
			ts.Records = append(ts.Records, entry)
			continue
		}
		t, err := templates.AddTemplate(source.Template(id), entry.Raw, kind, src.Sequence)
		if err != nil {
			stats.SkippedTemplates++
			flowErr(id, err)
			ts.Records = append(ts.Records, entry)
			continue
		}
		entry.Template = t
		if kind == KindTemplate {
			stats.TemplateRecords++
		} else {
			stats.OptionsTemplateRecords++
		}
		ts.Records = append(ts.Records, entry)
	}
	return ts, errs
}

func isPadding(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
