package usage

import (
	"encoding/json"
	"strings"
)

// UsageType discriminates the kinds of usage message AMIE accepts.
type UsageType string

const (
	Compute    UsageType = "Compute"
	Storage    UsageType = "Storage"
	Adjustment UsageType = "Adjustment"
)

// DefaultChunkSize keeps each chunked message comfortably under the
// accounting service's 256kb POST limit.
const DefaultChunkSize = 1000

// ParseUsageType normalizes capitalization and validates against the
// closed set of usage types.
func ParseUsageType(s string) (UsageType, error) {
	ut := s
	if ut != "" {
		lower := strings.ToLower(s)
		ut = strings.ToUpper(lower[:1]) + lower[1:]
	}
	switch UsageType(ut) {
	case Compute, Storage, Adjustment:
		return UsageType(ut), nil
	}
	return "", &InvalidUsageTypeError{Value: ut}
}

// UsageMessage is an envelope for a batch of usage records of one type.
// Record order is preserved through serialization and chunking.
type UsageMessage struct {
	UsageType UsageType
	Records   []UsageRecord
}

// NewUsageMessage validates and normalizes the usage type and wraps the
// given records. The records slice is owned by the message afterwards.
func NewUsageMessage(usageType string, records []UsageRecord) (*UsageMessage, error) {
	ut, err := ParseUsageType(usageType)
	if err != nil {
		return nil, err
	}
	return &UsageMessage{UsageType: ut, Records: records}, nil
}

// ParseMessage parses a usage message from its JSON wire form.
func ParseMessage(data []byte) (*UsageMessage, error) {
	var m UsageMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

type wireMessage struct {
	UsageType UsageType     `json:"UsageType"`
	Records   []UsageRecord `json:"Records"`
}

// MarshalJSON serializes the message; an empty message still carries an
// empty Records array rather than null.
func (m UsageMessage) MarshalJSON() ([]byte, error) {
	records := m.Records
	if records == nil {
		records = []UsageRecord{}
	}
	return json.Marshal(wireMessage{UsageType: m.UsageType, Records: records})
}

// UnmarshalJSON deserializes a message, reconstructing each record and
// validating the usage type.
func (m *UsageMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		UsageType *string        `json:"UsageType"`
		Records   *[]UsageRecord `json:"Records"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.UsageType == nil {
		return &MissingFieldError{Field: "UsageType"}
	}
	if raw.Records == nil {
		return &MissingFieldError{Field: "Records"}
	}

	ut, err := ParseUsageType(*raw.UsageType)
	if err != nil {
		return err
	}
	m.UsageType = ut
	m.Records = *raw.Records
	return nil
}

// Chunks splits the message into sub-messages of at most size records
// each, preserving order; the last chunk may be short. The sub-messages
// share the original backing array, records are never copied. A size of
// zero or less uses DefaultChunkSize.
func (m *UsageMessage) Chunks(size int) []*UsageMessage {
	if size <= 0 {
		size = DefaultChunkSize
	}

	var chunks []*UsageMessage
	for i := 0; i < len(m.Records); i += size {
		end := i + size
		if end > len(m.Records) {
			end = len(m.Records)
		}
		chunks = append(chunks, &UsageMessage{
			UsageType: m.UsageType,
			Records:   m.Records[i:end],
		})
	}
	return chunks
}
