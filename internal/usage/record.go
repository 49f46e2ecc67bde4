package usage

import "encoding/json"

// UsageRecord is one accounting entry for a single job on a resource.
// All values are strings to match the AMIE wire format; optional fields
// left empty are omitted from the serialized form entirely.
type UsageRecord struct {
	Username       string
	LocalProjectID string
	LocalRecordID  string
	Resource       string
	SubmitTime     string
	StartTime      string
	EndTime        string
	Charge         string
	Attributes     UsageAttributes
	ParentRecordID string // job ID of the parent job if this is a sub-job
}

// UsageAttributes holds the per-job attributes nested under "Attributes"
// on the wire. NodeCount is required; the rest are optional.
type UsageAttributes struct {
	NodeCount    string
	CpuCoreCount string
	JobName      string
	Memory       string
	Queue        string
}

// wireRecord is the serialized shape of a UsageRecord
type wireRecord struct {
	Username       string         `json:"Username"`
	LocalProjectID string         `json:"LocalProjectID"`
	LocalRecordID  string         `json:"LocalRecordID"`
	Resource       string         `json:"Resource"`
	SubmitTime     string         `json:"SubmitTime"`
	StartTime      string         `json:"StartTime"`
	EndTime        string         `json:"EndTime"`
	Charge         string         `json:"Charge"`
	Attributes     wireAttributes `json:"Attributes"`
	ParentRecordID string         `json:"ParentRecordID,omitempty"`
}

type wireAttributes struct {
	NodeCount    string `json:"NodeCount"`
	CpuCoreCount string `json:"CpuCoreCount,omitempty"`
	JobName      string `json:"JobName,omitempty"`
	Memory       string `json:"Memory,omitempty"`
	Queue        string `json:"Queue,omitempty"`
}

// ParseRecord parses a single usage record from its JSON wire form.
func ParseRecord(data []byte) (UsageRecord, error) {
	var r UsageRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return UsageRecord{}, err
	}
	return r, nil
}

// MarshalJSON serializes the record in the AMIE wire shape, omitting
// optional fields that were not reported.
func (r UsageRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRecord{
		Username:       r.Username,
		LocalProjectID: r.LocalProjectID,
		LocalRecordID:  r.LocalRecordID,
		Resource:       r.Resource,
		SubmitTime:     r.SubmitTime,
		StartTime:      r.StartTime,
		EndTime:        r.EndTime,
		Charge:         r.Charge,
		Attributes: wireAttributes{
			NodeCount:    r.Attributes.NodeCount,
			CpuCoreCount: r.Attributes.CpuCoreCount,
			JobName:      r.Attributes.JobName,
			Memory:       r.Attributes.Memory,
			Queue:        r.Attributes.Queue,
		},
		ParentRecordID: r.ParentRecordID,
	})
}

// UnmarshalJSON deserializes a record, requiring every mandatory wire key
// to be present. A missing key fails with MissingFieldError; malformed
// JSON propagates the parse error unchanged.
func (r *UsageRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		Username       *string `json:"Username"`
		LocalProjectID *string `json:"LocalProjectID"`
		LocalRecordID  *string `json:"LocalRecordID"`
		Resource       *string `json:"Resource"`
		SubmitTime     *string `json:"SubmitTime"`
		StartTime      *string `json:"StartTime"`
		EndTime        *string `json:"EndTime"`
		Charge         *string `json:"Charge"`
		Attributes     *struct {
			NodeCount    *string `json:"NodeCount"`
			CpuCoreCount string  `json:"CpuCoreCount"`
			JobName      string  `json:"JobName"`
			Memory       string  `json:"Memory"`
			Queue        string  `json:"Queue"`
		} `json:"Attributes"`
		ParentRecordID string `json:"ParentRecordID"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	required := []struct {
		field string
		value *string
	}{
		{"Username", raw.Username},
		{"LocalProjectID", raw.LocalProjectID},
		{"LocalRecordID", raw.LocalRecordID},
		{"Resource", raw.Resource},
		{"SubmitTime", raw.SubmitTime},
		{"StartTime", raw.StartTime},
		{"EndTime", raw.EndTime},
		{"Charge", raw.Charge},
	}
	for _, f := range required {
		if f.value == nil {
			return &MissingFieldError{Field: f.field}
		}
	}
	if raw.Attributes == nil {
		return &MissingFieldError{Field: "Attributes"}
	}
	if raw.Attributes.NodeCount == nil {
		return &MissingFieldError{Field: "Attributes.NodeCount"}
	}

	r.Username = *raw.Username
	r.LocalProjectID = *raw.LocalProjectID
	r.LocalRecordID = *raw.LocalRecordID
	r.Resource = *raw.Resource
	r.SubmitTime = *raw.SubmitTime
	r.StartTime = *raw.StartTime
	r.EndTime = *raw.EndTime
	r.Charge = *raw.Charge
	r.Attributes = UsageAttributes{
		NodeCount:    *raw.Attributes.NodeCount,
		CpuCoreCount: raw.Attributes.CpuCoreCount,
		JobName:      raw.Attributes.JobName,
		Memory:       raw.Attributes.Memory,
		Queue:        raw.Attributes.Queue,
	}
	r.ParentRecordID = raw.ParentRecordID
	return nil
}
