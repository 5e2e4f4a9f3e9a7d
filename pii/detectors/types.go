package pii

// DetectionType identifies what kind of personal data a detection item holds.
type DetectionType string

const (
	TypePhone         DetectionType = "phone"
	TypeEmail         DetectionType = "email"
	TypeBirth         DetectionType = "birth"
	TypeResident      DetectionType = "ssn"
	TypeAlienReg      DetectionType = "alien_reg"
	TypeDriverLicense DetectionType = "driver_license"
	TypePassport      DetectionType = "passport"
	TypeAccount       DetectionType = "account"
	TypeCard          DetectionType = "card"
	TypeIP            DetectionType = "ip"
	TypePerson        DetectionType = "PS"
	TypeOrg           DetectionType = "ORG"
	TypeLocation      DetectionType = "LC"
	TypeStudentID     DetectionType = "student_id"
	TypePosition      DetectionType = "position"
	TypeImageFace     DetectionType = "image_face"
	TypeParseError    DetectionType = "file_parse_error"
)

// Span marks where in the source text a detection was found.
// Offsets are byte positions into the original string.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// DetectionItem is a single piece of detected personal data.
// Status carries checksum results ("valid"/"invalid") where a validator
// applies; Span is nil for detections with no single source location,
// such as merged location fragments or image faces.
type DetectionItem struct {
	Type   DetectionType `json:"type"`
	Value  string        `json:"value"`
	Span   *Span         `json:"span,omitempty"`
	Status string        `json:"status,omitempty"`
}

// DetectorInput represents the input for model-based detection
type DetectorInput struct {
	Text string `json:"text"`
}

// DetectorOutput represents the raw output of model-based detection
type DetectorOutput struct {
	Text     string   `json:"text"`
	Entities []Entity `json:"entities"`
}

// Entity represents a detected entity before post-filtering
type Entity struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	StartPos   int     `json:"start_pos"`
	EndPos     int     `json:"end_pos"`
	Confidence float64 `json:"confidence"`
}
