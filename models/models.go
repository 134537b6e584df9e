package models

// Pair is a two-element JSON array, e.g. ["200502", "Anna Meier"] for a
// pupil list entry or ["FIRSTNAME", "Rufname"] for a field definition.
type Pair [2]string

// Key returns the first element (pupil id or field key)
func (p Pair) Key() string { return p[0] }

// Label returns the second element (display name or field label)
func (p Pair) Label() string { return p[1] }

// Record maps field keys to the values stored for one pupil
type Record map[string]string

// Dataset is the response of POST core/pupils
type Dataset struct {
	PupilList []Pair            `json:"pupilList"` // (pid, display name), in PSORT order
	PupilData map[string]Record `json:"pupilData"` // pid -> record
	Fields    []Pair            `json:"fields"`    // (field key, localized label)
}

// PupilsRequest is the body of POST core/pupils
type PupilsRequest struct {
	Year   int    `json:"year" binding:"required,gt=0"`
	Klass  string `json:"klass" binding:"required"`
	Stream string `json:"stream,omitempty"` // optional stream filter
	Date   string `json:"date,omitempty"`   // pupils who left before this date (YYYY-MM-DD) are skipped
}

// FormField is one rendered entry of the data-entry form
type FormField struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Pupil is a pupil as stored for one school year
type Pupil struct {
	ID     string `json:"pid"`
	Class  string `json:"class"`
	Fields Record `json:"fields"` // all field values, including PID and CLASS
}

// DisplayName returns the short name of a pupil: "FIRSTNAME LASTNAME"
func (p Pupil) DisplayName() string {
	return p.Fields["FIRSTNAME"] + " " + p.Fields["LASTNAME"]
}
