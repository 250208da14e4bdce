package tag

import (
	"fmt"
	"strings"
	"time"
)

// Quality represents the reliability of a tag value, independent of the value itself
type Quality string

const (
	QualityGood      Quality = "GOOD"
	QualityUncertain Quality = "UNCERTAIN"
	QualityBad       Quality = "BAD"
	QualityStale     Quality = "STALE"
)

// Valid returns true if q is a known quality code
func (q Quality) Valid() bool {
	switch q {
	case QualityGood, QualityUncertain, QualityBad, QualityStale:
		return true
	}
	return false
}

// DataType represents the data type of a tag value
type DataType string

const (
	TypeBool    DataType = "BOOL"
	TypeInt16   DataType = "INT16"
	TypeInt32   DataType = "INT32"
	TypeFloat32 DataType = "FLOAT32"
	TypeFloat64 DataType = "FLOAT64"
	TypeString  DataType = "STRING"
)

// IsInteger returns true for integer types (values are rounded by the generator)
func (t DataType) IsInteger() bool {
	return t == TypeInt16 || t == TypeInt32
}

// AccessMode defines read/write access for a tag
type AccessMode string

const (
	AccessRead      AccessMode = "read"
	AccessWrite     AccessMode = "write"
	AccessReadWrite AccessMode = "readwrite"
)

// Writable returns true if the tag accepts writes
func (m AccessMode) Writable() bool {
	return m == AccessWrite || m == AccessReadWrite
}

// SimParams describes how the simulation generator produces values for a tag
type SimParams struct {
	Base            float64  `yaml:"base"`
	NoiseAmplitude  float64  `yaml:"noiseAmplitude,omitempty"`
	DriftRate       float64  `yaml:"driftRate,omitempty"`
	CorrelatedTags  []string `yaml:"correlatedTags,omitempty"`
	LoadFactor      bool     `yaml:"loadFactor,omitempty"`      // value scales with machine load
	StatusDependent bool     `yaml:"statusDependent,omitempty"` // decays when the machine is stopped
	AmbientValue    float64  `yaml:"ambientValue,omitempty"`    // idle value for status-dependent tags
}

// Thresholds holds optional alarm limits for a tag.
// Nil pointer = limit not configured.
type Thresholds struct {
	HiHi *float64 `yaml:"hiHi,omitempty"`
	Hi   *float64 `yaml:"hi,omitempty"`
	Lo   *float64 `yaml:"lo,omitempty"`
	LoLo *float64 `yaml:"loLo,omitempty"`
}

// Definition describes one tag from the catalog.
// Immutable after registry load.
type Definition struct {
	ID         string     `yaml:"id"` // convention: AREA.TYPE.INSTANCE.ATTRIBUTE
	Name       string     `yaml:"name,omitempty"`
	Units      string     `yaml:"units,omitempty"`
	DataType   DataType   `yaml:"dataType"`
	Access     AccessMode `yaml:"access"`
	EngLow     float64    `yaml:"engLow"`
	EngHigh    float64    `yaml:"engHigh"`
	Deadband   float64    `yaml:"deadband,omitempty"`
	Thresholds Thresholds `yaml:"thresholds,omitempty"`
	Machine    string     `yaml:"machine,omitempty"`
	Group      string     `yaml:"group,omitempty"`
	Sim        *SimParams `yaml:"sim,omitempty"`
	Critical   bool       `yaml:"critical,omitempty"` // machine criticality affects stopped-quality
}

// Range returns the engineering range span
func (d *Definition) Range() float64 {
	return d.EngHigh - d.EngLow
}

// Validate checks internal consistency of a definition
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("tag has empty id")
	}
	if strings.Count(d.ID, ".") < 1 {
		return fmt.Errorf("tag %s: id does not follow AREA.TYPE.INSTANCE.ATTRIBUTE convention", d.ID)
	}
	if d.EngHigh <= d.EngLow {
		return fmt.Errorf("tag %s: engHigh (%v) must be greater than engLow (%v)", d.ID, d.EngHigh, d.EngLow)
	}
	if d.Deadband < 0 {
		return fmt.Errorf("tag %s: deadband must be >= 0", d.ID)
	}
	t := d.Thresholds
	if t.HiHi != nil && t.Hi != nil && *t.HiHi <= *t.Hi {
		return fmt.Errorf("tag %s: hiHi (%v) must be greater than hi (%v)", d.ID, *t.HiHi, *t.Hi)
	}
	if t.Lo != nil && t.LoLo != nil && *t.Lo <= *t.LoLo {
		return fmt.Errorf("tag %s: lo (%v) must be greater than loLo (%v)", d.ID, *t.Lo, *t.LoLo)
	}
	return nil
}

// Value is one produced tag value. Transient: only sampled values survive in history.
type Value struct {
	TagID           string     `json:"tagId"`
	Value           float64    `json:"value"`
	Quality         Quality    `json:"quality"`
	Timestamp       time.Time  `json:"timestamp"`
	SourceTimestamp *time.Time `json:"sourceTimestamp,omitempty"`
}
