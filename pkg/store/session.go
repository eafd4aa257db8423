package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session is one recording in the hrv_sessions table.
type Session struct {
	ID             string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	CreatedAt      time.Time `gorm:"column:created_at;index" json:"created_at"`
	DeviceID       string    `gorm:"column:device_id" json:"device_id"`
	UserName       string    `gorm:"column:user_name" json:"user_name"`
	SamplingRateHz float64   `gorm:"column:sampling_rate_hz" json:"sampling_rate_hz"`
	IRWaveform     Waveform  `gorm:"column:ir_waveform;type:text" json:"-"`
}

func (Session) TableName() string { return "hrv_sessions" }

// BeforeCreate assigns a random UUID to sessions created without one.
func (s *Session) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// ShortID is the id prefix used in file names.
func (s *Session) ShortID() string {
	if len(s.ID) > 8 {
		return s.ID[:8]
	}
	return s.ID
}

// Label is a human readable one-line description with the annotation status.
func (s *Session) Label(status Status) string {
	return fmt.Sprintf("%s %s - %s (%s)", status.Mark(), s.DeviceID, s.UserName, s.CreatedAt.Format("2006-01-02 15:04"))
}

// Duration of the waveform in seconds.
func (s *Session) Duration() float64 {
	if s.SamplingRateHz <= 0 {
		return 0
	}
	return float64(len(s.IRWaveform)) / s.SamplingRateHz
}

var ErrWaveform = errors.New("unsupported waveform encoding")

// Waveform is a sample array stored either as a JSON array or a Postgres array
// literal. Values are written as JSON.
type Waveform []float64

// Scan implements sql.Scanner.
func (w *Waveform) Scan(value any) error {
	var text string
	switch v := value.(type) {
	case nil:
		*w = nil
		return nil
	case []byte:
		text = string(v)
	case string:
		text = v
	default:
		return fmt.Errorf("%w: %T", ErrWaveform, value)
	}
	out, err := ParseWaveform(text)
	if err != nil {
		return err
	}
	*w = out
	return nil
}

// Value implements driver.Valuer.
func (w Waveform) Value() (driver.Value, error) {
	if w == nil {
		return nil, nil
	}
	b, err := json.Marshal([]float64(w))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// ParseWaveform decodes "[1, 2.5, ...]" or "{1,2.5,...}". NULL elements of an
// array literal become NaN.
func ParseWaveform(text string) (Waveform, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return Waveform{}, nil
	case strings.HasPrefix(text, "["):
		var out []float64
		if err := json.Unmarshal([]byte(text), &out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWaveform, err)
		}
		return out, nil
	case strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}"):
		body := strings.TrimSpace(text[1 : len(text)-1])
		if body == "" {
			return Waveform{}, nil
		}
		parts := strings.Split(body, ",")
		out := make(Waveform, len(parts))
		for i, p := range parts {
			p = strings.TrimSpace(p)
			if strings.EqualFold(p, "NULL") {
				out[i] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: element %d: %v", ErrWaveform, i, err)
			}
			out[i] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %.16q", ErrWaveform, text)
}
