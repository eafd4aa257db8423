package device

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidCommand = errors.New("invalid command")

// Sex as understood by the sensor firmware.
type Sex string

const (
	Male   Sex = "M"
	Female Sex = "F"
)

// Commands wraps the sensor's text command set.
type Commands struct {
	Device Device
}

// Start begins a measurement.
func (c Commands) Start() error { return c.Device.Send("start") }

// Retry re-sends the last measurement after a failed upload.
func (c Commands) Retry() error { return c.Device.Send("retry") }

func (c Commands) Status() error { return c.Device.Send("status") }

func (c Commands) Help() error { return c.Device.Send("help") }

// SetUser names the person being measured.
func (c Commands) SetUser(name string) error {
	return c.field("USER", name)
}

// SetTag labels the next session.
func (c Commands) SetTag(tag string) error {
	return c.field("TAG", tag)
}

func (c Commands) SetAge(age int) error {
	if age <= 0 || age > 150 {
		return fmt.Errorf("%w: age %d", ErrInvalidCommand, age)
	}
	return c.Device.Send(fmt.Sprintf("AGE:%d", age))
}

func (c Commands) SetSex(sex Sex) error {
	if sex != Male && sex != Female {
		return fmt.Errorf("%w: sex %q", ErrInvalidCommand, sex)
	}
	return c.Device.Send("SEX:" + string(sex))
}

func (c Commands) field(key, value string) error {
	value = strings.TrimSpace(value)
	if value == "" || strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("%w: %s %q", ErrInvalidCommand, key, value)
	}
	return c.Device.Send(key + ":" + value)
}
