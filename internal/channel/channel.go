// Package channel maps sensor channel names and their aliases to the fixed
// set of channels the system records.
package channel

import (
	"errors"
	"fmt"
	"strings"
)

type Channel string

const (
	PH          Channel = "ph"
	Temperature Channel = "temperature"
	Weight      Channel = "weight"
	Outside     Channel = "outside"
)

var ErrUnknownChannel = errors.New("unknown channel")

var aliases = map[string]Channel{
	"ph":          PH,
	"temperature": Temperature,
	"temp":        Temperature,
	"weight":      Weight,
	"outside":     Outside,
}

// Resolve returns the channel for a name or alias, case-insensitively.
func Resolve(name string) (Channel, error) {
	const fn = "Channel:Resolve"
	c, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%s:%w: %q", fn, ErrUnknownChannel, name)
	}
	return c, nil
}

// All returns every known channel in declaration order.
func All() []Channel {
	return []Channel{PH, Temperature, Weight, Outside}
}

func (c Channel) String() string {
	return string(c)
}
