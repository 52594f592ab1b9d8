package main

import (
	"errors"
	"strconv"
	"strings"
)

type optionalString struct {
	set   bool
	value string
}

func (o *optionalString) String() string {
	return o.value
}

func (o *optionalString) Set(v string) error {
	o.set = true
	o.value = v
	return nil
}

type optionalInt struct {
	set   bool
	value int
}

func (o *optionalInt) String() string {
	if !o.set {
		return ""
	}
	return strconv.Itoa(o.value)
}

func (o *optionalInt) Set(v string) error {
	if v == "" {
		return errors.New("value required")
	}
	val, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	o.set = true
	o.value = val
	return nil
}

// stringList collects a repeated flag in order.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}
