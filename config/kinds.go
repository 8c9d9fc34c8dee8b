// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"

	"github.com/sustainable-computing-io/uncorepmu/internal/pmu"
)

// Kinds is the set of uncore device kinds to register, one bit per pmu.Kind
type Kinds uint32

const (
	KindsL3C Kinds = 1 << iota
	KindsDMC

	KindsAll = KindsL3C | KindsDMC
)

var kindBits = []struct {
	bit  Kinds
	kind pmu.Kind
}{
	{KindsL3C, pmu.KindL3C},
	{KindsDMC, pmu.KindDMC},
}

// Has reports whether k is in the set
func (ks Kinds) Has(k pmu.Kind) bool {
	for _, b := range kindBits {
		if b.kind == k {
			return ks&b.bit != 0
		}
	}
	return false
}

// List returns the kinds in the set in discovery order
func (ks Kinds) List() []pmu.Kind {
	var kinds []pmu.Kind
	for _, b := range kindBits {
		if ks&b.bit != 0 {
			kinds = append(kinds, b.kind)
		}
	}
	return kinds
}

func (ks Kinds) names() []string {
	var names []string
	for _, k := range ks.List() {
		names = append(names, k.String())
	}
	return names
}

func (ks Kinds) String() string {
	return strings.Join(ks.names(), ",")
}

// ParseKinds parses kind names; an empty list selects all kinds
func ParseKinds(names []string) (Kinds, error) {
	if len(names) == 0 {
		return KindsAll, nil
	}

	var ks Kinds
	for _, name := range names {
		k, err := pmu.ParseKind(name)
		if err != nil {
			return 0, err
		}
		for _, b := range kindBits {
			if b.kind == k {
				ks |= b.bit
			}
		}
	}
	return ks, nil
}

// MarshalYAML implements yaml.Marshaler
func (ks Kinds) MarshalYAML() (any, error) {
	return ks.names(), nil
}

// UnmarshalYAML accepts a single kind or a list of kinds
func (ks *Kinds) UnmarshalYAML(unmarshal func(any) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		parsed, err := ParseKinds([]string{single})
		if err != nil {
			return err
		}
		*ks = parsed
		return nil
	}

	var multiple []string
	if err := unmarshal(&multiple); err != nil {
		return fmt.Errorf("cannot unmarshal device kinds: must be a string or array of strings")
	}
	parsed, err := ParseKinds(multiple)
	if err != nil {
		return err
	}
	*ks = parsed
	return nil
}

// KindsValue is a cumulative kingpin.Value collecting --pmu.kind flags
type KindsValue struct {
	kinds *Kinds
	set   bool
}

func NewKindsValue(target *Kinds) *KindsValue {
	return &KindsValue{kinds: target}
}

// Set adds one kind; the first call replaces the default set
func (v *KindsValue) Set(value string) error {
	k, err := ParseKinds([]string{value})
	if err != nil {
		return err
	}
	if !v.set {
		*v.kinds = 0
		v.set = true
	}
	*v.kinds |= k
	return nil
}

func (v *KindsValue) String() string {
	return v.kinds.String()
}

func (v *KindsValue) IsCumulative() bool {
	return true
}
